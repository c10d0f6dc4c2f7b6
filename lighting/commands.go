package lighting

// Command packets for the lighting chip's UART protocol. Every packet
// opens with 0x09 followed by the payload length and a command id.
var (
	cmdCapsOn   = []byte{0x09, 0x02, 0x0c, 0x01}
	cmdCapsOff  = []byte{0x09, 0x02, 0x0c, 0x00}
	cmdModeLast = []byte{0x09, 0x01, 0x01}

	cmdRateNext       = []byte{0x09, 0x04, 0x05, 0x00, 0x01, 0x00}
	cmdBrightnessNext = []byte{0x09, 0x04, 0x05, 0x00, 0x00, 0x01}
	cmdModeNext       = []byte{0x09, 0x04, 0x05, 0x01, 0x00, 0x00}
)

func cmdSetMode(mode uint8) []byte {
	return []byte{0x09, 0x02, 0x01, mode}
}

func cmdRateBrightness(rate, brightness uint8) []byte {
	return []byte{0x09, 0x04, 0x02, rate, brightness, 0x00}
}

// cmdKeyColorsHeader precedes a 5*keys byte payload of key/color
// records. The length byte caps keys at 50 (3+5*50 = 253).
func cmdKeyColorsHeader(keys uint8) []byte {
	return []byte{0x09, 3 + 5*keys, 0x0b, 0xca, keys}
}
