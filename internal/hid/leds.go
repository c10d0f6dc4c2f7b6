// Package hid decodes the LED output report of a USB HID boot
// keyboard.
package hid

// LEDState is the LED bitmask from a HID keyboard output report
// (HID usage page 0x08, report bits in standard boot protocol order).
type LEDState uint8

const (
	LEDNumLock LEDState = 1 << iota
	LEDCapsLock
	LEDScrollLock
	LEDCompose
	LEDKana
)

func (s LEDState) NumLock() bool    { return s&LEDNumLock != 0 }
func (s LEDState) CapsLock() bool   { return s&LEDCapsLock != 0 }
func (s LEDState) ScrollLock() bool { return s&LEDScrollLock != 0 }
func (s LEDState) Compose() bool    { return s&LEDCompose != 0 }
func (s LEDState) Kana() bool       { return s&LEDKana != 0 }
