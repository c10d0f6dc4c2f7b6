// Package lighting drives the Anne Pro keyboard's auxiliary lighting
// controller chip over its UART link. The Controller owns the chip's
// power state, composes the fixed-format command packets, and pushes
// them through an asynchronous transmit queue so the chip is only kept
// awake while the backlight or the capslock indicator needs it.
package lighting

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anne-pro-tools/aplights/internal/hid"
	"github.com/anne-pro-tools/aplights/internal/logging"
	"github.com/anne-pro-tools/aplights/internal/metric"
	"github.com/anne-pro-tools/aplights/internal/txring"
)

var (
	logger = logging.New("lighting")

	commandsEnqueued = metric.Counter("lighting", "commands_enqueued_total")
	queueOverflows   = metric.Counter("lighting", "queue_overflows_total")
)

// Pin is a digital output controlling power to the lighting chip.
type Pin interface {
	SetHigh() error
	SetLow() error
}

// KeyEvent is a single key press or release at a matrix position.
type KeyEvent struct {
	Row     uint8
	Col     uint8
	Pressed bool
}

const (
	// MatrixRows and MatrixCols describe the Anne Pro key matrix.
	MatrixRows = 5
	MatrixCols = 14

	// ModeOff deactivates the backlight.
	ModeOff = 0

	// MaxBrightness is the highest brightness level the chip accepts.
	MaxBrightness = 10

	// DefaultSettleDelay is how long the chip needs after power-up
	// before it accepts commands.
	DefaultSettleDelay = 50 * time.Millisecond

	// maxColorKeys keeps the packet length byte of a per-key color
	// command within range.
	maxColorKeys = 50

	// 3 header bytes plus a 72-bit bitmap covering the key matrix.
	keystateLen = 12
)

// ErrPayloadSize is returned by SetKeyColors when the payload length
// does not match the key count.
var ErrPayloadSize = errors.New("lighting: payload length must be 5 bytes per key")

// Config carries the collaborators of a Controller.
type Config struct {
	// Pin powers the lighting chip.
	Pin Pin
	// Queue buffers command bytes for the chip's UART.
	Queue *txring.Ring
	// SettleDelay is the wait after asserting power before the first
	// command. Zero means no wait; production should use
	// DefaultSettleDelay.
	SettleDelay time.Duration
}

// Controller owns the lighting chip's state. All methods are safe for
// concurrent use; command emission while the chip is asleep is
// suppressed, since a powered-down chip would never see the bytes.
type Controller struct {
	pin    Pin
	queue  *txring.Ring
	settle time.Duration

	mu              sync.Mutex
	awake           bool
	backlightActive bool
	capslockActive  bool
	keystate        [keystateLen]byte
}

// New returns a Controller with the chip powered down.
func New(cfg Config) *Controller {
	c := &Controller{
		pin:      cfg.Pin,
		queue:    cfg.Queue,
		settle:   cfg.SettleDelay,
		keystate: [keystateLen]byte{0x09, 0x0a, 0x07, 0x00},
	}
	if err := c.pin.SetLow(); err != nil {
		logger.With(zap.Error(err)).Error("Failed to deassert power pin")
	}
	return c
}

// On wakes the lighting chip. It asserts the power pin, waits the
// settle delay and marks the chip awake. No-op when already awake.
// The lock is held across the settle delay so no command can be
// queued before the chip is ready.
func (c *Controller) On() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wake()
}

// Off sleeps the lighting chip by cutting its power. Queued bytes stay
// queued; emission resumes after the next On.
func (c *Controller) Off() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleep()
}

// Toggle turns the backlight on (resuming the last mode) or off.
func (c *Controller) Toggle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.backlightActive {
		c.wake()
		return c.modeLast()
	}
	return c.setMode(ModeOff)
}

// SetMode selects the lighting mode; ModeOff deactivates the
// backlight. While asleep the command is skipped, but ModeOff still
// clears the backlight state so the chip can be slept by Update.
func (c *Controller) SetMode(mode uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setMode(mode)
}

// ModeLast resumes the mode active before the chip last slept.
func (c *Controller) ModeLast() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.awake {
		return nil
	}
	return c.modeLast()
}

// ModeNext advances to the next lighting mode. The command is flushed
// on the next Update tick.
func (c *Controller) ModeNext() error {
	return c.backlightCommand(cmdModeNext)
}

// RateNext advances to the next effect rate. Flushed on the next
// Update tick.
func (c *Controller) RateNext() error {
	return c.backlightCommand(cmdRateNext)
}

// BrightnessNext advances to the next brightness level. Flushed on the
// next Update tick.
func (c *Controller) BrightnessNext() error {
	return c.backlightCommand(cmdBrightnessNext)
}

// RateBrightness sets the effect rate and brightness. Brightness is
// clamped to MaxBrightness.
func (c *Controller) RateBrightness(rate, brightness uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.backlightActive {
		return nil
	}
	if brightness > MaxBrightness {
		brightness = MaxBrightness
	}
	return c.send(cmdRateBrightness(rate, brightness), true)
}

// SetKeyColors sets individual key colors. The payload carries 5 bytes
// per key (key index and color); it is flushed on the next Update
// tick. Activates the backlight.
func (c *Controller) SetKeyColors(keys uint8, payload []byte) error {
	if keys > maxColorKeys {
		return fmt.Errorf("lighting: at most %d keys per color command, got %d", maxColorKeys, keys)
	}
	if len(payload) != 5*int(keys) {
		return ErrPayloadSize
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.awake {
		return nil
	}
	// Reject up front so a partial packet never reaches the queue.
	if c.queue.Free() < len(payload)+5 {
		queueOverflows.Inc()
		return txring.ErrOverflow
	}
	if err := c.send(cmdKeyColorsHeader(keys), false); err != nil {
		return err
	}
	if err := c.send(payload, false); err != nil {
		return err
	}
	c.backlightActive = true
	return nil
}

// UpdateDynamic folds a key event into the keystate bitmap and sends
// the updated bitmap to the chip, driving reactive lighting modes.
// Events are ignored while the backlight is inactive or when the
// position falls outside the matrix.
func (c *Controller) UpdateDynamic(ev KeyEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.backlightActive {
		return nil
	}
	if ev.Row >= MatrixRows || ev.Col >= MatrixCols {
		return nil
	}
	position := int(ev.Row)*MatrixCols + int(ev.Col)
	index := position / 8
	bit := uint(position % 8)
	if ev.Pressed {
		c.keystate[3+index] |= 1 << bit
	} else {
		c.keystate[3+index] &^= 1 << bit
	}
	return c.send(c.keystate[:], true)
}

// Update runs the periodic maintenance pass and should be called every
// matrix scan tick. It kicks the transmit queue if bytes are pending
// and sleeps the chip when neither the backlight nor the capslock
// indicator is in use.
func (c *Controller) Update() {
	if !c.queue.Empty() {
		c.queue.StartTransmission()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	userActive := c.backlightActive || c.capslockActive
	if c.awake && !userActive {
		c.sleep()
	}
}

// HandleLEDState applies the host's HID LED report. Capslock going on
// wakes the chip and lights the indicator; capslock going off clears
// the indicator and lets Update sleep the chip when nothing else is
// active.
func (c *Controller) HandleLEDState(s hid.LEDState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.CapsLock() {
		c.capslockActive = true
		c.wake()
		return c.send(cmdCapsOn, true)
	}
	if c.awake {
		if err := c.send(cmdCapsOff, true); err != nil {
			return err
		}
	}
	c.capslockActive = false
	return nil
}

// Drain kicks the transmit queue until it empties or the timeout
// expires, reporting whether everything reached the wire. Call before
// cutting power so queued commands are not lost with the chip.
func (c *Controller) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !c.queue.Empty() {
		if time.Now().After(deadline) {
			logger.With(zap.Int("pending", c.queue.Pending())).Warn("Transmit queue did not drain")
			return false
		}
		c.queue.StartTransmission()
		time.Sleep(time.Millisecond)
	}
	return true
}

// Enabled reports whether the backlight is active.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backlightActive
}

// Awake reports whether the lighting chip is powered.
func (c *Controller) Awake() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awake
}

// wake powers the chip and waits for it to settle. Lock held.
func (c *Controller) wake() {
	if c.awake {
		return
	}
	if err := c.pin.SetHigh(); err != nil {
		logger.With(zap.Error(err)).Error("Failed to assert power pin")
	}
	if c.settle > 0 {
		time.Sleep(c.settle)
	}
	c.awake = true
}

// sleep cuts power to the chip. Lock held.
func (c *Controller) sleep() {
	if err := c.pin.SetLow(); err != nil {
		logger.With(zap.Error(err)).Error("Failed to deassert power pin")
	}
	c.awake = false
}

func (c *Controller) setMode(mode uint8) error {
	if !c.awake {
		if mode == ModeOff {
			c.backlightActive = false
		}
		return nil
	}
	if err := c.send(cmdSetMode(mode), true); err != nil {
		return err
	}
	c.backlightActive = mode != ModeOff
	return nil
}

func (c *Controller) modeLast() error {
	if err := c.send(cmdModeLast, true); err != nil {
		return err
	}
	c.backlightActive = true
	return nil
}

// backlightCommand enqueues p only while the backlight is active. The
// bytes ride along on the next kicked transmission or Update tick.
func (c *Controller) backlightCommand(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.backlightActive {
		return nil
	}
	return c.send(p, false)
}

// send enqueues p and optionally kicks the transmitter. Lock held.
func (c *Controller) send(p []byte, kick bool) error {
	if err := c.queue.Write(p); err != nil {
		queueOverflows.Inc()
		logger.With(zap.Error(err), zap.Int("len", len(p))).Warn("Dropping command, transmit queue full")
		return err
	}
	commandsEnqueued.Inc()
	if kick {
		c.queue.StartTransmission()
	}
	return nil
}
