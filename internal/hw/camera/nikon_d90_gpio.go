package camera

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/RollGo/internal/debug"
	"github.com/cjeanneret/RollGo/internal/hw/gpio"
)

// NikonD90GPIO is a Device for a Nikon D90 controlled via the 3-pin
// remote connector:
// - GND: connected to Raspberry Pi ground
// - FOCUS: autofocus (activate by setting to LOW)
// - SHUTTER: trigger (activate by setting to LOW)
//
// The picture is written to the camera's own card, so captured frames
// carry timing metadata only (FormatNone).
type NikonD90GPIO struct {
	gpio         gpio.Driver
	focusPin     int
	shutterPin   int
	focusDelay   time.Duration // time for autofocus
	shutterDelay time.Duration // shutter hold time
	width        int
	height       int

	mu   sync.Mutex
	open bool
}

// NewNikonD90GPIO creates a GPIO-controlled Nikon D90 trigger.
// Pins are not touched until Open.
func NewNikonD90GPIO(g gpio.Driver, focusPin, shutterPin int, focusDelay, shutterDelay time.Duration) *NikonD90GPIO {
	return &NikonD90GPIO{
		gpio:         g,
		focusPin:     focusPin,
		shutterPin:   shutterPin,
		focusDelay:   focusDelay,
		shutterDelay: shutterDelay,
		width:        4288,
		height:       2848,
	}
}

// Open configures both lines as outputs, idle HIGH.
func (n *NikonD90GPIO) Open() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.open {
		return nil
	}
	if n.gpio == nil {
		return fmt.Errorf("nikon d90: no GPIO driver")
	}
	for _, pin := range []int{n.focusPin, n.shutterPin} {
		if err := n.gpio.SetupPin(pin, gpio.Output); err != nil {
			return fmt.Errorf("nikon d90: setup pin %d: %w", pin, err)
		}
		if err := n.gpio.WritePin(pin, gpio.High); err != nil {
			return fmt.Errorf("nikon d90: release pin %d: %w", pin, err)
		}
	}
	n.open = true
	return nil
}

func (n *NikonD90GPIO) IsOpen() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.open
}

// Capture triggers a photo on the D90.
// Sequence: FOCUS -> wait for AF -> SHUTTER -> hold -> release
func (n *NikonD90GPIO) Capture() (Frame, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.open {
		return Frame{}, ErrNotOpen
	}
	debug.Printf("Camera: triggering shot (focus=%d, shutter=%d)", n.focusPin, n.shutterPin)

	if err := n.gpio.WritePin(n.focusPin, gpio.Low); err != nil {
		return Frame{}, err
	}
	time.Sleep(n.focusDelay)

	if err := n.gpio.WritePin(n.shutterPin, gpio.Low); err != nil {
		// Release FOCUS on error
		_ = n.gpio.WritePin(n.focusPin, gpio.High)
		return Frame{}, err
	}
	at := time.Now()
	time.Sleep(n.shutterDelay)

	if err := n.gpio.WritePin(n.shutterPin, gpio.High); err != nil {
		return Frame{}, err
	}
	if err := n.gpio.WritePin(n.focusPin, gpio.High); err != nil {
		return Frame{}, err
	}

	debug.Trace("Camera: shot triggered successfully")
	return Frame{
		CapturedAt: at,
		Width:      n.width,
		Height:     n.height,
		Format:     FormatNone,
	}, nil
}

// Close drives both lines back to HIGH. The GPIO driver itself is owned
// by the caller.
func (n *NikonD90GPIO) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.open {
		return nil
	}
	n.open = false
	_ = n.gpio.WritePin(n.shutterPin, gpio.High)
	return n.gpio.WritePin(n.focusPin, gpio.High)
}
