package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/RollGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
// Capture ticks and shutdown may touch pins from different goroutines,
// so the pin table is guarded.
type RPiDriver struct {
	mu     sync.Mutex
	pins   map[int]rpio.Pin
	closed bool
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins: make(map[int]rpio.Pin),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setupLocked(pin, mode)
}

func (r *RPiDriver) setupLocked(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	if r.closed {
		return ErrClosed
	}

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
	r.pins[pin] = p
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as output
		if err := r.setupLocked(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}
	if r.closed {
		return ErrClosed
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.GPIO("ReadPin", pin, nil)

	p, ok := r.pins[pin]
	if !ok {
		if err := r.setupLocked(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}
	if r.closed {
		return Low, ErrClosed
	}

	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

// Close resets every used pin to input (safe state) and unmaps GPIO memory.
func (r *RPiDriver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	debug.Trace("GPIO Close (real driver)")

	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}
	r.closed = true
	return rpio.Close()
}
