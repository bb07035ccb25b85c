package gpio

import (
	"errors"
	"sync"

	"github.com/cjeanneret/RollGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// ErrClosed is returned by drivers after Close.
var ErrClosed = errors.New("gpio: driver closed")

// Driver defines the abstract interface for controlling GPIOs.
// The GPIO-triggered camera drives its remote release lines through it,
// either on a Raspberry Pi or through a mock on a development machine.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// MockDriver keeps pin levels in memory and logs every access.
// Used for development on PC or testing.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
	closed bool
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	}
	return NewRPiRealDriver()
}

// NewMockDriver returns an in-memory driver with every pin LOW.
func NewMockDriver() *MockDriver {
	return &MockDriver{levels: make(map[int]Level)}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.levels[pin]; !ok {
		m.levels[pin] = Low
	}
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Low, ErrClosed
	}
	return m.levels[pin], nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
