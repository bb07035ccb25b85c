package camera

import (
	"errors"
	"time"
)

// Format describes how Frame.Data is encoded.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatYUYV Format = "yuyv"
	// FormatNone marks frames whose image stays on the device
	// (e.g. a DSLR writing to its own memory card).
	FormatNone Format = "none"
)

// Extension returns the file extension used when persisting the format.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatYUYV:
		return "yuv"
	default:
		return "raw"
	}
}

var (
	// ErrNotOpen is returned by Capture before a successful Open or after Close.
	ErrNotOpen = errors.New("camera: device not open")

	// ErrNoFrame is returned when the device produced no image for a capture.
	ErrNoFrame = errors.New("camera: no frame")
)

// Frame is one captured image. Seq and Session are filled in by the
// rolling controller; devices only set the capture fields.
type Frame struct {
	Seq        uint64
	Session    string
	CapturedAt time.Time
	Width      int
	Height     int
	Format     Format
	Data       []byte
}

// Device is the capture capability used by the rest of the application.
// It represents an abstract "camera", regardless of how it's controlled
// (GPIO remote release, V4L2, generated test pattern, etc.).
type Device interface {
	// Open connects to the hardware. A failed Open is final for the caller.
	Open() error
	// IsOpen reports whether Open succeeded and Close was not called.
	IsOpen() bool
	// Capture synchronously produces a single frame.
	Capture() (Frame, error)
	// Close releases the hardware. Calling it twice is safe.
	Close() error
}
