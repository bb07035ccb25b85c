package camera

import (
	"fmt"
	"time"

	"github.com/cjeanneret/RollGo/internal/hw/gpio"
)

// Supported device types, as written in the configuration file.
const (
	TypeSynthetic    = "synthetic"
	TypeV4L2         = "v4l2"
	TypeNikonD90GPIO = "nikon_d90_gpio"
)

// Types lists every supported device type.
var Types = []string{TypeSynthetic, TypeV4L2, TypeNikonD90GPIO}

// KnownType reports whether t names a supported device type.
func KnownType(t string) bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Options selects and configures a Device.
type Options struct {
	Type   string
	Width  int
	Height int

	// v4l2
	Path        string
	ReadTimeout time.Duration

	// nikon_d90_gpio
	GPIO         gpio.Driver
	FocusPin     int
	ShutterPin   int
	FocusDelay   time.Duration
	ShutterDelay time.Duration
}

// New builds the device described by o. The device is not opened.
func New(o Options) (Device, error) {
	switch o.Type {
	case TypeSynthetic:
		return NewSynthetic(o.Width, o.Height), nil
	case TypeV4L2:
		if o.Path == "" {
			return nil, fmt.Errorf("camera: v4l2 needs a device path")
		}
		return NewV4L2(o.Path, o.Width, o.Height, o.ReadTimeout), nil
	case TypeNikonD90GPIO:
		if o.GPIO == nil {
			return nil, fmt.Errorf("camera: %s needs a GPIO driver", o.Type)
		}
		return NewNikonD90GPIO(o.GPIO, o.FocusPin, o.ShutterPin, o.FocusDelay, o.ShutterDelay), nil
	default:
		return nil, fmt.Errorf("camera: unsupported type %q", o.Type)
	}
}
