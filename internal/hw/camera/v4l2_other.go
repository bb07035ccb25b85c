//go:build !linux

package camera

import (
	"errors"
	"time"
)

// V4L2 is only available on Linux; elsewhere Open always fails.
type V4L2 struct {
	path string
}

func NewV4L2(path string, _, _ int, _ time.Duration) *V4L2 {
	return &V4L2{path: path}
}

func (v *V4L2) Open() error             { return errors.New("v4l2: not supported on this platform") }
func (v *V4L2) IsOpen() bool            { return false }
func (v *V4L2) Capture() (Frame, error) { return Frame{}, ErrNotOpen }
func (v *V4L2) Close() error            { return nil }
