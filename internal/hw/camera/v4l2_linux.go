//go:build linux

package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blackjack/webcam"

	"github.com/cjeanneret/RollGo/internal/debug"
)

const (
	pixFmtMJPEG webcam.PixelFormat = 0x47504A4D // 'MJPG'
	pixFmtYUYV  webcam.PixelFormat = 0x56595559 // 'YUYV'
)

// V4L2 captures single frames from a Linux video device such as /dev/video0.
type V4L2 struct {
	path        string
	width       int
	height      int
	readTimeout time.Duration

	mu     sync.Mutex
	cam    *webcam.Webcam
	format Format
}

// NewV4L2 returns a device for path. The requested size is negotiated on Open;
// the driver may pick the closest supported one.
func NewV4L2(path string, width, height int, readTimeout time.Duration) *V4L2 {
	if readTimeout <= 0 {
		readTimeout = 2 * time.Second
	}
	return &V4L2{path: path, width: width, height: height, readTimeout: readTimeout}
}

func (v *V4L2) Open() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cam != nil {
		return nil
	}

	cam, err := webcam.Open(v.path)
	if err != nil {
		return fmt.Errorf("v4l2: open %s: %w", v.path, err)
	}

	supported := cam.GetSupportedFormats()
	pf, format := pixFmtMJPEG, FormatJPEG
	if _, ok := supported[pixFmtMJPEG]; !ok {
		if _, ok := supported[pixFmtYUYV]; !ok {
			cam.Close()
			return fmt.Errorf("v4l2: %s supports neither MJPEG nor YUYV", v.path)
		}
		pf, format = pixFmtYUYV, FormatYUYV
	}

	_, w, h, err := cam.SetImageFormat(pf, uint32(v.width), uint32(v.height))
	if err != nil {
		cam.Close()
		return fmt.Errorf("v4l2: set format: %w", err)
	}
	if int(w) != v.width || int(h) != v.height {
		debug.Warn("v4l2: requested %dx%d, device uses %dx%d", v.width, v.height, w, h)
		v.width, v.height = int(w), int(h)
	}

	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return fmt.Errorf("v4l2: start streaming: %w", err)
	}

	v.cam = cam
	v.format = format
	return nil
}

func (v *V4L2) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cam != nil
}

func (v *V4L2) Capture() (Frame, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cam == nil {
		return Frame{}, ErrNotOpen
	}

	secs := uint32(v.readTimeout / time.Second)
	if secs == 0 {
		secs = 1
	}
	if err := v.cam.WaitForFrame(secs); err != nil {
		var timeout *webcam.Timeout
		if errors.As(err, &timeout) {
			return Frame{}, fmt.Errorf("%w: timeout after %ds", ErrNoFrame, secs)
		}
		return Frame{}, fmt.Errorf("v4l2: wait: %w", err)
	}

	buf, err := v.cam.ReadFrame()
	if err != nil {
		return Frame{}, fmt.Errorf("v4l2: read: %w", err)
	}
	if len(buf) == 0 {
		return Frame{}, ErrNoFrame
	}
	debug.Trace("v4l2: read %d bytes", len(buf))

	// ReadFrame hands out the mmap'd buffer; it is reused by the next read.
	data := make([]byte, len(buf))
	copy(data, buf)

	return Frame{
		CapturedAt: time.Now(),
		Width:      v.width,
		Height:     v.height,
		Format:     v.format,
		Data:       data,
	}, nil
}

func (v *V4L2) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cam == nil {
		return nil
	}
	cam := v.cam
	v.cam = nil
	if err := cam.StopStreaming(); err != nil {
		cam.Close()
		return fmt.Errorf("v4l2: stop streaming: %w", err)
	}
	return cam.Close()
}
