package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"
)

// Synthetic renders a moving test pattern and encodes it as JPEG.
// It stands in for real hardware on development machines.
type Synthetic struct {
	width   int
	height  int
	quality int

	mu     sync.Mutex
	open   bool
	frames int
}

// NewSynthetic returns a generator producing width x height frames.
func NewSynthetic(width, height int) *Synthetic {
	return &Synthetic{width: width, height: height, quality: 75}
}

func (s *Synthetic) Open() error {
	if s.width <= 0 || s.height <= 0 {
		return fmt.Errorf("synthetic: invalid size %dx%d", s.width, s.height)
	}
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	return nil
}

func (s *Synthetic) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Synthetic) Capture() (Frame, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return Frame{}, ErrNotOpen
	}
	n := s.frames
	s.frames++
	s.mu.Unlock()

	img := image.NewGray(image.Rect(0, 0, s.width, s.height))
	bar := (n * 8) % s.width
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			v := uint8(x * 255 / s.width)
			if x >= bar && x < bar+8 {
				v = 255 - v
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return Frame{}, fmt.Errorf("synthetic: encode: %w", err)
	}
	return Frame{
		CapturedAt: time.Now(),
		Width:      s.width,
		Height:     s.height,
		Format:     FormatJPEG,
		Data:       buf.Bytes(),
	}, nil
}

func (s *Synthetic) Close() error {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	return nil
}
