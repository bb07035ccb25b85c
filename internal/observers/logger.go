// Package observers holds ready-made frame observers for the rolling
// controller.
package observers

import (
	"fmt"
	"io"
	"sync"

	"github.com/cjeanneret/RollGo/internal/debug"
	"github.com/cjeanneret/RollGo/internal/hw/camera"
)

// Logger reports every frame it receives, one line per frame.
// With a nil writer the line goes to the debug log instead.
type Logger struct {
	name string

	mu sync.Mutex
	w  io.Writer
}

// NewLogger returns a named logging observer writing to w.
func NewLogger(name string, w io.Writer) *Logger {
	return &Logger{name: name, w: w}
}

// Name returns the observer's name.
func (l *Logger) Name() string { return l.name }

func (l *Logger) OnFrame(f camera.Frame) error {
	if l.w == nil {
		debug.Live("%s received frame #%d (%d bytes)", l.name, f.Seq, len(f.Data))
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.w, "%s received frame #%d (%s, %d bytes)\n",
		l.name, f.Seq, f.CapturedAt.Format("15:04:05.000"), len(f.Data))
	return err
}
