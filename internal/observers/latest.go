package observers

import (
	"sync"

	"github.com/cjeanneret/RollGo/internal/hw/camera"
)

// Latest keeps the most recent frame, replacing it on every delivery.
type Latest struct {
	mu    sync.RWMutex
	frame camera.Frame
	ok    bool
}

// NewLatest returns an empty single-slot store.
func NewLatest() *Latest {
	return &Latest{}
}

func (l *Latest) OnFrame(f camera.Frame) error {
	l.mu.Lock()
	l.frame = f
	l.ok = true
	l.mu.Unlock()
	return nil
}

// Get returns the last frame received, if any.
func (l *Latest) Get() (camera.Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame, l.ok
}

// Reset forgets the stored frame.
func (l *Latest) Reset() {
	l.mu.Lock()
	l.frame = camera.Frame{}
	l.ok = false
	l.mu.Unlock()
}
