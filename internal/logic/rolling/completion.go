package rolling

import (
	"context"
	"time"
)

// Summary describes a finished rolling session.
type Summary struct {
	Session string    `json:"session"`
	Started time.Time `json:"started"`
	Stopped time.Time `json:"stopped"`
	Frames  uint64    `json:"frames"`
}

// completion is a single-slot signal: a Signal with nobody waiting is kept
// until the next Wait, and a newer Signal replaces an unconsumed one.
type completion struct {
	ch chan Summary
}

func newCompletion() *completion {
	return &completion{ch: make(chan Summary, 1)}
}

func (c *completion) signal(s Summary) {
	for {
		select {
		case c.ch <- s:
			return
		default:
		}
		// Slot taken by an unconsumed summary: drop it, latest wins.
		select {
		case <-c.ch:
		default:
		}
	}
}

func (c *completion) wait(ctx context.Context) (Summary, error) {
	select {
	case s := <-c.ch:
		return s, nil
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}
