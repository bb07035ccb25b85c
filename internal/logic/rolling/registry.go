package rolling

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/RollGo/internal/debug"
	"github.com/cjeanneret/RollGo/internal/hw/camera"
)

// Observer receives every frame captured while the device is rolling.
// OnFrame is called synchronously on the capture goroutine; it must not
// block indefinitely. A returned error is reported but does not stop the
// delivery to the remaining observers.
//
// Observers are identified by value equality, so use pointer types.
type Observer interface {
	OnFrame(frame camera.Frame) error
}

type entry struct {
	observer Observer
	detached atomic.Bool
}

// Registry is an ordered set of observers. Notify delivers in attach order.
//
// Membership is copy-on-write: Notify walks the slice it read on entry, so
// observers may Attach or Detach (themselves included) from OnFrame.
type Registry struct {
	mu      sync.Mutex
	entries []*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// checkObserver rejects observers that cannot be told apart by ==.
// The dynamic value is checked, so a struct holding a slice in an
// interface field is refused too.
func checkObserver(o Observer) error {
	if o == nil {
		return fmt.Errorf("%w: nil observer", ErrInvalidObserver)
	}
	if !reflect.ValueOf(o).Comparable() {
		return fmt.Errorf("%w: observer %T is not comparable, use a pointer", ErrInvalidObserver, o)
	}
	return nil
}

// Attach appends o. It returns false when o is nil, not comparable, or
// already attached.
func (r *Registry) Attach(o Observer) bool {
	if err := checkObserver(o); err != nil {
		debug.Warn("registry: %v", err)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.observer == o {
			return false
		}
	}
	next := make([]*entry, len(r.entries), len(r.entries)+1)
	copy(next, r.entries)
	r.entries = append(next, &entry{observer: o})
	return true
}

// Detach removes o. Once Detach returns, o is not offered any frame whose
// delivery to it had not already begun. Returns false if o was not attached.
func (r *Registry) Detach(o Observer) bool {
	if checkObserver(o) != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.observer != o {
			continue
		}
		e.detached.Store(true)
		next := make([]*entry, 0, len(r.entries)-1)
		next = append(next, r.entries[:i]...)
		r.entries = append(next, r.entries[i+1:]...)
		return true
	}
	return false
}

// Clear detaches every observer.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.detached.Store(true)
	}
	r.entries = nil
}

// Len returns the number of attached observers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Observers returns the attached observers in attach order.
func (r *Registry) Observers() []Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Observer, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.observer
	}
	return out
}

// Notify offers frame to every attached observer, in attach order, and
// returns once all of them have been offered it. Failures, including
// panics, are collected as *ObserverError values joined with errors.Join.
func (r *Registry) Notify(frame camera.Frame) error {
	r.mu.Lock()
	snapshot := r.entries
	r.mu.Unlock()

	var errs []error
	for i, e := range snapshot {
		if e.detached.Load() {
			continue
		}
		if err := deliver(e.observer, frame); err != nil {
			debug.Warn("observer %d (%T) failed on frame #%d: %v", i, e.observer, frame.Seq, err)
			errs = append(errs, &ObserverError{Index: i, Err: err})
			continue
		}
		debug.Verbose("observer %d (%T) received frame #%d", i, e.observer, frame.Seq)
	}
	return errors.Join(errs...)
}

func deliver(o Observer, frame camera.Frame) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return o.OnFrame(frame)
}
