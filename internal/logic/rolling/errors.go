package rolling

import (
	"errors"
	"fmt"
)

// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceUnavailable is returned by every request once the device
	// failed to open. It is final.
	ErrDeviceUnavailable = errors.New("rolling: device unavailable")

	// ErrInvalidTransition is returned when the requested transition is not
	// allowed from the current state. No state changes.
	ErrInvalidTransition = errors.New("rolling: invalid transition")

	// ErrCaptureFailure marks a tick that produced no frame.
	ErrCaptureFailure = errors.New("rolling: capture failed")

	// ErrPersistenceFailure marks a frame that was delivered but not stored.
	ErrPersistenceFailure = errors.New("rolling: persistence failed")

	// ErrObserverFailure marks one observer failing to handle a frame.
	ErrObserverFailure = errors.New("rolling: observer failed")

	// ErrInvalidObserver is returned by Attach for a nil observer or one
	// that cannot be compared for identity.
	ErrInvalidObserver = errors.New("rolling: invalid observer")

	// ErrClosed is returned by Attach after Shutdown.
	ErrClosed = errors.New("rolling: controller shut down")
)

// ObserverError reports one observer failing during a fan-out.
// Index is the observer's position in attach order for that pass.
type ObserverError struct {
	Index int
	Err   error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("observer %d: %v", e.Index, e.Err)
}

// Unwrap lets errors.Is match both ErrObserverFailure and the cause.
func (e *ObserverError) Unwrap() []error {
	return []error{ErrObserverFailure, e.Err}
}

func transitionError(current, target DeviceState) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
}
