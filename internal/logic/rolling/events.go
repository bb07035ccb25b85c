package rolling

import "time"

// EventKind names a diagnostic event emitted by the Controller.
type EventKind string

const (
	EventRollingStarted EventKind = "rolling_started"
	EventRollingStopped EventKind = "rolling_stopped"
	EventFrameCaptured  EventKind = "frame_captured"
	EventCaptureFailed  EventKind = "capture_failed"
	EventFrameStored    EventKind = "frame_stored"
	EventStoreFailed    EventKind = "store_failed"
	EventObserverFailed EventKind = "observer_failed"
	EventTickSkipped    EventKind = "tick_skipped"
)

// Event is one diagnostic. Failures raised on the timer goroutine have
// no caller to return to and are only reported this way.
type Event struct {
	Kind    EventKind
	At      time.Time
	Session string
	Seq     uint64      // frame sequence, zero when no frame is involved
	State   DeviceState // state after the event
	Err     error
}

// EventSink receives events synchronously on the goroutine that raised them.
// It must not block and must not call RequestStop or Shutdown.
type EventSink func(Event)

// Stats is a snapshot of the Controller's counters.
type Stats struct {
	Sessions         uint64 `json:"sessions"`
	Ticks            uint64 `json:"ticks"`
	SkippedTicks     uint64 `json:"skipped_ticks"`
	Frames           uint64 `json:"frames"`
	CaptureFailures  uint64 `json:"capture_failures"`
	StoredFrames     uint64 `json:"stored_frames"`
	StoreFailures    uint64 `json:"store_failures"`
	ObserverFailures uint64 `json:"observer_failures"`
}

// Tee returns a sink forwarding every event to each non-nil sink in order.
func Tee(sinks ...EventSink) EventSink {
	var out []EventSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return func(e Event) {
		for _, s := range out {
			s(e)
		}
	}
}
