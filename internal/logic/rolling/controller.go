package rolling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/RollGo/internal/debug"
	"github.com/cjeanneret/RollGo/internal/hw/camera"
)

// DefaultInterval is the capture interval used when Config.Interval is zero.
const DefaultInterval = 10 * time.Second

// Config is the immutable controller configuration.
type Config struct {
	Width       int
	Height      int
	StoragePath string        // destination hint handed to the Persister
	Persist     bool          // store every captured frame
	Interval    time.Duration // time between two capture ticks
}

// Persister stores one frame. dest is Config.StoragePath.
type Persister interface {
	Store(frame camera.Frame, dest string) error
}

// TickerFunc arms a periodic timer and returns its channel and a stop
// function. The default wraps time.NewTicker.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Option configures a Controller.
type Option func(*Controller)

// WithPersister sets where frames go when Config.Persist is true.
func WithPersister(p Persister) Option {
	return func(c *Controller) { c.store = p }
}

// WithEvents sets the diagnostic event sink.
func WithEvents(sink EventSink) Option {
	return func(c *Controller) { c.events = sink }
}

// WithTicker replaces the capture timer, mainly for tests.
func WithTicker(f TickerFunc) Option {
	return func(c *Controller) { c.newTicker = f }
}

// session is one open rolling session. Exactly one capture goroutine
// runs per session; closing stop ends it and done is closed once it is gone.
type session struct {
	id      string
	started time.Time
	stop    chan struct{}
	done    chan struct{}
	frames  atomic.Uint64
}

// Controller owns the device state, the capture timer and the observer
// registry.
//
// Thread Safety:
//   - RequestStart, RequestStop, Terminate and Shutdown are serialized.
//   - The capture goroutine checks the state under the same lock the
//     requests write it with, and RequestStop waits for it to exit, so no
//     tick is processed after RequestStop returns.
//   - Observers and the event sink must not call RequestStop or Shutdown
//     from the capture goroutine: both wait for that goroutine to finish.
//   - Attach and the detach done by Shutdown both hold mu, so no observer
//     stays attached once Shutdown returns.
type Controller struct {
	cfg       Config
	device    camera.Device
	store     Persister
	events    EventSink
	newTicker TickerFunc
	registry  *Registry
	done      *completion

	reqMu sync.Mutex // serializes requests

	mu       sync.Mutex // guards the fields below
	state    DeviceState
	session  *session
	shutdown bool

	seq   atomic.Uint64
	stats counters
}

type counters struct {
	sessions    atomic.Uint64
	ticks       atomic.Uint64
	skipped     atomic.Uint64
	frames      atomic.Uint64
	captureFail atomic.Uint64
	stored      atomic.Uint64
	storeFail   atomic.Uint64
	obsFail     atomic.Uint64
}

// New builds a controller and opens device. If Open fails the controller
// stays in Error for good and every request returns ErrDeviceUnavailable.
func New(cfg Config, device camera.Device, opts ...Option) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	c := &Controller{
		cfg:       cfg,
		device:    device,
		newTicker: realTicker,
		registry:  NewRegistry(),
		done:      newCompletion(),
		state:     Uninitialized,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.Persist && c.store == nil {
		debug.Warn("persistence enabled but no store configured, frames will not be stored")
	}

	if cmd, _ := Decide(c.state, Idle); cmd != Create {
		c.state = Error
		return c
	}
	if err := c.open(); err != nil {
		debug.Error(fmt.Errorf("%w: %w", ErrDeviceUnavailable, err))
		debug.State(c.state, Error)
		c.state = Error
		return c
	}
	debug.State(c.state, Idle)
	c.state = Idle
	return c
}

func (c *Controller) open() error {
	if c.device == nil {
		return errors.New("no capture device")
	}
	if err := c.device.Open(); err != nil {
		return err
	}
	if !c.device.IsOpen() {
		return errors.New("device did not report open")
	}
	return nil
}

// CurrentState returns the device state.
func (c *Controller) CurrentState() DeviceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the id of the open session, or "" when not rolling.
func (c *Controller) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.id
}

// Armed reports whether the capture timer is running.
func (c *Controller) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Config returns the configuration the controller runs with.
func (c *Controller) Config() Config {
	return c.cfg
}

// RequestStart opens a rolling session and arms the capture timer.
// It returns ErrInvalidTransition unless the device is Idle.
func (c *Controller) RequestStart() error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.Lock()
	if c.state == Error {
		c.mu.Unlock()
		return ErrDeviceUnavailable
	}
	if cmd, _ := Decide(c.state, Rolling); cmd != StartRolling {
		err := transitionError(c.state, Rolling)
		c.mu.Unlock()
		debug.Info("%v", err)
		return err
	}

	s := &session{
		id:      uuid.NewString(),
		started: time.Now(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	ticks, stopTicker := c.newTicker(c.cfg.Interval)
	debug.State(c.state, Rolling)
	c.state = Rolling
	c.session = s
	c.mu.Unlock()

	c.stats.sessions.Add(1)
	debug.Info("Rolling started (session %s, every %v)", s.id, c.cfg.Interval)
	c.emit(Event{Kind: EventRollingStarted, Session: s.id, State: Rolling})

	go c.run(s, ticks, stopTicker)
	return nil
}

// RequestStop disarms the timer, returns to Idle and signals completion.
// A tick already in progress finishes first; none runs after RequestStop
// returns. It returns ErrInvalidTransition unless the device is Rolling.
func (c *Controller) RequestStop() error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.Lock()
	if c.state == Error {
		c.mu.Unlock()
		return ErrDeviceUnavailable
	}
	if cmd, _ := Decide(c.state, Idle); cmd != StopRolling {
		err := transitionError(c.state, Idle)
		c.mu.Unlock()
		debug.Info("%v", err)
		return err
	}
	s := c.session
	c.session = nil
	debug.State(c.state, Idle)
	c.state = Idle
	c.mu.Unlock()

	c.closeSession(s, Idle)
	return nil
}

// closeSession stops the capture goroutine, waits for it and signals
// completion. Callers hold reqMu and have already cleared c.session.
func (c *Controller) closeSession(s *session, state DeviceState) {
	close(s.stop)
	<-s.done

	sum := Summary{
		Session: s.id,
		Started: s.started,
		Stopped: time.Now(),
		Frames:  s.frames.Load(),
	}
	debug.Info("Rolling stopped (session %s, %d frames)", s.id, sum.Frames)
	c.emit(Event{Kind: EventRollingStopped, Session: s.id, State: state})
	c.done.signal(sum)
}

// Terminate performs the Idle -> Terminated exit and releases the device.
func (c *Controller) Terminate() error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Error {
		return ErrDeviceUnavailable
	}
	if cmd, _ := Decide(c.state, Terminated); cmd != Exit {
		return transitionError(c.state, Terminated)
	}
	debug.State(c.state, Terminated)
	c.state = Terminated
	if err := c.device.Close(); err != nil {
		debug.Warn("closing device: %v", err)
	}
	return nil
}

// Shutdown disarms the timer if armed, detaches all observers and releases
// the device. It always succeeds and may be called more than once. An open
// session is closed and its completion signalled.
func (c *Controller) Shutdown() {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	s := c.session
	c.session = nil
	prev := c.state
	if prev != Error {
		c.state = Terminated
	}
	c.mu.Unlock()

	if s != nil {
		c.closeSession(s, Terminated)
	}
	c.mu.Lock()
	c.registry.Clear()
	c.mu.Unlock()

	if prev != Error && prev != Terminated && c.device != nil {
		if err := c.device.Close(); err != nil {
			debug.Warn("closing device: %v", err)
		}
	}
	if prev != c.CurrentState() {
		debug.State(prev, c.CurrentState())
	}
}

// Wait blocks until a rolling session completes and returns its summary.
// A completion that nobody waited for is kept for the next Wait; it is
// safe to call before any session has started.
func (c *Controller) Wait(ctx context.Context) (Summary, error) {
	return c.done.wait(ctx)
}

// Attach subscribes o to captured frames. Attaching twice is a no-op.
// It returns ErrInvalidObserver for a nil or uncomparable observer.
func (c *Controller) Attach(o Observer) error {
	if err := checkObserver(o); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == Error:
		return ErrDeviceUnavailable
	case c.shutdown:
		return ErrClosed
	}
	c.registry.Attach(o)
	return nil
}

// Detach unsubscribes o. Detaching an unknown observer is a no-op.
func (c *Controller) Detach(o Observer) {
	c.registry.Detach(o)
}

// Observers returns the attached observers in attach order.
func (c *Controller) Observers() []Observer {
	return c.registry.Observers()
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Sessions:         c.stats.sessions.Load(),
		Ticks:            c.stats.ticks.Load(),
		SkippedTicks:     c.stats.skipped.Load(),
		Frames:           c.stats.frames.Load(),
		CaptureFailures:  c.stats.captureFail.Load(),
		StoredFrames:     c.stats.stored.Load(),
		StoreFailures:    c.stats.storeFail.Load(),
		ObserverFailures: c.stats.obsFail.Load(),
	}
}

// run is the capture goroutine of one session. Ticks never overlap: a
// tick that fired while the previous one was still being processed is
// skipped rather than queued.
func (c *Controller) run(s *session, ticks <-chan time.Time, stopTicker func()) {
	defer close(s.done)
	defer stopTicker()

	var busyUntil time.Time
	for {
		select {
		case <-s.stop:
			return
		case at, ok := <-ticks:
			if !ok {
				return
			}
			select {
			case <-s.stop:
				return
			default:
			}
			if at.Before(busyUntil) {
				c.stats.skipped.Add(1)
				debug.Verbose("tick at %s skipped, previous tick still running", at.Format(time.RFC3339Nano))
				c.emit(Event{Kind: EventTickSkipped, Session: s.id, State: Rolling})
				continue
			}
			c.tick(s)
			busyUntil = time.Now()
		}
	}
}

// tick captures one frame, fans it out and optionally stores it.
func (c *Controller) tick(s *session) {
	c.mu.Lock()
	live := c.state == Rolling && c.session == s
	c.mu.Unlock()
	if !live {
		return
	}
	c.stats.ticks.Add(1)

	frame, err := c.device.Capture()
	if err != nil {
		c.stats.captureFail.Add(1)
		err = fmt.Errorf("%w: %w", ErrCaptureFailure, err)
		debug.Warn("%v", err)
		c.emit(Event{Kind: EventCaptureFailed, Session: s.id, State: Rolling, Err: err})
		return
	}

	frame.Seq = c.seq.Add(1)
	frame.Session = s.id
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = time.Now()
	}
	s.frames.Add(1)
	c.stats.frames.Add(1)
	debug.Frame(frame.Seq, len(frame.Data))
	c.emit(Event{Kind: EventFrameCaptured, Session: s.id, Seq: frame.Seq, State: Rolling})

	if err := c.registry.Notify(frame); err != nil {
		c.reportObserverErrors(s, frame.Seq, err)
	}

	if !c.cfg.Persist || c.store == nil {
		return
	}
	if err := c.store.Store(frame, c.cfg.StoragePath); err != nil {
		c.stats.storeFail.Add(1)
		err = fmt.Errorf("%w: frame #%d: %w", ErrPersistenceFailure, frame.Seq, err)
		debug.Warn("%v", err)
		c.emit(Event{Kind: EventStoreFailed, Session: s.id, Seq: frame.Seq, State: Rolling, Err: err})
		return
	}
	c.stats.stored.Add(1)
	debug.Live("Frame #%d stored under %s", frame.Seq, c.cfg.StoragePath)
	c.emit(Event{Kind: EventFrameStored, Session: s.id, Seq: frame.Seq, State: Rolling})
}

func (c *Controller) reportObserverErrors(s *session, seq uint64, err error) {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		c.stats.obsFail.Add(1)
		c.emit(Event{Kind: EventObserverFailed, Session: s.id, Seq: seq, State: Rolling, Err: e})
	}
}

func (c *Controller) emit(e Event) {
	if c.events == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	c.events(e)
}
