package rolling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cjeanneret/RollGo/internal/hw/camera"
)

// fakeDevice is a scripted capture device.
type fakeDevice struct {
	openErr    error
	captureErr atomic.Pointer[error]
	hold       chan struct{} // when set, Capture blocks until it is closed
	entered    chan struct{} // signalled when a held Capture starts

	mu       sync.Mutex
	open     bool
	captures int
	closes   int
}

func (d *fakeDevice) Open() error {
	if d.openErr != nil {
		return d.openErr
	}
	d.mu.Lock()
	d.open = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *fakeDevice) Capture() (camera.Frame, error) {
	if d.hold != nil {
		d.entered <- struct{}{}
		<-d.hold
	}
	d.mu.Lock()
	d.captures++
	d.mu.Unlock()
	if p := d.captureErr.Load(); p != nil {
		return camera.Frame{}, *p
	}
	return camera.Frame{Format: camera.FormatJPEG, Data: []byte{0xFF, 0xD8}}, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.open = false
	d.closes++
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) failCaptures(err error) { d.captureErr.Store(&err) }

func (d *fakeDevice) captureCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captures
}

// fakeStore records stored frames.
type fakeStore struct {
	mu     sync.Mutex
	frames []camera.Frame
	dests  []string
	err    error
}

func (s *fakeStore) Store(f camera.Frame, dest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	s.dests = append(s.dests, dest)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// manualTicker hands the test control over when ticks fire.
type manualTicker struct {
	ch      chan time.Time
	armed   atomic.Int32
	stopped atomic.Int32
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) ticker(time.Duration) (<-chan time.Time, func()) {
	m.armed.Add(1)
	return m.ch, func() { m.stopped.Add(1) }
}

// fire delivers one tick; it returns once the capture goroutine took it.
// The tick is stamped in the future so it is never mistaken for one that
// fired while the previous tick was still running.
func (m *manualTicker) fire(t *testing.T) {
	t.Helper()
	select {
	case m.ch <- time.Now().Add(time.Hour):
	case <-time.After(time.Second):
		t.Fatal("capture goroutine did not take the tick")
	}
}

// eventLog collects emitted events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) sink(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) first(kind EventKind) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitFrame(t *testing.T, o *recordingObserver) camera.Frame {
	t.Helper()
	select {
	case f := <-o.got:
		return f
	case <-time.After(time.Second):
		t.Fatalf("observer %s: timeout waiting for frame", o.name)
		return camera.Frame{}
	}
}

func newTestController(t *testing.T, dev *fakeDevice, opts ...Option) (*Controller, *manualTicker, *eventLog) {
	t.Helper()
	mt := newManualTicker()
	events := &eventLog{}
	opts = append([]Option{WithTicker(mt.ticker), WithEvents(events.sink)}, opts...)
	c := New(Config{Width: 640, Height: 480, Interval: time.Hour}, dev, opts...)
	t.Cleanup(c.Shutdown)
	return c, mt, events
}

func checkArmedInvariant(t *testing.T, c *Controller) {
	t.Helper()
	if armed, rolling := c.Armed(), c.CurrentState() == Rolling; armed != rolling {
		t.Errorf("armed = %v but state = %s", armed, c.CurrentState())
	}
}

func TestNew_OpensDeviceAndGoesIdle(t *testing.T) {
	dev := &fakeDevice{}
	c, _, _ := newTestController(t, dev)

	if c.CurrentState() != Idle {
		t.Errorf("state = %s, want idle", c.CurrentState())
	}
	if !dev.IsOpen() {
		t.Error("device should be open")
	}
	checkArmedInvariant(t, c)
}

func TestNew_DefaultInterval(t *testing.T) {
	c := New(Config{}, &fakeDevice{})
	defer c.Shutdown()
	if c.Config().Interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", c.Config().Interval, DefaultInterval)
	}
}

func TestOpenFailure_IsTerminal(t *testing.T) {
	dev := &fakeDevice{openErr: errors.New("no camera on bus")}
	c, mt, _ := newTestController(t, dev)

	if c.CurrentState() != Error {
		t.Fatalf("state = %s, want error", c.CurrentState())
	}
	for i := 0; i < 3; i++ {
		if err := c.RequestStart(); !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("RequestStart = %v, want ErrDeviceUnavailable", err)
		}
		if err := c.RequestStop(); !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("RequestStop = %v, want ErrDeviceUnavailable", err)
		}
	}
	if err := c.Attach(newRecorder("A", nil)); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Attach = %v, want ErrDeviceUnavailable", err)
	}
	if err := c.Terminate(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Terminate = %v, want ErrDeviceUnavailable", err)
	}
	if mt.armed.Load() != 0 {
		t.Error("no timer should ever be armed in error state")
	}

	c.Shutdown()
	if c.CurrentState() != Error {
		t.Errorf("state after Shutdown = %s, want error", c.CurrentState())
	}
}

func TestNew_NilDevice(t *testing.T) {
	c := New(Config{}, nil)
	defer c.Shutdown()
	if c.CurrentState() != Error {
		t.Errorf("state = %s, want error", c.CurrentState())
	}
}

func TestRequestStart_FromIdle(t *testing.T) {
	c, mt, events := newTestController(t, &fakeDevice{})

	if err := c.RequestStart(); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	if c.CurrentState() != Rolling {
		t.Errorf("state = %s, want rolling", c.CurrentState())
	}
	if mt.armed.Load() != 1 {
		t.Errorf("armed timers = %d, want 1", mt.armed.Load())
	}
	if c.Session() == "" {
		t.Error("an open session should have an id")
	}
	if events.count(EventRollingStarted) != 1 {
		t.Errorf("rolling_started events = %d, want 1 before RequestStart returns", events.count(EventRollingStarted))
	}
	checkArmedInvariant(t, c)
}

func TestRequestStart_WhileRollingIsInvalid(t *testing.T) {
	c, mt, _ := newTestController(t, &fakeDevice{})
	_ = c.RequestStart()
	session := c.Session()

	err := c.RequestStart()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second RequestStart = %v, want ErrInvalidTransition", err)
	}
	if c.CurrentState() != Rolling || c.Session() != session {
		t.Error("rejected RequestStart must not change state or session")
	}
	if mt.armed.Load() != 1 {
		t.Errorf("armed timers = %d, want 1", mt.armed.Load())
	}
}

func TestRequestStop_FromRolling(t *testing.T) {
	c, mt, events := newTestController(t, &fakeDevice{})
	_ = c.RequestStart()
	session := c.Session()

	if err := c.RequestStop(); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	if c.CurrentState() != Idle {
		t.Errorf("state = %s, want idle", c.CurrentState())
	}
	if mt.stopped.Load() != 1 {
		t.Errorf("stopped timers = %d, want 1", mt.stopped.Load())
	}
	if c.Session() != "" {
		t.Error("session id should be cleared")
	}
	checkArmedInvariant(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sum, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if sum.Session != session {
		t.Errorf("summary session = %q, want %q", sum.Session, session)
	}
	if events.count(EventRollingStopped) != 1 {
		t.Errorf("rolling_stopped events = %d, want 1", events.count(EventRollingStopped))
	}
}

func TestRequestStop_FromIdleIsInvalid(t *testing.T) {
	c, _, _ := newTestController(t, &fakeDevice{})

	if err := c.RequestStop(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("RequestStop = %v, want ErrInvalidTransition", err)
	}
	if c.CurrentState() != Idle {
		t.Errorf("state = %s, want idle", c.CurrentState())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait after rejected stop = %v, want deadline exceeded", err)
	}
}

func TestWait_BeforeAnySession(t *testing.T) {
	c, _, _ := newTestController(t, &fakeDevice{})

	result := make(chan Summary, 1)
	go func() {
		sum, err := c.Wait(context.Background())
		if err == nil {
			result <- sum
		}
	}()

	select {
	case <-result:
		t.Fatal("Wait returned before any session completed")
	case <-time.After(20 * time.Millisecond):
	}

	_ = c.RequestStart()
	_ = c.RequestStop()

	select {
	case sum := <-result:
		if sum.Session == "" {
			t.Error("summary should carry the session id")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the session completed")
	}
}

func TestWait_CompletionSignalledOncePerSession(t *testing.T) {
	c, _, _ := newTestController(t, &fakeDevice{})
	_ = c.RequestStart()
	_ = c.RequestStop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	short, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if _, err := c.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Wait = %v, want deadline exceeded", err)
	}
}

func TestWait_LatestCompletionWins(t *testing.T) {
	c, _, _ := newTestController(t, &fakeDevice{})
	_ = c.RequestStart()
	_ = c.RequestStop()
	_ = c.RequestStart()
	last := c.Session()
	_ = c.RequestStop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sum, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if sum.Session != last {
		t.Errorf("Wait returned session %q, want latest %q", sum.Session, last)
	}
}

func TestTick_DeliversInAttachOrderThenDetach(t *testing.T) {
	c, mt, _ := newTestController(t, &fakeDevice{})
	log := &orderLog{}
	a, b := newRecorder("A", log), newRecorder("B", log)
	if err := c.Attach(a); err != nil {
		t.Fatalf("Attach A: %v", err)
	}
	if err := c.Attach(b); err != nil {
		t.Fatalf("Attach B: %v", err)
	}
	_ = c.RequestStart()

	mt.fire(t)
	fa := waitFrame(t, a)
	fb := waitFrame(t, b)
	if fa.Seq != 1 || fb.Seq != 1 {
		t.Errorf("first frame seq = %d/%d, want 1", fa.Seq, fb.Seq)
	}
	if fa.Session != c.Session() {
		t.Errorf("frame session = %q, want %q", fa.Session, c.Session())
	}
	if got := log.list(); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("order = %v, want [A B]", got)
	}

	c.Detach(a)
	mt.fire(t)
	waitFrame(t, b)
	_ = c.RequestStop()

	if a.count() != 1 {
		t.Errorf("detached observer got %d frames, want 1", a.count())
	}
	if b.count() != 2 {
		t.Errorf("B got %d frames, want 2", b.count())
	}
}

func TestTick_CaptureFailureKeepsRolling(t *testing.T) {
	dev := &fakeDevice{}
	dev.failCaptures(errors.New("usb reset"))
	c, mt, events := newTestController(t, dev)
	o := newRecorder("A", nil)
	_ = c.Attach(o)
	_ = c.RequestStart()

	mt.fire(t)
	mt.fire(t)
	waitFor(t, "two capture failures", func() bool { return events.count(EventCaptureFailed) == 2 })
	_ = c.RequestStop()

	if dev.captureCount() != 2 {
		t.Errorf("captures = %d, want 2", dev.captureCount())
	}
	if o.count() != 0 {
		t.Errorf("observer got %d frames from failed captures", o.count())
	}
	if events.count(EventCaptureFailed) != 2 {
		t.Errorf("capture_failed events = %d, want 2", events.count(EventCaptureFailed))
	}
	e, _ := events.first(EventCaptureFailed)
	if !errors.Is(e.Err, ErrCaptureFailure) {
		t.Errorf("event error %v should match ErrCaptureFailure", e.Err)
	}
	if s := c.Stats(); s.CaptureFailures != 2 || s.Frames != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestTick_CaptureRecovers(t *testing.T) {
	dev := &fakeDevice{}
	dev.failCaptures(errors.New("transient"))
	c, mt, events := newTestController(t, dev)
	o := newRecorder("A", nil)
	_ = c.Attach(o)
	_ = c.RequestStart()

	mt.fire(t)
	waitFor(t, "capture failure", func() bool { return events.count(EventCaptureFailed) == 1 })
	dev.captureErr.Store(nil)
	mt.fire(t)
	waitFrame(t, o)

	if c.CurrentState() != Rolling {
		t.Errorf("state = %s, want rolling", c.CurrentState())
	}
}

func TestTick_PersistsWhenEnabled(t *testing.T) {
	store := &fakeStore{}
	mt := newManualTicker()
	cfg := Config{Persist: true, StoragePath: "/srv/frames", Interval: time.Hour}
	c := New(cfg, &fakeDevice{}, WithTicker(mt.ticker), WithPersister(store))
	defer c.Shutdown()

	_ = c.RequestStart()
	mt.fire(t)
	waitFor(t, "stored frame", func() bool { return c.Stats().StoredFrames == 1 })
	_ = c.RequestStop()

	if store.count() != 1 {
		t.Fatalf("stored frames = %d, want 1", store.count())
	}
	if store.dests[0] != "/srv/frames" {
		t.Errorf("destination = %q, want /srv/frames", store.dests[0])
	}
	if c.Stats().StoredFrames != 1 {
		t.Errorf("stats = %+v", c.Stats())
	}
}

func TestTick_NoPersistenceWhenDisabled(t *testing.T) {
	store := &fakeStore{}
	mt := newManualTicker()
	c := New(Config{Persist: false, Interval: time.Hour}, &fakeDevice{}, WithTicker(mt.ticker), WithPersister(store))
	defer c.Shutdown()

	_ = c.RequestStart()
	mt.fire(t)
	waitFor(t, "captured frame", func() bool { return c.Stats().Ticks == 1 })
	_ = c.RequestStop()

	if store.count() != 0 {
		t.Errorf("stored frames = %d with persistence disabled", store.count())
	}
}

func TestTick_StoreFailureKeepsRolling(t *testing.T) {
	store := &fakeStore{err: errors.New("read-only filesystem")}
	mt := newManualTicker()
	events := &eventLog{}
	c := New(Config{Persist: true, Interval: time.Hour}, &fakeDevice{},
		WithTicker(mt.ticker), WithPersister(store), WithEvents(events.sink))
	defer c.Shutdown()
	o := newRecorder("A", nil)
	_ = c.Attach(o)

	_ = c.RequestStart()
	mt.fire(t)
	waitFrame(t, o)
	mt.fire(t)
	waitFor(t, "two store failures", func() bool { return events.count(EventStoreFailed) == 2 })

	if c.CurrentState() != Rolling {
		t.Errorf("state = %s, want rolling", c.CurrentState())
	}
	_ = c.RequestStop()
	e, _ := events.first(EventStoreFailed)
	if !errors.Is(e.Err, ErrPersistenceFailure) {
		t.Errorf("event error %v should match ErrPersistenceFailure", e.Err)
	}
}

func TestTick_ObserverFailureReported(t *testing.T) {
	c, mt, events := newTestController(t, &fakeDevice{})
	bad := newRecorder("bad", nil)
	bad.err = errors.New("decoder crashed")
	good := newRecorder("good", nil)
	_ = c.Attach(bad)
	_ = c.Attach(good)

	_ = c.RequestStart()
	mt.fire(t)
	waitFrame(t, good)
	waitFor(t, "observer failure", func() bool { return events.count(EventObserverFailed) == 1 })
	_ = c.RequestStop()
	e, _ := events.first(EventObserverFailed)
	if !errors.Is(e.Err, ErrObserverFailure) {
		t.Errorf("event error %v should match ErrObserverFailure", e.Err)
	}
	if c.Stats().ObserverFailures != 1 {
		t.Errorf("stats = %+v", c.Stats())
	}
}

func TestTick_StaleSessionIsNoop(t *testing.T) {
	dev := &fakeDevice{}
	c, _, _ := newTestController(t, dev)
	_ = c.RequestStart()
	_ = c.RequestStop()

	c.tick(&session{id: "stale"})
	if dev.captureCount() != 0 {
		t.Errorf("tick outside rolling captured %d frames", dev.captureCount())
	}
}

func TestRun_SkipsTickThatFiredWhileBusy(t *testing.T) {
	dev := &fakeDevice{}
	c, mt, events := newTestController(t, dev)
	o := newRecorder("A", nil)
	_ = c.Attach(o)
	_ = c.RequestStart()

	fired := time.Now()
	mt.fire(t)
	waitFrame(t, o)

	// A tick stamped before the previous one finished.
	select {
	case mt.ch <- fired:
	case <-time.After(time.Second):
		t.Fatal("tick not taken")
	}
	waitFor(t, "skipped tick", func() bool { return c.Stats().SkippedTicks == 1 })
	_ = c.RequestStop()

	if dev.captureCount() != 1 {
		t.Errorf("captures = %d, want 1", dev.captureCount())
	}
	if c.Stats().SkippedTicks != 1 {
		t.Errorf("skipped ticks = %d, want 1", c.Stats().SkippedTicks)
	}
	if events.count(EventTickSkipped) != 1 {
		t.Errorf("tick_skipped events = %d, want 1", events.count(EventTickSkipped))
	}
}

func TestRequestStop_WaitsForInFlightTick(t *testing.T) {
	dev := &fakeDevice{hold: make(chan struct{}), entered: make(chan struct{}, 1)}
	c, mt, _ := newTestController(t, dev)
	o := newRecorder("A", nil)
	_ = c.Attach(o)
	_ = c.RequestStart()
	mt.fire(t)
	select {
	case <-dev.entered:
	case <-time.After(time.Second):
		t.Fatal("capture never started")
	}

	stopped := make(chan struct{})
	go func() {
		_ = c.RequestStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("RequestStop returned while a tick was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(dev.hold)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("RequestStop did not return")
	}
	if o.count() != 1 {
		t.Errorf("in-flight tick delivered %d frames, want 1", o.count())
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	dev := &fakeDevice{}
	c, _, _ := newTestController(t, dev)
	o := newRecorder("A", nil)
	_ = c.Attach(o)
	_ = c.RequestStart()

	c.Shutdown()
	c.Shutdown()

	if c.Armed() {
		t.Error("timer still armed after Shutdown")
	}
	if dev.IsOpen() {
		t.Error("device still open after Shutdown")
	}
	if len(c.Observers()) != 0 {
		t.Error("observers still attached after Shutdown")
	}
	if dev.closes != 1 {
		t.Errorf("device closed %d times, want 1", dev.closes)
	}
	if err := c.RequestStart(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("RequestStart after Shutdown = %v, want ErrInvalidTransition", err)
	}
	if err := c.Attach(o); !errors.Is(err, ErrClosed) {
		t.Errorf("Attach after Shutdown = %v, want ErrClosed", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Wait(ctx); err != nil {
		t.Errorf("shutdown of an open session should signal completion: %v", err)
	}
}

func TestTerminate_FromIdle(t *testing.T) {
	dev := &fakeDevice{}
	c, _, _ := newTestController(t, dev)

	if err := c.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if c.CurrentState() != Terminated {
		t.Errorf("state = %s, want terminated", c.CurrentState())
	}
	if dev.IsOpen() {
		t.Error("device still open after Terminate")
	}
	if err := c.RequestStart(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("RequestStart after Terminate = %v, want ErrInvalidTransition", err)
	}
}

func TestTerminate_WhileRollingIsInvalid(t *testing.T) {
	c, _, _ := newTestController(t, &fakeDevice{})
	_ = c.RequestStart()
	if err := c.Terminate(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Terminate while rolling = %v, want ErrInvalidTransition", err)
	}
	if c.CurrentState() != Rolling {
		t.Errorf("state = %s, want rolling", c.CurrentState())
	}
}

func TestConcurrentStartStop(t *testing.T) {
	mt := newManualTicker()
	c := New(Config{Interval: time.Hour}, &fakeDevice{}, WithTicker(mt.ticker))
	defer c.Shutdown()

	var starts, stops atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				var err error
				if (g+i)%2 == 0 {
					if err = c.RequestStart(); err == nil {
						starts.Add(1)
					}
				} else {
					if err = c.RequestStop(); err == nil {
						stops.Add(1)
					}
				}
				if err != nil && !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()
	checkArmedInvariant(t, c)

	open := int64(0)
	if c.CurrentState() == Rolling {
		open = 1
	}
	if starts.Load()-stops.Load() != open {
		t.Errorf("starts=%d stops=%d with state %s", starts.Load(), stops.Load(), c.CurrentState())
	}
	if int64(mt.armed.Load()) != starts.Load() {
		t.Errorf("armed timers = %d, accepted starts = %d", mt.armed.Load(), starts.Load())
	}
	if int64(mt.stopped.Load()) != stops.Load() {
		t.Errorf("stopped timers = %d, accepted stops = %d", mt.stopped.Load(), stops.Load())
	}
}

// timestampObserver records when each frame arrived.
type timestampObserver struct {
	mu    sync.Mutex
	times []time.Time
}

func (o *timestampObserver) OnFrame(camera.Frame) error {
	o.mu.Lock()
	o.times = append(o.times, time.Now())
	o.mu.Unlock()
	return nil
}

func (o *timestampObserver) snapshot() []time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]time.Time(nil), o.times...)
}

func TestScenario_RealTimer(t *testing.T) {
	if testing.Short() {
		t.Skip("real-timer scenario")
	}
	events := &eventLog{}
	c := New(Config{Interval: 50 * time.Millisecond}, &fakeDevice{}, WithEvents(events.sink))
	defer c.Shutdown()
	o := &timestampObserver{}
	_ = c.Attach(o)

	states := []DeviceState{c.CurrentState()}
	if err := c.RequestStart(); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	states = append(states, c.CurrentState())
	time.Sleep(220 * time.Millisecond)
	if err := c.RequestStop(); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	stoppedAt := time.Now()
	states = append(states, c.CurrentState())

	// Ticks that would have fired after the stop.
	time.Sleep(120 * time.Millisecond)

	want := []DeviceState{Idle, Rolling, Idle}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
	if events.count(EventRollingStopped) != 1 {
		t.Errorf("completion signalled %d times, want 1", events.count(EventRollingStopped))
	}

	times := o.snapshot()
	if n := len(times); n < 2 || n > 4 {
		t.Errorf("notifications = %d, want about floor(220/50) = 4", n)
	}
	for _, at := range times {
		if at.After(stoppedAt) {
			t.Errorf("notification at %v after stop at %v", at, stoppedAt)
		}
	}
}

// funcObserver is a func type: not comparable.
type funcObserver func(camera.Frame) error

func (f funcObserver) OnFrame(fr camera.Frame) error { return f(fr) }

// boxObserver is a comparable struct type, but its dynamic value is not
// when v holds a slice.
type boxObserver struct {
	v any
}

func (boxObserver) OnFrame(camera.Frame) error { return nil }

func TestAttach_RejectsInvalidObservers(t *testing.T) {
	c, _, _ := newTestController(t, &fakeDevice{})

	cases := []struct {
		name string
		o    Observer
	}{
		{"nil", nil},
		{"func_type", funcObserver(func(camera.Frame) error { return nil })},
		{"slice_in_interface_field", boxObserver{v: []int{1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := c.Attach(tc.o); !errors.Is(err, ErrInvalidObserver) {
				t.Errorf("Attach = %v, want ErrInvalidObserver", err)
			}
		})
	}
	if n := len(c.Observers()); n != 0 {
		t.Errorf("observers = %d, want 0", n)
	}
}

func TestAttach_ComparableBoxAccepted(t *testing.T) {
	c, _, _ := newTestController(t, &fakeDevice{})
	if err := c.Attach(boxObserver{v: 1}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := c.Attach(boxObserver{v: 1}); err != nil {
		t.Fatalf("second Attach: %v", err)
	}
	if n := len(c.Observers()); n != 1 {
		t.Errorf("observers = %d, want 1 (duplicate is a no-op)", n)
	}
}

func TestAttach_RacingShutdownLeavesNoObserver(t *testing.T) {
	for i := 0; i < 200; i++ {
		dev := &fakeDevice{}
		c := New(Config{Interval: time.Hour}, dev, WithTicker(newManualTicker().ticker))
		o := newRecorder("late", nil)

		var wg sync.WaitGroup
		var attachErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			attachErr = c.Attach(o)
		}()
		go func() {
			defer wg.Done()
			c.Shutdown()
		}()
		wg.Wait()

		if n := len(c.Observers()); n != 0 {
			t.Fatalf("iteration %d: %d observers attached after Shutdown (Attach err=%v)", i, n, attachErr)
		}
		if attachErr != nil && !errors.Is(attachErr, ErrClosed) {
			t.Fatalf("iteration %d: Attach = %v, want nil or ErrClosed", i, attachErr)
		}
	}
}

// preloadedTicker has a tick ready before the capture goroutine starts.
func preloadedTicker(time.Duration) (<-chan time.Time, func()) {
	ch := make(chan time.Time, 1)
	ch <- time.Now().Add(time.Hour)
	return ch, func() {}
}

func TestRequestStart_StartedEventPrecedesFrames(t *testing.T) {
	for i := 0; i < 50; i++ {
		events := &eventLog{}
		o := newRecorder("A", nil)
		c := New(Config{Interval: time.Hour}, &fakeDevice{}, WithTicker(preloadedTicker), WithEvents(events.sink))
		if err := c.Attach(o); err != nil {
			t.Fatal(err)
		}
		if err := c.RequestStart(); err != nil {
			t.Fatal(err)
		}
		waitFrame(t, o)
		c.Shutdown()

		events.mu.Lock()
		first := events.events[0].Kind
		events.mu.Unlock()
		if first != EventRollingStarted {
			t.Fatalf("iteration %d: first event = %s, want %s", i, first, EventRollingStarted)
		}
	}
}
