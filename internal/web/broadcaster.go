package web

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/RollGo/internal/logic/rolling"
)

// StatusEvent is one message pushed to SSE clients. Log lines only carry
// Msg; controller events also carry their kind and identifiers.
type StatusEvent struct {
	Time    string `json:"t"`
	Level   string `json:"l,omitempty"`
	Msg     string `json:"msg"`
	Kind    string `json:"kind,omitempty"`
	State   string `json:"state,omitempty"`
	Session string `json:"session,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// ClientCount returns the number of subscribed clients.
func (b *StatusBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends a message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","l":"info","msg":"..."}
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.publish(StatusEvent{Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// OnEvent is a rolling.EventSink forwarding controller events to clients.
func (b *StatusBroadcaster) OnEvent(e rolling.Event) {
	evt := StatusEvent{
		Level:   eventLevel(e.Kind),
		Msg:     eventMessage(e),
		Kind:    string(e.Kind),
		State:   e.State.String(),
		Session: e.Session,
		Seq:     e.Seq,
	}
	if !e.At.IsZero() {
		evt.Time = e.At.Format(time.RFC3339Nano)
	}
	b.publish(evt)
}

// publish stamps, encodes and fans out evt. Slow clients miss messages
// rather than blocking the sender.
func (b *StatusBroadcaster) publish(evt StatusEvent) {
	if evt.Time == "" {
		evt.Time = time.Now().Format(time.RFC3339)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

func eventLevel(k rolling.EventKind) string {
	switch k {
	case rolling.EventCaptureFailed, rolling.EventStoreFailed, rolling.EventObserverFailed:
		return "error"
	case rolling.EventTickSkipped:
		return "warn"
	default:
		return "info"
	}
}

func eventMessage(e rolling.Event) string {
	var msg string
	switch e.Kind {
	case rolling.EventRollingStarted:
		msg = "Rolling started"
	case rolling.EventRollingStopped:
		msg = "Rolling stopped"
	case rolling.EventFrameCaptured:
		msg = fmt.Sprintf("Frame #%d captured", e.Seq)
	case rolling.EventFrameStored:
		msg = fmt.Sprintf("Frame #%d stored", e.Seq)
	case rolling.EventTickSkipped:
		msg = "Tick skipped, previous capture still running"
	default:
		msg = strings.ReplaceAll(string(e.Kind), "_", " ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
