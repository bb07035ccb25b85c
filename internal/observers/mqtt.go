package observers

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cjeanneret/RollGo/internal/debug"
	"github.com/cjeanneret/RollGo/internal/hw/camera"
	"github.com/cjeanneret/RollGo/internal/logic/rolling"
)

// Publisher is the part of an MQTT client the observer needs.
// *MQTTClient implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// FrameMessage is published on <prefix>/frame for every frame.
type FrameMessage struct {
	Session    string    `json:"session"`
	Seq        uint64    `json:"seq"`
	CapturedAt time.Time `json:"captured_at"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Format     string    `json:"format"`
	Size       int       `json:"size"`
}

// StateMessage is published retained on <prefix>/state.
type StateMessage struct {
	State   string    `json:"state"`
	Session string    `json:"session,omitempty"`
	At      time.Time `json:"timestamp"`
}

// MQTT publishes frame metadata and device state changes to a broker.
// Image bytes are not published.
type MQTT struct {
	pub    Publisher
	prefix string
	qos    byte
}

// NewMQTT returns an observer publishing under prefix.
func NewMQTT(pub Publisher, prefix string, qos byte) *MQTT {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "rollgo"
	}
	return &MQTT{pub: pub, prefix: prefix, qos: qos}
}

// FrameTopic returns the topic frame metadata goes to.
func (m *MQTT) FrameTopic() string { return m.prefix + "/frame" }

// StateTopic returns the retained state topic.
func (m *MQTT) StateTopic() string { return m.prefix + "/state" }

func (m *MQTT) OnFrame(f camera.Frame) error {
	payload, err := json.Marshal(FrameMessage{
		Session:    f.Session,
		Seq:        f.Seq,
		CapturedAt: f.CapturedAt.UTC(),
		Width:      f.Width,
		Height:     f.Height,
		Format:     string(f.Format),
		Size:       len(f.Data),
	})
	if err != nil {
		return fmt.Errorf("encode frame #%d: %w", f.Seq, err)
	}
	return m.pub.Publish(m.FrameTopic(), payload, m.qos, false)
}

// PublishState publishes state as the retained device state.
func (m *MQTT) PublishState(state rolling.DeviceState, session string) error {
	payload, err := json.Marshal(StateMessage{
		State:   state.String(),
		Session: session,
		At:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return m.pub.Publish(m.StateTopic(), payload, m.qos, true)
}

// OnEvent is a rolling.EventSink publishing the state on every session
// start and stop. Publish errors are logged only.
func (m *MQTT) OnEvent(e rolling.Event) {
	switch e.Kind {
	case rolling.EventRollingStarted, rolling.EventRollingStopped:
	default:
		return
	}
	session := e.Session
	if e.Kind == rolling.EventRollingStopped {
		session = ""
	}
	if err := m.PublishState(e.State, session); err != nil {
		debug.Warn("mqtt: publish state: %v", err)
	}
}
