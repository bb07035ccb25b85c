package observers

import (
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cjeanneret/RollGo/internal/debug"
)

// Connection constants.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxQoS                   = 2
	maxPayloadSize           = 1 << 20
)

var (
	// ErrNotConnected is returned when publishing on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connection fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish is not acknowledged.
	ErrPublishFailed = errors.New("mqtt: publish failed")
)

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// MQTTClient is a thin wrapper around paho.mqtt.golang.
// All methods are safe for concurrent use.
type MQTTClient struct {
	client pahomqtt.Client
	opts   MQTTOptions
}

func buildClientOptions(o MQTTOptions) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	// The broker marks the device offline if we vanish without Close.
	opts.SetWill(o.TopicPrefix+"/state", `{"state":"offline"}`, 1, true)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		debug.Info("MQTT connected to %s", o.Broker)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		debug.Warn("MQTT connection lost: %v", err)
	})
	return opts
}

// ConnectMQTT connects to the broker and waits for the first connection.
func ConnectMQTT(o MQTTOptions) (*MQTTClient, error) {
	if o.Broker == "" {
		return nil, fmt.Errorf("%w: broker is required", ErrConnectionFailed)
	}
	if o.ClientID == "" {
		o.ClientID = "rollgo"
	}
	if o.TopicPrefix == "" {
		o.TopicPrefix = "rollgo"
	}

	client := pahomqtt.NewClient(buildClientOptions(o))
	if err := awaitConnect(client.Connect(), defaultConnectTimeout, client.Disconnect); err != nil {
		return nil, err
	}
	return &MQTTClient{client: client, opts: o}, nil
}

// awaitConnect waits for the connect token. On failure it calls disconnect
// so the client's background goroutines stop.
func awaitConnect(token pahomqtt.Token, timeout time.Duration, disconnect func(quiesce uint)) error {
	if !token.WaitTimeout(timeout) {
		disconnect(0)
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := token.Error(); err != nil {
		disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// Publish sends payload to topic and waits for the acknowledgment.
func (c *MQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrPublishFailed)
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: invalid qos %d", ErrPublishFailed, qos)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close publishes the offline state and disconnects.
func (c *MQTTClient) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.client.IsConnected() {
		token := c.client.Publish(c.opts.TopicPrefix+"/state", c.opts.QoS, true, []byte(`{"state":"offline"}`))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}
