package adapter

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fleetsim/fleetsim/pkg/logging"
)

// mqttConnectTimeout is the hard deadline for the initial broker dial.
const mqttConnectTimeout = 30 * time.Second

// mqttDisconnectQuiesceMs is how long Disconnect lets in-flight work drain.
const mqttDisconnectQuiesceMs = 250

// MQTTConfig configures an outbound MQTT adapter.
type MQTTConfig struct {
	ClientID     string
	BrokerHost   string
	BrokerPort   int
	TLS          bool
	Username     string
	Password     string
	KeepAlive    int
	CleanSession bool
}

// MQTTAdapter speaks MQTT 3.1.1 through the paho client. Reconnection after
// an involuntary disconnect is the client library's built-in retry; the
// adapter only tracks the connected flag via the client callbacks.
type MQTTAdapter struct {
	cfg    MQTTConfig
	log    *slog.Logger
	client mqtt.Client

	mu            sync.RWMutex
	connected     bool
	subscriptions map[string]MessageHandler
}

// NewMQTTAdapter creates an MQTT adapter. The logger may be nil.
func NewMQTTAdapter(cfg MQTTConfig, log *slog.Logger) *MQTTAdapter {
	if log == nil {
		log = logging.Nop()
	}
	if cfg.BrokerPort == 0 {
		cfg.BrokerPort = 1883
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60
	}
	return &MQTTAdapter{
		cfg:           cfg,
		log:           log,
		subscriptions: make(map[string]MessageHandler),
	}
}

// Connect dials the broker asynchronously and waits for the connect
// acknowledgement, bounded by ctx and a hard 30-second timeout.
func (a *MQTTAdapter) Connect(ctx context.Context) error {
	scheme := "tcp"
	if a.cfg.TLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, a.cfg.BrokerHost, a.cfg.BrokerPort)).
		SetClientID(a.cfg.ClientID).
		SetKeepAlive(time.Duration(a.cfg.KeepAlive) * time.Second).
		SetCleanSession(a.cfg.CleanSession).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)

	if a.cfg.Username != "" {
		opts.SetUsername(a.cfg.Username)
		opts.SetPassword(a.cfg.Password)
	}
	if a.cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		a.mu.Lock()
		a.connected = true
		a.mu.Unlock()
		a.log.Debug("mqtt connected", "broker", a.cfg.BrokerHost, "port", a.cfg.BrokerPort)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		a.mu.Lock()
		a.connected = false
		a.mu.Unlock()
		a.log.Warn("mqtt connection lost", "error", err)
	})
	opts.SetDefaultPublishHandler(a.dispatch)

	a.client = mqtt.NewClient(opts)

	token := a.client.Connect()
	select {
	case <-ctx.Done():
		a.client.Disconnect(0)
		return ctx.Err()
	case <-token.Done():
	case <-time.After(mqttConnectTimeout):
		a.client.Disconnect(0)
		return fmt.Errorf("timeout connecting to mqtt broker %s:%d", a.cfg.BrokerHost, a.cfg.BrokerPort)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

// Disconnect closes the client connection.
func (a *MQTTAdapter) Disconnect(_ context.Context) error {
	if a.client == nil {
		return nil
	}
	a.client.Disconnect(mqttDisconnectQuiesceMs)

	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}

// Publish sends a payload to a topic and waits for the client to hand it off.
func (a *MQTTAdapter) Publish(ctx context.Context, topic string, payload any, qos int) error {
	if !a.IsConnected() {
		return ErrNotConnected
	}

	body, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	token := a.client.Publish(topic, byte(qos), false, body)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a handler for a topic pattern. Inbound messages route
// through the local subscription table, which honours `+` and `#` wildcards.
func (a *MQTTAdapter) Subscribe(ctx context.Context, topic string, handler MessageHandler, qos int) error {
	if !a.IsConnected() {
		return ErrNotConnected
	}

	a.mu.Lock()
	a.subscriptions[topic] = handler
	a.mu.Unlock()

	token := a.client.Subscribe(topic, byte(qos), a.dispatch)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		a.mu.Lock()
		delete(a.subscriptions, topic)
		a.mu.Unlock()
		return fmt.Errorf("mqtt subscribe to %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe removes a subscription.
func (a *MQTTAdapter) Unsubscribe(ctx context.Context, topic string) error {
	a.mu.Lock()
	delete(a.subscriptions, topic)
	a.mu.Unlock()

	if a.client == nil {
		return nil
	}
	token := a.client.Unsubscribe(topic)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	return token.Error()
}

// IsConnected reports whether the broker connection is up.
func (a *MQTTAdapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// ProtocolName identifies the adapter.
func (a *MQTTAdapter) ProtocolName() string { return "mqtt" }

// dispatch routes an inbound message to every matching subscription.
func (a *MQTTAdapter) dispatch(_ mqtt.Client, msg mqtt.Message) {
	payload := decodePayload(msg.Payload())

	a.mu.RLock()
	handlers := make([]MessageHandler, 0, 1)
	for pattern, handler := range a.subscriptions {
		if TopicMatches(pattern, msg.Topic()) {
			handlers = append(handlers, handler)
		}
	}
	a.mu.RUnlock()

	for _, handler := range handlers {
		handler(msg.Topic(), payload)
	}
}
