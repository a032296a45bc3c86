package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fleetsim/fleetsim/pkg/logging"
)

// mqttBindTimeout bounds the broker dial during Bind. Proxy binds are
// interactive API calls, so the deadline is tighter than the virtual-device
// connect timeout.
const mqttBindTimeout = 10 * time.Second

// MQTTBinderConfig configures an inbound MQTT binding.
type MQTTBinderConfig struct {
	DeviceID string
	Broker   string
	Port     int
	Topic    string
	QoS      int
	Username string
	Password string
}

// MQTTBinder subscribes to an external broker topic and forwards each
// JSON-decoded payload to the bound telemetry handler. Malformed payloads are
// counted and dropped.
type MQTTBinder struct {
	cfg    MQTTBinderConfig
	log    *slog.Logger
	client mqtt.Client

	connected atomic.Bool
	malformed atomic.Int64
}

// NewMQTTBinder creates an inbound MQTT binder. The logger may be nil.
func NewMQTTBinder(cfg MQTTBinderConfig, log *slog.Logger) *MQTTBinder {
	if log == nil {
		log = logging.Nop()
	}
	if cfg.Broker == "" {
		cfg.Broker = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 1883
	}
	if cfg.Topic == "" {
		cfg.Topic = fmt.Sprintf("devices/%s/telemetry", cfg.DeviceID)
	}
	return &MQTTBinder{cfg: cfg, log: log}
}

// Bind connects to the external broker and subscribes to the configured
// topic. The returned webhook path is always empty for MQTT.
func (b *MQTTBinder) Bind(ctx context.Context, onTelemetry TelemetryHandler) (string, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", b.cfg.Broker, b.cfg.Port)).
		SetClientID("fleetsim-proxy-" + b.cfg.DeviceID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttBindTimeout)

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.connected.Store(false)
		b.log.Warn("proxy mqtt connection lost", "device", b.cfg.DeviceID, "error", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.connected.Store(true)
		// Re-subscribe on every (re)connect so the binding survives broker
		// restarts.
		c.Subscribe(b.cfg.Topic, byte(b.cfg.QoS), func(_ mqtt.Client, msg mqtt.Message) {
			b.handleMessage(msg, onTelemetry)
		})
	})

	b.client = mqtt.NewClient(opts)

	token := b.client.Connect()
	select {
	case <-ctx.Done():
		b.client.Disconnect(0)
		return "", ctx.Err()
	case <-token.Done():
	case <-time.After(mqttBindTimeout):
		b.client.Disconnect(0)
		return "", fmt.Errorf("timeout connecting to mqtt broker %s:%d", b.cfg.Broker, b.cfg.Port)
	}
	if err := token.Error(); err != nil {
		return "", fmt.Errorf("proxy mqtt connect: %w", err)
	}

	b.connected.Store(true)
	b.log.Info("proxy bound to mqtt topic", "device", b.cfg.DeviceID, "topic", b.cfg.Topic)
	return "", nil
}

// Unbind unsubscribes and disconnects from the external broker.
func (b *MQTTBinder) Unbind(_ context.Context) error {
	if b.client == nil {
		return nil
	}
	b.client.Unsubscribe(b.cfg.Topic)
	b.client.Disconnect(250)
	b.client = nil
	b.connected.Store(false)
	return nil
}

// IsConnected reports whether the external broker connection is up.
func (b *MQTTBinder) IsConnected() bool { return b.connected.Load() }

// MalformedCount returns how many payloads failed to decode as JSON objects.
func (b *MQTTBinder) MalformedCount() int64 { return b.malformed.Load() }

func (b *MQTTBinder) handleMessage(msg mqtt.Message, onTelemetry TelemetryHandler) {
	var payload map[string]any
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		b.malformed.Add(1)
		b.log.Warn("proxy dropped malformed payload", "device", b.cfg.DeviceID, "topic", msg.Topic(), "error", err)
		return
	}
	onTelemetry(payload)
}
