package device

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetsim/fleetsim/pkg/adapter/proxy"
	"github.com/fleetsim/fleetsim/pkg/logging"
	"github.com/fleetsim/fleetsim/pkg/metrics"
	"github.com/fleetsim/fleetsim/pkg/model"
)

// ErrAlreadyBound is returned when Bind is called on a bound proxy device.
var ErrAlreadyBound = errors.New("device already bound")

// ErrNotBound is returned when Unbind is called on an unbound proxy device.
var ErrNotBound = errors.New("device not bound")

// BinderFactory builds the inbound adapter for a binding. Tests substitute a
// factory returning an in-memory fake.
type BinderFactory func(deviceID string, cfg model.BindingConfig, webhooks *proxy.WebhookRegistry, log *slog.Logger) (proxy.Binder, error)

// DefaultBinderFactory constructs the real inbound adapters.
func DefaultBinderFactory(deviceID string, cfg model.BindingConfig, webhooks *proxy.WebhookRegistry, log *slog.Logger) (proxy.Binder, error) {
	switch cfg.Protocol {
	case model.ProtocolMQTT:
		port := 1883
		if cfg.Port != nil {
			port = *cfg.Port
		}
		return proxy.NewMQTTBinder(proxy.MQTTBinderConfig{
			DeviceID: deviceID,
			Broker:   cfg.Broker,
			Port:     port,
			Topic:    cfg.Topic,
			QoS:      cfg.QoS,
			Username: cfg.Username,
		}, log), nil

	case model.ProtocolHTTP:
		return proxy.NewHTTPBinder(deviceID, cfg.WebhookPath, webhooks, log), nil

	default:
		return nil, errors.New("unsupported proxy protocol: " + string(cfg.Protocol))
	}
}

// Proxy is a passive device: instead of generating telemetry it receives
// payloads from a real external device and republishes them to the metrics
// sink tagged source=physical. Proxy devices never send, so messagesSent and
// bytesSent are zero by definition.
type Proxy struct {
	deviceID string
	model    *model.DeviceModel
	groupID  string
	sink     metrics.Writer
	webhooks *proxy.WebhookRegistry
	log      *slog.Logger

	binderFactory BinderFactory

	mu              sync.RWMutex
	status          model.DeviceStatus
	connState       model.ConnectionState
	createdAt       time.Time
	boundAt         *time.Time
	lastTelemetryAt *time.Time
	errorMessage    string
	binding         *model.BindingConfig
	binder          proxy.Binder
	webhookURL      string

	messagesReceived atomic.Int64
	bytesReceived    atomic.Int64
	errorCount       atomic.Int64
}

// ProxyConfig assembles a proxy device.
type ProxyConfig struct {
	DeviceID string
	Model    *model.DeviceModel
	GroupID  string
	Sink     metrics.Writer
	Webhooks *proxy.WebhookRegistry
	Logger   *slog.Logger

	// BinderFactory overrides binder construction; nil uses the real inbound
	// adapters.
	BinderFactory BinderFactory
}

// NewProxy creates a proxy device in the created state.
func NewProxy(cfg ProxyConfig) *Proxy {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = metrics.Nop{}
	}
	factory := cfg.BinderFactory
	if factory == nil {
		factory = DefaultBinderFactory
	}

	return &Proxy{
		deviceID:      cfg.DeviceID,
		model:         cfg.Model,
		groupID:       cfg.GroupID,
		sink:          sink,
		webhooks:      cfg.Webhooks,
		log:           log.With("device", cfg.DeviceID),
		binderFactory: factory,
		status:        model.StatusCreated,
		connState:     model.ConnDisconnected,
		createdAt:     time.Now().UTC(),
	}
}

// ID returns the device identifier.
func (d *Proxy) ID() string { return d.deviceID }

// ModelID returns the id of the model this device was created from.
func (d *Proxy) ModelID() string { return d.model.ID }

// GroupID returns the device's group, or "" when ungrouped.
func (d *Proxy) GroupID() string { return d.groupID }

// Source tags this device's telemetry as physical.
func (d *Proxy) Source() model.Source { return model.SourcePhysical }

// Status returns the current lifecycle status.
func (d *Proxy) Status() model.DeviceStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Start is not applicable to proxy devices; they are bound to an external
// source instead.
func (d *Proxy) Start(context.Context) error { return ErrNotStartable }

// Stop releases the binding if one exists.
func (d *Proxy) Stop(ctx context.Context) error {
	err := d.Unbind(ctx)
	if errors.Is(err, ErrNotBound) {
		return nil
	}
	return err
}

// Bind attaches the device to an external source and starts forwarding
// telemetry. Returns the webhook URL for HTTP bindings.
func (d *Proxy) Bind(ctx context.Context, cfg model.BindingConfig) (string, error) {
	d.mu.Lock()
	if d.status == model.StatusRunning {
		d.mu.Unlock()
		return "", ErrAlreadyBound
	}
	d.status = model.StatusStarting
	d.errorMessage = ""
	d.connState = model.ConnConnecting
	d.mu.Unlock()

	binder, err := d.binderFactory(d.deviceID, cfg, d.webhooks, d.log)
	if err != nil {
		return "", d.failBind(cfg, err)
	}

	connectStart := time.Now()
	webhookURL, err := binder.Bind(ctx, d.onTelemetry)
	if err != nil {
		return "", d.failBind(cfg, err)
	}
	latency := float64(time.Since(connectStart).Milliseconds())

	d.sink.WriteConnectionMetric(d.deviceID, string(cfg.Protocol), true, latency, model.SourcePhysical)

	now := time.Now().UTC()
	d.mu.Lock()
	d.binder = binder
	d.binding = &cfg
	d.boundAt = &now
	d.webhookURL = webhookURL
	d.connState = model.ConnConnected
	d.status = model.StatusRunning
	d.mu.Unlock()

	d.sink.WriteDeviceEvent(d.deviceID, d.model.ID, d.groupID, "bound", model.SourcePhysical)
	d.log.Info("proxy device bound", "protocol", cfg.Protocol)
	return webhookURL, nil
}

func (d *Proxy) failBind(cfg model.BindingConfig, err error) error {
	d.errorCount.Add(1)

	d.mu.Lock()
	d.status = model.StatusError
	d.connState = model.ConnDisconnected
	d.errorMessage = err.Error()
	d.mu.Unlock()

	d.sink.WriteConnectionMetric(d.deviceID, string(cfg.Protocol), false, -1, model.SourcePhysical)
	d.log.Error("proxy bind failed", "error", err)
	return err
}

// Unbind releases the inbound adapter.
func (d *Proxy) Unbind(ctx context.Context) error {
	d.mu.Lock()
	if d.status != model.StatusRunning || d.binder == nil {
		d.mu.Unlock()
		return ErrNotBound
	}
	d.status = model.StatusStopping
	binder := d.binder
	binding := d.binding
	d.mu.Unlock()

	if err := binder.Unbind(ctx); err != nil {
		d.log.Warn("proxy unbind failed", "error", err)
	}

	protocol := "unknown"
	if binding != nil {
		protocol = string(binding.Protocol)
	}

	d.mu.Lock()
	d.binder = nil
	d.binding = nil
	d.webhookURL = ""
	d.connState = model.ConnDisconnected
	d.status = model.StatusStopped
	d.mu.Unlock()

	d.sink.WriteConnectionMetric(d.deviceID, protocol, false, -1, model.SourcePhysical)
	d.sink.WriteDeviceEvent(d.deviceID, d.model.ID, d.groupID, "unbound", model.SourcePhysical)
	d.log.Info("proxy device unbound")
	return nil
}

// onTelemetry handles one payload from the external device: count it and
// pass it through to the sink. bytesReceived counts the payload serialised
// with ": " and ", " separators, so {"v":1} counts as 8 bytes ({"v": 1}).
func (d *Proxy) onTelemetry(payload map[string]any) {
	raw, _ := json.Marshal(payload)
	size := len(raw)
	inString, escaped := false, false
	for _, c := range raw {
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && (c == ':' || c == ','):
			size++
		}
	}
	d.messagesReceived.Add(1)
	d.bytesReceived.Add(int64(size))

	now := time.Now().UTC()
	d.mu.Lock()
	d.lastTelemetryAt = &now
	d.mu.Unlock()

	d.sink.WriteTelemetry(d.deviceID, d.model.ID, d.groupID, model.SourcePhysical, payload)
}

// BindingStatus reports the current binding.
func (d *Proxy) BindingStatus() model.BindingStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.binding == nil {
		return model.BindingStatus{Bound: false}
	}
	return model.BindingStatus{
		Bound:       true,
		Protocol:    d.binding.Protocol,
		Broker:      d.binding.Broker,
		Port:        d.binding.Port,
		Topic:       d.binding.Topic,
		WebhookURL:  d.webhookURL,
		ResourceURI: d.binding.ResourceURI,
		BoundAt:     d.boundAt,
	}
}

// Snapshot returns the control-surface view of the device.
func (d *Proxy) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap := Snapshot{
		ID:              d.deviceID,
		ModelID:         d.model.ID,
		Type:            model.TypeProxy,
		Status:          d.status,
		ConnectionState: d.connState,
		CreatedAt:       d.createdAt,
		BoundAt:         d.boundAt,
		LastTelemetryAt: d.lastTelemetryAt,
		ErrorMessage:    d.errorMessage,
		GroupID:         d.groupID,
	}
	if d.binding != nil {
		status := model.BindingStatus{
			Bound:       true,
			Protocol:    d.binding.Protocol,
			Broker:      d.binding.Broker,
			Port:        d.binding.Port,
			Topic:       d.binding.Topic,
			WebhookURL:  d.webhookURL,
			ResourceURI: d.binding.ResourceURI,
			BoundAt:     d.boundAt,
		}
		snap.Binding = &status
	}
	return snap
}

// Metrics returns the device counters. messagesSent and bytesSent are always
// zero for proxy devices.
func (d *Proxy) Metrics() Metrics {
	d.mu.RLock()
	connected := d.connState == model.ConnConnected
	d.mu.RUnlock()

	connCount := 0
	if connected {
		connCount = 1
	}

	return Metrics{
		DeviceID:         d.deviceID,
		MessagesSent:     0,
		MessagesReceived: d.messagesReceived.Load(),
		BytesSent:        0,
		BytesReceived:    d.bytesReceived.Load(),
		ConnectionCount:  connCount,
		ErrorCount:       d.errorCount.Load(),
	}
}
