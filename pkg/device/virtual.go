package device

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetsim/fleetsim/pkg/adapter"
	"github.com/fleetsim/fleetsim/pkg/generator"
	"github.com/fleetsim/fleetsim/pkg/logging"
	"github.com/fleetsim/fleetsim/pkg/metrics"
	"github.com/fleetsim/fleetsim/pkg/model"
	"github.com/fleetsim/fleetsim/pkg/template"
)

// Virtual is a simulated device: it owns one protocol adapter and runs one
// telemetry goroutine per configured attribute while running.
type Virtual struct {
	deviceID string
	model    *model.DeviceModel
	groupID  string
	conn     model.EffectiveConnection
	sink     metrics.Writer
	log      *slog.Logger

	adapterFactory AdapterFactory

	mu              sync.RWMutex
	status          model.DeviceStatus
	connState       model.ConnectionState
	createdAt       time.Time
	startedAt       *time.Time
	lastTelemetryAt *time.Time
	errorMessage    string
	lastTelemetry   map[string]any
	customState     map[string]any
	adapter         adapter.Adapter
	generators      map[string]generator.Generator
	cancel          context.CancelFunc
	tasks           sync.WaitGroup

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	bytesSent        atomic.Int64
	bytesReceived    atomic.Int64
	errorCount       atomic.Int64
}

// VirtualConfig assembles a virtual device.
type VirtualConfig struct {
	DeviceID           string
	Model              *model.DeviceModel
	GroupID            string
	ConnectionOverride *model.ConnectionConfig
	Sink               metrics.Writer
	Logger             *slog.Logger

	// EngineDefaults supplies connection fields (typically the instance-wide
	// MQTT broker) that the model and override may still shadow.
	EngineDefaults *model.ConnectionConfig

	// AdapterFactory overrides adapter construction; nil uses the real
	// protocol adapters.
	AdapterFactory AdapterFactory
}

// NewVirtual creates a virtual device in the created state.
func NewVirtual(cfg VirtualConfig) *Virtual {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = metrics.Nop{}
	}
	factory := cfg.AdapterFactory
	if factory == nil {
		factory = DefaultAdapterFactory
	}

	return &Virtual{
		deviceID:       cfg.DeviceID,
		model:          cfg.Model,
		groupID:        cfg.GroupID,
		conn:           model.MergeConnection(cfg.Model.Protocol, cfg.EngineDefaults, cfg.Model.Connection, cfg.ConnectionOverride),
		sink:           sink,
		log:            log.With("device", cfg.DeviceID),
		adapterFactory: factory,
		status:         model.StatusCreated,
		connState:      model.ConnDisconnected,
		createdAt:      time.Now().UTC(),
		lastTelemetry:  make(map[string]any),
		customState:    make(map[string]any),
	}
}

// ID returns the device identifier.
func (d *Virtual) ID() string { return d.deviceID }

// ModelID returns the id of the model this device was created from.
func (d *Virtual) ModelID() string { return d.model.ID }

// GroupID returns the device's group, or "" when ungrouped.
func (d *Virtual) GroupID() string { return d.groupID }

// Source tags this device's telemetry as simulated.
func (d *Virtual) Source() model.Source { return model.SourceSimulated }

// Status returns the current lifecycle status.
func (d *Virtual) Status() model.DeviceStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Start connects the adapter and launches the telemetry loops. Calling Start
// on a running device is a no-op.
func (d *Virtual) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.status == model.StatusRunning || d.status == model.StatusStarting {
		d.mu.Unlock()
		return nil
	}
	d.status = model.StatusStarting
	d.errorMessage = ""
	d.mu.Unlock()

	clientID := d.resolve(d.conn.ClientIDPattern)
	if clientID == "" {
		clientID = "fleetsim-" + d.deviceID
	}

	ad, err := d.adapterFactory(d.model.Protocol, d.conn, clientID, d.log)
	if err != nil {
		return d.failStart(err)
	}

	d.mu.Lock()
	d.connState = model.ConnConnecting
	d.mu.Unlock()

	connectStart := time.Now()
	if err := ad.Connect(ctx); err != nil {
		return d.failStart(err)
	}
	latency := float64(time.Since(connectStart).Milliseconds())

	d.sink.WriteConnectionMetric(d.deviceID, string(d.model.Protocol), true, latency, model.SourceSimulated)

	gens := make(map[string]generator.Generator, len(d.model.Telemetry))
	for _, attr := range d.model.Telemetry {
		gens[attr.Name] = generator.New(attr.Generator)
	}

	// Telemetry loops outlive the start request: they run on their own
	// context until Stop cancels it.
	loopCtx, cancel := context.WithCancel(context.Background())

	now := time.Now().UTC()
	d.mu.Lock()
	d.adapter = ad
	d.generators = gens
	d.cancel = cancel
	d.connState = model.ConnConnected
	d.status = model.StatusRunning
	d.startedAt = &now
	d.mu.Unlock()

	for _, attr := range d.model.Telemetry {
		attr := attr
		d.tasks.Add(1)
		go d.telemetryLoop(loopCtx, attr, gens[attr.Name])
	}

	d.sink.WriteDeviceEvent(d.deviceID, d.model.ID, d.groupID, "started", model.SourceSimulated)
	d.log.Info("device started", "protocol", d.model.Protocol, "attributes", len(d.model.Telemetry))
	return nil
}

func (d *Virtual) failStart(err error) error {
	d.errorCount.Add(1)

	d.mu.Lock()
	d.status = model.StatusError
	d.connState = model.ConnDisconnected
	d.errorMessage = err.Error()
	d.mu.Unlock()

	d.sink.WriteConnectionMetric(d.deviceID, string(d.model.Protocol), false, -1, model.SourceSimulated)
	d.log.Error("device start failed", "error", err)
	return err
}

// Stop cancels the telemetry loops, waits for them to exit, and disconnects
// the adapter. Calling Stop on a stopped device is a no-op.
func (d *Virtual) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.status == model.StatusStopped || d.status == model.StatusCreated {
		d.mu.Unlock()
		return nil
	}
	d.status = model.StatusStopping
	cancel := d.cancel
	ad := d.adapter
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.tasks.Wait()

	if ad != nil {
		if err := ad.Disconnect(ctx); err != nil {
			d.log.Warn("adapter disconnect failed", "error", err)
		}
	}

	d.mu.Lock()
	d.adapter = nil
	d.generators = nil
	d.connState = model.ConnDisconnected
	d.status = model.StatusStopped
	d.mu.Unlock()

	d.sink.WriteConnectionMetric(d.deviceID, string(d.model.Protocol), false, -1, model.SourceSimulated)
	d.sink.WriteDeviceEvent(d.deviceID, d.model.ID, d.groupID, "stopped", model.SourceSimulated)
	d.log.Info("device stopped")
	return nil
}

// telemetryLoop publishes one attribute on its own cadence until cancelled.
// Publish failures are counted and logged; the loop keeps its cadence. One
// attribute failing never tears down the others.
func (d *Virtual) telemetryLoop(ctx context.Context, attr model.TelemetryAttribute, gen generator.Generator) {
	defer d.tasks.Done()

	topicPattern := attr.Topic
	if topicPattern == "" {
		topicPattern = d.conn.TopicPattern
	}
	if topicPattern == "" {
		topicPattern = "devices/${deviceId}/telemetry"
	}
	topic := d.resolve(topicPattern)

	interval := time.Duration(attr.IntervalMs) * time.Millisecond

	for {
		value := gen.Generate()

		d.mu.Lock()
		d.lastTelemetry[attr.Name] = value
		d.mu.Unlock()

		payload := map[string]any{
			"deviceId":  d.deviceID,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			attr.Name:   value,
		}
		if attr.Unit != "" {
			payload["unit"] = attr.Unit
		}

		if ad := d.currentAdapter(); ad != nil && ad.IsConnected() {
			if err := ad.Publish(ctx, topic, payload, d.conn.QoS); err != nil {
				if ctx.Err() != nil {
					return
				}
				d.errorCount.Add(1)
				d.log.Error("telemetry publish failed", "attribute", attr.Name, "error", err)
			} else {
				raw, _ := json.Marshal(payload)
				d.messagesSent.Add(1)
				d.bytesSent.Add(int64(len(raw)))

				now := time.Now().UTC()
				d.mu.Lock()
				d.lastTelemetryAt = &now
				d.mu.Unlock()

				d.sink.WriteTelemetry(d.deviceID, d.model.ID, d.groupID, model.SourceSimulated, payload)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (d *Virtual) currentAdapter() adapter.Adapter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.adapter
}

func (d *Virtual) resolve(tmpl string) string {
	d.mu.RLock()
	last := make(map[string]any, len(d.lastTelemetry))
	for k, v := range d.lastTelemetry {
		last[k] = v
	}
	custom := make(map[string]any, len(d.customState))
	for k, v := range d.customState {
		custom[k] = v
	}
	d.mu.RUnlock()

	return template.Resolve(tmpl, template.Context{
		DeviceID:      d.deviceID,
		ModelID:       d.model.ID,
		LastTelemetry: last,
		CustomState:   custom,
	})
}

// SetState stores a custom state value visible to template resolution.
func (d *Virtual) SetState(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customState[key] = value
}

// Snapshot returns the control-surface view of the device.
func (d *Virtual) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Snapshot{
		ID:              d.deviceID,
		ModelID:         d.model.ID,
		Type:            d.model.Type,
		Status:          d.status,
		ConnectionState: d.connState,
		CreatedAt:       d.createdAt,
		StartedAt:       d.startedAt,
		LastTelemetryAt: d.lastTelemetryAt,
		ErrorMessage:    d.errorMessage,
		GroupID:         d.groupID,
	}
}

// Metrics returns the device counters. Counter reads are atomic but the
// aggregate is not a consistent cut; metrics are advisory.
func (d *Virtual) Metrics() Metrics {
	d.mu.RLock()
	last := make(map[string]any, len(d.lastTelemetry))
	for k, v := range d.lastTelemetry {
		last[k] = v
	}
	connected := d.connState == model.ConnConnected
	d.mu.RUnlock()

	connCount := 0
	if connected {
		connCount = 1
	}

	return Metrics{
		DeviceID:         d.deviceID,
		MessagesSent:     d.messagesSent.Load(),
		MessagesReceived: d.messagesReceived.Load(),
		BytesSent:        d.bytesSent.Load(),
		BytesReceived:    d.bytesReceived.Load(),
		ConnectionCount:  connCount,
		ErrorCount:       d.errorCount.Load(),
		LastTelemetry:    last,
	}
}
