package metrics

import (
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/fleetsim/fleetsim/pkg/logging"
	"github.com/fleetsim/fleetsim/pkg/model"
)

// InfluxConfig configures the InfluxDB v2 sink.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether the configuration points at a real sink.
func (c InfluxConfig) Enabled() bool {
	return c.URL != "" && c.Token != ""
}

// InfluxWriter writes data points to InfluxDB through the client's
// non-blocking batched write API. The write API buffers internally and
// retries in the background, so callers never wait on the sink.
type InfluxWriter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      *slog.Logger
}

var _ Writer = (*InfluxWriter)(nil)

// NewInfluxWriter connects the sink. The logger may be nil.
func NewInfluxWriter(cfg InfluxConfig, log *slog.Logger) *InfluxWriter {
	if log == nil {
		log = logging.Nop()
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	w := &InfluxWriter{
		client:   client,
		writeAPI: writeAPI,
		log:      log,
	}

	// Drain the async error channel so write failures are logged, not lost.
	go func() {
		for err := range writeAPI.Errors() {
			w.log.Warn("metrics write failed", "error", err)
		}
	}()

	return w
}

// Close flushes buffered points and shuts the client down.
func (w *InfluxWriter) Close() {
	w.writeAPI.Flush()
	w.client.Close()
}

// WriteTelemetry implements Writer.
func (w *InfluxWriter) WriteTelemetry(deviceID, modelID, groupID string, source model.Source, data map[string]any) {
	tags := map[string]string{
		"device_id": deviceID,
		"model_id":  modelID,
		"source":    string(source),
	}
	if groupID != "" {
		tags["group_id"] = groupID
	}

	fields := make(map[string]any, len(data))
	for key, value := range data {
		if key == "deviceId" || key == "timestamp" {
			continue
		}
		switch v := value.(type) {
		case float64:
			fields[key] = v
		case float32:
			fields[key] = float64(v)
		case int:
			fields[key] = float64(v)
		case int64:
			fields[key] = float64(v)
		case bool, string:
			fields[key] = v
		}
	}
	if len(fields) == 0 {
		return
	}

	w.writeAPI.WritePoint(influxdb2.NewPoint("telemetry", tags, fields, time.Now().UTC()))
}

// WriteDeviceEvent implements Writer.
func (w *InfluxWriter) WriteDeviceEvent(deviceID, modelID, groupID, eventType string, source model.Source) {
	tags := map[string]string{
		"device_id":  deviceID,
		"model_id":   modelID,
		"event_type": eventType,
		"source":     string(source),
	}
	if groupID != "" {
		tags["group_id"] = groupID
	}

	w.writeAPI.WritePoint(influxdb2.NewPoint("device_events", tags,
		map[string]any{"value": 1}, time.Now().UTC()))
}

// WriteEngineStats implements Writer.
func (w *InfluxWriter) WriteEngineStats(stats EngineStats) {
	fields := map[string]any{
		"total_devices":     stats.TotalDevices,
		"running_devices":   stats.RunningDevices,
		"running_simulated": stats.RunningSimulated,
		"running_physical":  stats.RunningPhysical,
		"total_messages":    stats.TotalMessages,
		"total_bytes":       stats.TotalBytes,
		"active_groups":     stats.ActiveGroups,
	}
	w.writeAPI.WritePoint(influxdb2.NewPoint("engine_stats", nil, fields, time.Now().UTC()))
}

// WriteConnectionMetric implements Writer.
func (w *InfluxWriter) WriteConnectionMetric(deviceID, protocol string, connected bool, latencyMs float64, source model.Source) {
	tags := map[string]string{
		"device_id": deviceID,
		"protocol":  protocol,
		"source":    string(source),
	}
	fields := map[string]any{"connected": connected}
	if latencyMs >= 0 {
		fields["latency_ms"] = latencyMs
	}

	w.writeAPI.WritePoint(influxdb2.NewPoint("connections", tags, fields, time.Now().UTC()))
}
