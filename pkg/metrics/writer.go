// Package metrics provides the write-only port to the time-series sink plus
// the engine's own Prometheus exposition.
//
// Every sink operation is fire-and-forget: failures are logged and dropped,
// never surfaced to the caller, and an unconfigured sink degrades to silent
// no-ops. Telemetry is advisory; the engine keeps running without it.
package metrics

import "github.com/fleetsim/fleetsim/pkg/model"

// EngineStats is the periodic aggregate the manager hands to the sink.
type EngineStats struct {
	TotalDevices     int
	RunningDevices   int
	RunningSimulated int
	RunningPhysical  int
	TotalMessages    int64
	TotalBytes       int64
	TotalGroups      int
	ActiveGroups     int
	TotalModels      int
}

// Writer is the sink port. Implementations must never block the caller
// meaningfully and must never return errors; internal failures are logged
// and dropped.
type Writer interface {
	// WriteTelemetry records one telemetry payload. The reserved keys
	// deviceId and timestamp are not written as fields; numeric values are
	// coerced to float64, booleans and strings pass through.
	WriteTelemetry(deviceID, modelID, groupID string, source model.Source, data map[string]any)

	// WriteDeviceEvent records a lifecycle event (created, started, stopped,
	// bound, unbound, deleted).
	WriteDeviceEvent(deviceID, modelID, groupID, eventType string, source model.Source)

	// WriteEngineStats records the periodic engine aggregate.
	WriteEngineStats(stats EngineStats)

	// WriteConnectionMetric records a connection state change. latencyMs < 0
	// means no latency measurement is available.
	WriteConnectionMetric(deviceID, protocol string, connected bool, latencyMs float64, source model.Source)
}

// Nop is a Writer that discards everything. Used when no sink is configured.
type Nop struct{}

// WriteTelemetry implements Writer.
func (Nop) WriteTelemetry(string, string, string, model.Source, map[string]any) {}

// WriteDeviceEvent implements Writer.
func (Nop) WriteDeviceEvent(string, string, string, string, model.Source) {}

// WriteEngineStats implements Writer.
func (Nop) WriteEngineStats(EngineStats) {}

// WriteConnectionMetric implements Writer.
func (Nop) WriteConnectionMetric(string, string, bool, float64, model.Source) {}
