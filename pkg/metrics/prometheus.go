package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exposition holds the engine's own Prometheus metrics, served on the
// control port. This is operational observability of the engine process; the
// Influx sink remains the data path for device telemetry.
type Exposition struct {
	reg *prom.Registry

	HTTPRequests      *prom.CounterVec
	TelemetryMessages *prom.CounterVec
	DeviceCount       prom.Gauge
	RunningDevices    prom.Gauge
	ActiveGroups      prom.Gauge
}

// NewExposition creates and registers the engine metrics.
func NewExposition() *Exposition {
	reg := prom.NewRegistry()

	e := &Exposition{
		reg: reg,
		HTTPRequests: prom.NewCounterVec(prom.CounterOpts{
			Name: "fleetsim_http_requests_total",
			Help: "Control API requests by method, route pattern, and status code.",
		}, []string{"method", "route", "status"}),
		TelemetryMessages: prom.NewCounterVec(prom.CounterOpts{
			Name: "fleetsim_telemetry_messages_total",
			Help: "Telemetry messages published or received, by source.",
		}, []string{"source"}),
		DeviceCount: prom.NewGauge(prom.GaugeOpts{
			Name: "fleetsim_devices",
			Help: "Devices currently in the catalogue.",
		}),
		RunningDevices: prom.NewGauge(prom.GaugeOpts{
			Name: "fleetsim_running_devices",
			Help: "Devices currently in the running state.",
		}),
		ActiveGroups: prom.NewGauge(prom.GaugeOpts{
			Name: "fleetsim_active_groups",
			Help: "Non-empty device groups.",
		}),
	}

	reg.MustRegister(e.HTTPRequests, e.TelemetryMessages, e.DeviceCount, e.RunningDevices, e.ActiveGroups)
	return e
}

// Handler serves the /metrics exposition endpoint.
func (e *Exposition) Handler() http.Handler {
	return promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{})
}

// ObserveStats refreshes the gauges from an engine stats snapshot.
func (e *Exposition) ObserveStats(stats EngineStats) {
	e.DeviceCount.Set(float64(stats.TotalDevices))
	e.RunningDevices.Set(float64(stats.RunningDevices))
	e.ActiveGroups.Set(float64(stats.ActiveGroups))
}
