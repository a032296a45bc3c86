// Package proxy provides the inbound adapters proxy devices receive external
// telemetry through. Inbound adapters deliberately expose a narrower surface
// than the outbound protocol adapters: they bind a telemetry callback and
// unbind it, nothing more.
package proxy

import "context"

// TelemetryHandler receives one decoded telemetry payload from an external
// device.
type TelemetryHandler func(payload map[string]any)

// Binder attaches a proxy device to an external telemetry source. Bind
// returns the webhook path for HTTP bindings and an empty string otherwise.
type Binder interface {
	Bind(ctx context.Context, onTelemetry TelemetryHandler) (webhookPath string, err error)
	Unbind(ctx context.Context) error
}
