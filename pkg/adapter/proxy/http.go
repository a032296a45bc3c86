package proxy

import (
	"context"
	"log/slog"

	"github.com/fleetsim/fleetsim/pkg/logging"
)

// HTTPBinder exposes a webhook path for external devices to POST telemetry
// to. The control surface routes POST /api/v1/webhooks/{deviceId} to the
// handler registered here.
type HTTPBinder struct {
	deviceID    string
	webhookPath string
	registry    *WebhookRegistry
	log         *slog.Logger
}

// NewHTTPBinder creates an inbound HTTP binder. An empty webhookPath defaults
// to /api/v1/webhooks/{deviceId}. The logger may be nil.
func NewHTTPBinder(deviceID, webhookPath string, registry *WebhookRegistry, log *slog.Logger) *HTTPBinder {
	if log == nil {
		log = logging.Nop()
	}
	if webhookPath == "" {
		webhookPath = "/api/v1/webhooks/" + deviceID
	}
	return &HTTPBinder{
		deviceID:    deviceID,
		webhookPath: webhookPath,
		registry:    registry,
		log:         log,
	}
}

// Bind registers the telemetry handler and returns the webhook path external
// devices should POST to.
func (b *HTTPBinder) Bind(_ context.Context, onTelemetry TelemetryHandler) (string, error) {
	b.registry.Register(b.deviceID, onTelemetry)
	b.log.Info("proxy bound to webhook", "device", b.deviceID, "path", b.webhookPath)
	return b.webhookPath, nil
}

// Unbind removes the webhook registration.
func (b *HTTPBinder) Unbind(_ context.Context) error {
	b.registry.Unregister(b.deviceID)
	return nil
}
