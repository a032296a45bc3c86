package proxy

import "sync"

// WebhookRegistry maps device IDs to their bound telemetry handlers. The
// registry is shared between the HTTP control surface (which routes inbound
// webhook POSTs) and the proxy devices (which register handlers on bind); it
// is constructed once and passed to both.
type WebhookRegistry struct {
	mu       sync.RWMutex
	handlers map[string]TelemetryHandler
}

// NewWebhookRegistry creates an empty registry.
func NewWebhookRegistry() *WebhookRegistry {
	return &WebhookRegistry{handlers: make(map[string]TelemetryHandler)}
}

// Register installs the handler for a device, replacing any previous one.
func (r *WebhookRegistry) Register(deviceID string, handler TelemetryHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[deviceID] = handler
}

// Unregister removes the handler for a device.
func (r *WebhookRegistry) Unregister(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, deviceID)
}

// Lookup returns the handler for a device, or nil if none is bound.
func (r *WebhookRegistry) Lookup(deviceID string) TelemetryHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[deviceID]
}
