// Package device implements the per-device runtime: virtual devices that
// generate telemetry on their own cadence, and proxy devices that forward
// telemetry from real external devices into the metrics pipeline.
package device

import (
	"context"
	"errors"
	"time"

	"github.com/fleetsim/fleetsim/pkg/model"
)

// ErrNotStartable is returned when Start is called on a device kind that is
// bound rather than started (proxy devices).
var ErrNotStartable = errors.New("proxy devices are bound, not started")

// Device is the capability set the manager drives for both device kinds.
// Proxy-only operations (Bind, Unbind, BindingStatus) live on *Proxy and are
// dispatched by type discrimination at the API boundary.
type Device interface {
	ID() string
	ModelID() string
	GroupID() string
	Status() model.DeviceStatus
	Source() model.Source

	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	Snapshot() Snapshot
	Metrics() Metrics
}

// Snapshot is the JSON view of a device instance returned by the control
// surface.
type Snapshot struct {
	ID              string                `json:"id"`
	ModelID         string                `json:"modelId"`
	Type            model.DeviceType      `json:"type"`
	Status          model.DeviceStatus    `json:"status"`
	ConnectionState model.ConnectionState `json:"connectionState"`
	CreatedAt       time.Time             `json:"createdAt"`
	StartedAt       *time.Time            `json:"startedAt,omitempty"`
	BoundAt         *time.Time            `json:"boundAt,omitempty"`
	LastTelemetryAt *time.Time            `json:"lastTelemetryAt,omitempty"`
	ErrorMessage    string                `json:"errorMessage,omitempty"`
	GroupID         string                `json:"groupId,omitempty"`
	Binding         *model.BindingStatus  `json:"binding,omitempty"`
}

// Metrics is the per-device counter view.
type Metrics struct {
	DeviceID         string         `json:"deviceId"`
	MessagesSent     int64          `json:"messagesSent"`
	MessagesReceived int64          `json:"messagesReceived"`
	BytesSent        int64          `json:"bytesSent"`
	BytesReceived    int64          `json:"bytesReceived"`
	ConnectionCount  int            `json:"connectionCount"`
	ErrorCount       int64          `json:"errorCount"`
	LastTelemetry    map[string]any `json:"lastTelemetry,omitempty"`
}
