package api

import (
	"github.com/fleetsim/fleetsim/pkg/model"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status             string  `json:"status"`
	Version            string  `json:"version"`
	UptimeSeconds      float64 `json:"uptimeSeconds"`
	DeviceCount        int     `json:"deviceCount"`
	RunningDeviceCount int     `json:"runningDeviceCount"`
}

// CreateDeviceRequest creates one device instance.
type CreateDeviceRequest struct {
	ModelID            string                  `json:"modelId"`
	DeviceID           string                  `json:"deviceId,omitempty"`
	GroupID            string                  `json:"groupId,omitempty"`
	OverrideConnection *model.ConnectionConfig `json:"overrideConnection,omitempty"`
}

// CreateGroupRequest creates a group of devices.
type CreateGroupRequest struct {
	ModelID   string `json:"modelId"`
	Count     int    `json:"count"`
	GroupID   string `json:"groupId,omitempty"`
	IDPattern string `json:"idPattern,omitempty"`
	StaggerMs int    `json:"staggerMs,omitempty"`
}

// GroupResponse summarises a group operation.
type GroupResponse struct {
	GroupID        string `json:"groupId"`
	DeviceCount    int    `json:"deviceCount"`
	DevicesCreated int    `json:"devicesCreated"`
	DevicesStarted int    `json:"devicesStarted"`
	DevicesStopped int    `json:"devicesStopped"`
	Status         string `json:"status"`
}

// DropoutResponse summarises a dropout run.
type DropoutResponse struct {
	GroupID             string `json:"groupId"`
	DevicesAffected     int    `json:"devicesAffected"`
	DropoutStrategy     string `json:"dropoutStrategy"`
	Status              string `json:"status"`
	EstimatedDurationMs int    `json:"estimatedDurationMs"`
}

// PaginatedResponse wraps one page of results.
type PaginatedResponse struct {
	Items    any  `json:"items"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasMore  bool `json:"hasMore"`
}

// BindRequest binds a proxy device to an external source.
type BindRequest struct {
	Config model.BindingConfig `json:"config"`
}

// BindResponse reports a bind result.
type BindResponse struct {
	DeviceID   string               `json:"deviceId"`
	Status     string               `json:"status"`
	Binding    *model.BindingStatus `json:"binding,omitempty"`
	WebhookURL string               `json:"webhookUrl,omitempty"`
}

// StatsResponse is the engine-wide aggregate.
type StatsResponse struct {
	TotalDevices     int   `json:"totalDevices"`
	RunningDevices   int   `json:"runningDevices"`
	RunningSimulated int   `json:"runningSimulated"`
	RunningPhysical  int   `json:"runningPhysical"`
	TotalGroups      int   `json:"totalGroups"`
	ActiveGroups     int   `json:"activeGroups"`
	TotalModels      int   `json:"totalModels"`
	TotalMessages    int64 `json:"totalMessages"`
	TotalBytes       int64 `json:"totalBytes"`
}
