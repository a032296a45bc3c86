// Package model defines the device model and runtime configuration types
// shared across the engine.
package model

import "time"

// DeviceType classifies a device model.
type DeviceType string

// Device types.
const (
	TypeSensor   DeviceType = "sensor"
	TypeGateway  DeviceType = "gateway"
	TypeActuator DeviceType = "actuator"
	TypeCustom   DeviceType = "custom"
	TypeProxy    DeviceType = "proxy"
)

// Protocol identifies the wire protocol a device speaks.
type Protocol string

// Protocols.
const (
	ProtocolMQTT Protocol = "mqtt"
	ProtocolCoAP Protocol = "coap"
	ProtocolHTTP Protocol = "http"
)

// DeviceStatus is the lifecycle status of a device instance.
type DeviceStatus string

// Lifecycle statuses.
const (
	StatusCreated  DeviceStatus = "created"
	StatusStarting DeviceStatus = "starting"
	StatusRunning  DeviceStatus = "running"
	StatusStopping DeviceStatus = "stopping"
	StatusStopped  DeviceStatus = "stopped"
	StatusError    DeviceStatus = "error"
)

// ConnectionState is the transport-level state of a device instance.
type ConnectionState string

// Connection states.
const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnReconnecting ConnectionState = "reconnecting"
)

// Source tags where telemetry originates for metrics purposes.
type Source string

// Telemetry sources.
const (
	SourceSimulated Source = "simulated"
	SourcePhysical  Source = "physical"
)

// GeneratorType selects a telemetry value generator.
type GeneratorType string

// Generator types.
const (
	GeneratorRandom   GeneratorType = "random"
	GeneratorSequence GeneratorType = "sequence"
	GeneratorConstant GeneratorType = "constant"
	GeneratorReplay   GeneratorType = "replay"
	GeneratorSine     GeneratorType = "sine"
	GeneratorCustom   GeneratorType = "custom"
)

// Distribution selects the sampling distribution of the random generator.
type Distribution string

// Distributions.
const (
	DistUniform     Distribution = "uniform"
	DistNormal      Distribution = "normal"
	DistExponential Distribution = "exponential"
)

// GeneratorConfig configures a telemetry value generator. The Type tag
// decides which of the variant fields apply.
type GeneratorConfig struct {
	Type GeneratorType `json:"type"`

	// random
	Min          *float64     `json:"min,omitempty"`
	Max          *float64     `json:"max,omitempty"`
	Distribution Distribution `json:"distribution,omitempty"`
	Mean         *float64     `json:"mean,omitempty"`
	Stddev       *float64     `json:"stddev,omitempty"`
	Rate         *float64     `json:"rate,omitempty"`

	// sequence
	Start *float64 `json:"start,omitempty"`
	Step  float64  `json:"step,omitempty"`
	Wrap  bool     `json:"wrap,omitempty"`

	// constant
	Value any `json:"value,omitempty"`

	// replay
	DataFile   string `json:"dataFile,omitempty"`
	LoopReplay *bool  `json:"loopReplay,omitempty"`

	// sine
	PeriodMs int     `json:"periodMs,omitempty"`
	Phase    float64 `json:"phase,omitempty"`

	// custom
	Expression string         `json:"expression,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// TelemetryAttribute configures one telemetry attribute of a device model.
type TelemetryAttribute struct {
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Unit       string          `json:"unit,omitempty"`
	Generator  GeneratorConfig `json:"generator"`
	IntervalMs int             `json:"intervalMs"`
	Topic      string          `json:"topic,omitempty"`
}

// ConnectionConfig configures how a device reaches its broker or server.
// Pointer fields distinguish "unset" from explicit zero values so that
// override merging works field-wise.
type ConnectionConfig struct {
	Broker          string `json:"broker,omitempty"`
	Port            *int   `json:"port,omitempty"`
	TLS             *bool  `json:"tls,omitempty"`
	ClientIDPattern string `json:"clientIdPattern,omitempty"`
	TopicPattern    string `json:"topicPattern,omitempty"`
	QoS             *int   `json:"qos,omitempty"`
	KeepAlive       *int   `json:"keepAlive,omitempty"`
	CleanSession    *bool  `json:"cleanSession,omitempty"`
	Username        string `json:"username,omitempty"`
	PasswordRef     string `json:"passwordRef,omitempty"`
}

// DeviceModel is the immutable template a device instance is created from.
type DeviceModel struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Version     string               `json:"version,omitempty"`
	Type        DeviceType           `json:"type"`
	Protocol    Protocol             `json:"protocol"`
	Connection  *ConnectionConfig    `json:"connection,omitempty"`
	Telemetry   []TelemetryAttribute `json:"telemetry,omitempty"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
}

// LaunchStrategy schedules how a group's devices transition to running.
type LaunchStrategy string

// Launch strategies.
const (
	LaunchImmediate   LaunchStrategy = "immediate"
	LaunchLinear      LaunchStrategy = "linear"
	LaunchBatch       LaunchStrategy = "batch"
	LaunchExponential LaunchStrategy = "exponential"
)

// LaunchConfig configures a group launch.
type LaunchConfig struct {
	Strategy     LaunchStrategy `json:"strategy"`
	DelayMs      int            `json:"delayMs"`
	BatchSize    int            `json:"batchSize"`
	MaxDelayMs   int            `json:"maxDelayMs"`
	ExponentBase float64        `json:"exponentBase"`
}

// DefaultLaunchConfig returns the launch defaults applied to unset fields.
func DefaultLaunchConfig() LaunchConfig {
	return LaunchConfig{
		Strategy:     LaunchImmediate,
		BatchSize:    100,
		MaxDelayMs:   60000,
		ExponentBase: 1.5,
	}
}

// DropoutStrategy schedules how a subset of a group is stopped.
type DropoutStrategy string

// Dropout strategies.
const (
	DropoutImmediate   DropoutStrategy = "immediate"
	DropoutLinear      DropoutStrategy = "linear"
	DropoutExponential DropoutStrategy = "exponential"
	DropoutRandom      DropoutStrategy = "random"
)

// DropoutConfig configures a dropout simulation run.
type DropoutConfig struct {
	Strategy         DropoutStrategy `json:"strategy"`
	Count            *int            `json:"count,omitempty"`
	Percentage       *float64        `json:"percentage,omitempty"`
	DelayMs          int             `json:"delayMs"`
	DurationMs       int             `json:"durationMs"`
	ExponentBase     float64         `json:"exponentBase"`
	Reconnect        bool            `json:"reconnect"`
	ReconnectDelayMs int             `json:"reconnectDelayMs"`
}

// DefaultDropoutConfig returns the dropout defaults applied to unset fields.
// DelayMs and DurationMs stay zero when unset: a zero delay is a valid
// schedule, not a missing one.
func DefaultDropoutConfig() DropoutConfig {
	return DropoutConfig{
		Strategy:     DropoutLinear,
		ExponentBase: 1.5,
	}
}

// BindingConfig configures how a proxy device attaches to an external source.
type BindingConfig struct {
	Protocol    Protocol `json:"protocol"`
	Broker      string   `json:"broker,omitempty"`
	Port        *int     `json:"port,omitempty"`
	Topic       string   `json:"topic,omitempty"`
	QoS         int      `json:"qos"`
	Username    string   `json:"username,omitempty"`
	PasswordRef string   `json:"passwordRef,omitempty"`
	WebhookPath string   `json:"webhookPath,omitempty"`
	ResourceURI string   `json:"resourceUri,omitempty"`
}

// BindingStatus reports the state of a proxy device binding.
type BindingStatus struct {
	Bound       bool       `json:"bound"`
	Protocol    Protocol   `json:"protocol,omitempty"`
	Broker      string     `json:"broker,omitempty"`
	Port        *int       `json:"port,omitempty"`
	Topic       string     `json:"topic,omitempty"`
	WebhookURL  string     `json:"webhookUrl,omitempty"`
	ResourceURI string     `json:"resourceUri,omitempty"`
	BoundAt     *time.Time `json:"boundAt,omitempty"`
}
