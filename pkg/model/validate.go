package model

import (
	"errors"
	"fmt"
)

// Validate checks a device model for structural problems before registration.
func (m *DeviceModel) Validate() error {
	if m.ID == "" {
		return errors.New("model id is required")
	}
	if m.Name == "" {
		return errors.New("model name is required")
	}
	switch m.Type {
	case TypeSensor, TypeGateway, TypeActuator, TypeCustom, TypeProxy:
	default:
		return fmt.Errorf("unknown device type %q", m.Type)
	}
	switch m.Protocol {
	case ProtocolMQTT, ProtocolCoAP, ProtocolHTTP:
	default:
		return fmt.Errorf("unknown protocol %q", m.Protocol)
	}

	seen := make(map[string]bool, len(m.Telemetry))
	for i := range m.Telemetry {
		attr := &m.Telemetry[i]
		if attr.Name == "" {
			return fmt.Errorf("telemetry[%d]: name is required", i)
		}
		if seen[attr.Name] {
			return fmt.Errorf("telemetry attribute %q declared twice", attr.Name)
		}
		seen[attr.Name] = true
		if attr.IntervalMs <= 0 {
			return fmt.Errorf("telemetry attribute %q: intervalMs must be > 0", attr.Name)
		}
		if err := attr.Generator.validate(); err != nil {
			return fmt.Errorf("telemetry attribute %q: %w", attr.Name, err)
		}
	}

	if conn := m.Connection; conn != nil {
		if conn.QoS != nil && (*conn.QoS < 0 || *conn.QoS > 2) {
			return fmt.Errorf("qos must be 0, 1, or 2, got %d", *conn.QoS)
		}
		if conn.Port != nil && (*conn.Port < 1 || *conn.Port > 65535) {
			return fmt.Errorf("port out of range: %d", *conn.Port)
		}
	}

	return nil
}

// validate checks the variant-specific generator fields. Unknown generator
// types are accepted: the factory falls back to uniform random for them.
func (g *GeneratorConfig) validate() error {
	if g.Min != nil && g.Max != nil && *g.Min > *g.Max {
		return fmt.Errorf("generator min %v > max %v", *g.Min, *g.Max)
	}
	switch g.Type {
	case GeneratorReplay:
		if g.DataFile == "" {
			return errors.New("replay generator requires dataFile")
		}
	case GeneratorSine:
		if g.PeriodMs < 0 {
			return errors.New("sine generator periodMs must be >= 0")
		}
	case GeneratorCustom:
		if g.Expression == "" {
			return errors.New("custom generator requires expression")
		}
	}
	return nil
}

// Validate checks a binding configuration for a proxy device.
func (b *BindingConfig) Validate() error {
	switch b.Protocol {
	case ProtocolMQTT, ProtocolHTTP:
	case ProtocolCoAP:
		return errors.New("coap proxy bindings are not supported")
	default:
		return fmt.Errorf("unknown protocol %q", b.Protocol)
	}
	if b.QoS < 0 || b.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1, or 2, got %d", b.QoS)
	}
	return nil
}

// Normalize fills unset launch fields with defaults.
func (c LaunchConfig) Normalize() LaunchConfig {
	def := DefaultLaunchConfig()
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxDelayMs <= 0 {
		c.MaxDelayMs = def.MaxDelayMs
	}
	if c.ExponentBase < 1.0 {
		c.ExponentBase = def.ExponentBase
	}
	return c
}

// Normalize fills unset dropout fields with defaults.
func (c DropoutConfig) Normalize() DropoutConfig {
	def := DefaultDropoutConfig()
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	if c.ExponentBase < 1.0 {
		c.ExponentBase = def.ExponentBase
	}
	return c
}
