package model

// Connection defaults applied when neither the override nor the model set a
// field.
const (
	DefaultMQTTPort  = 1883
	DefaultHTTPPort  = 80
	DefaultCoAPPort  = 5683
	DefaultQoS       = 1
	DefaultKeepAlive = 60
)

// EffectiveConnection is a fully resolved connection configuration with every
// field populated.
type EffectiveConnection struct {
	Broker          string
	Port            int
	TLS             bool
	ClientIDPattern string
	TopicPattern    string
	QoS             int
	KeepAlive       int
	CleanSession    bool
	Username        string
	PasswordRef     string
}

// MergeConnection resolves the effective connection for a device: field-wise,
// later configs win over earlier ones, and every config wins over the
// protocol defaults. Callers pass (engine defaults,) model config, override.
func MergeConnection(protocol Protocol, cfgs ...*ConnectionConfig) EffectiveConnection {
	eff := EffectiveConnection{
		Port:         defaultPort(protocol),
		QoS:          DefaultQoS,
		KeepAlive:    DefaultKeepAlive,
		CleanSession: true,
	}

	for _, cfg := range cfgs {
		if cfg == nil {
			continue
		}
		if cfg.Broker != "" {
			eff.Broker = cfg.Broker
		}
		if cfg.Port != nil {
			eff.Port = *cfg.Port
		}
		if cfg.TLS != nil {
			eff.TLS = *cfg.TLS
		}
		if cfg.ClientIDPattern != "" {
			eff.ClientIDPattern = cfg.ClientIDPattern
		}
		if cfg.TopicPattern != "" {
			eff.TopicPattern = cfg.TopicPattern
		}
		if cfg.QoS != nil {
			eff.QoS = *cfg.QoS
		}
		if cfg.KeepAlive != nil {
			eff.KeepAlive = *cfg.KeepAlive
		}
		if cfg.CleanSession != nil {
			eff.CleanSession = *cfg.CleanSession
		}
		if cfg.Username != "" {
			eff.Username = cfg.Username
		}
		if cfg.PasswordRef != "" {
			eff.PasswordRef = cfg.PasswordRef
		}
	}

	return eff
}

func defaultPort(protocol Protocol) int {
	switch protocol {
	case ProtocolHTTP:
		return DefaultHTTPPort
	case ProtocolCoAP:
		return DefaultCoAPPort
	default:
		return DefaultMQTTPort
	}
}
