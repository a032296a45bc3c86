package device

import (
	"fmt"
	"log/slog"

	"github.com/fleetsim/fleetsim/pkg/adapter"
	"github.com/fleetsim/fleetsim/pkg/model"
)

// AdapterFactory builds the protocol adapter a virtual device publishes
// through. Tests substitute a factory returning an in-memory fake.
type AdapterFactory func(protocol model.Protocol, conn model.EffectiveConnection, clientID string, log *slog.Logger) (adapter.Adapter, error)

// DefaultAdapterFactory constructs the real protocol adapters.
func DefaultAdapterFactory(protocol model.Protocol, conn model.EffectiveConnection, clientID string, log *slog.Logger) (adapter.Adapter, error) {
	switch protocol {
	case model.ProtocolMQTT:
		return adapter.NewMQTTAdapter(adapter.MQTTConfig{
			ClientID:     clientID,
			BrokerHost:   conn.Broker,
			BrokerPort:   conn.Port,
			TLS:          conn.TLS,
			Username:     conn.Username,
			KeepAlive:    conn.KeepAlive,
			CleanSession: conn.CleanSession,
		}, log), nil

	case model.ProtocolHTTP:
		scheme := "http"
		if conn.TLS {
			scheme = "https"
		}
		return adapter.NewHTTPAdapter(adapter.HTTPConfig{
			ClientID: clientID,
			BaseURL:  fmt.Sprintf("%s://%s:%d", scheme, conn.Broker, conn.Port),
			Username: conn.Username,
		}, log), nil

	case model.ProtocolCoAP:
		return adapter.NewCoAPAdapter(adapter.CoAPConfig{
			ClientID: clientID,
			Host:     conn.Broker,
			Port:     conn.Port,
		}, log), nil

	default:
		return nil, fmt.Errorf("unsupported protocol: %s", protocol)
	}
}
