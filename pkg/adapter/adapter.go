// Package adapter provides the protocol adapters virtual devices publish
// through: MQTT, HTTP, and CoAP behind one capability set.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotConnected is returned by operations that require an established
// connection.
var ErrNotConnected = errors.New("adapter not connected")

// MessageHandler receives inbound messages for a subscription. The payload is
// the decoded JSON value when the body parses as UTF-8 JSON, otherwise the
// raw bytes.
type MessageHandler func(topic string, payload any)

// Adapter is the uniform protocol surface a virtual device drives. Concrete
// adapters are independent types; compose them into the device, don't extend
// them.
type Adapter interface {
	// Connect establishes the transport. It honours ctx cancellation and the
	// protocol-specific hard timeout.
	Connect(ctx context.Context) error

	// Disconnect tears the transport down. Best effort; safe to call on a
	// disconnected adapter.
	Disconnect(ctx context.Context) error

	// Publish sends a payload to a topic. Structured payloads are serialised
	// as JSON; []byte and string pass through as raw bodies.
	Publish(ctx context.Context, topic string, payload any, qos int) error

	// Subscribe registers a handler for messages on a topic pattern.
	Subscribe(ctx context.Context, topic string, handler MessageHandler, qos int) error

	// Unsubscribe removes a subscription.
	Unsubscribe(ctx context.Context, topic string) error

	// IsConnected reports whether the transport is currently usable.
	IsConnected() bool

	// ProtocolName identifies the adapter ("mqtt", "http", "coap").
	ProtocolName() string
}

// encodePayload serialises a publish payload: raw bytes and strings pass
// through, everything else is marshalled as JSON.
func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return json.Marshal(p)
	}
}

// decodePayload attempts to decode an inbound body as JSON; on failure the
// raw bytes are handed to the subscriber.
func decodePayload(body []byte) any {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return body
	}
	return decoded
}
