package adapter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpclient "github.com/plgd-dev/go-coap/v3/udp/client"

	"github.com/fleetsim/fleetsim/pkg/logging"
)

// CoAPConfig configures an outbound CoAP adapter.
type CoAPConfig struct {
	ClientID string
	Host     string
	Port     int
}

// CoAPAdapter publishes with CoAP PUTs and subscribes with CoAP Observe
// (RFC 7641). QoS >= 1 maps to confirmable messages, QoS 0 to
// non-confirmable.
type CoAPAdapter struct {
	cfg  CoAPConfig
	log  *slog.Logger
	conn *udpclient.Conn

	mu           sync.Mutex
	observations map[string]observation
}

type observation interface {
	Cancel(ctx context.Context, opts ...message.Option) error
}

// NewCoAPAdapter creates a CoAP adapter. The logger may be nil.
func NewCoAPAdapter(cfg CoAPConfig, log *slog.Logger) *CoAPAdapter {
	if log == nil {
		log = logging.Nop()
	}
	if cfg.Port == 0 {
		cfg.Port = 5683
	}
	return &CoAPAdapter{
		cfg:          cfg,
		log:          log,
		observations: make(map[string]observation),
	}
}

// Connect dials the CoAP server over UDP.
func (a *CoAPAdapter) Connect(_ context.Context) error {
	conn, err := udp.Dial(fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port))
	if err != nil {
		return fmt.Errorf("coap dial %s:%d: %w", a.cfg.Host, a.cfg.Port, err)
	}
	a.conn = conn
	return nil
}

// Disconnect cancels outstanding observations and closes the connection.
func (a *CoAPAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	for topic, obs := range a.observations {
		if err := obs.Cancel(ctx); err != nil {
			a.log.Debug("coap observation cancel failed", "topic", topic, "error", err)
		}
	}
	a.observations = make(map[string]observation)
	a.mu.Unlock()

	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

// Publish PUTs the payload to coap://host:port/topic. The message is
// confirmable iff qos >= 1.
func (a *CoAPAdapter) Publish(ctx context.Context, topic string, payload any, qos int) error {
	if a.conn == nil {
		return ErrNotConnected
	}

	body, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req := a.conn.AcquireMessage(ctx)
	defer a.conn.ReleaseMessage(req)

	req.SetCode(codes.PUT)
	if err := req.SetPath(coapPath(topic)); err != nil {
		return fmt.Errorf("coap path %q: %w", topic, err)
	}
	req.SetContentFormat(message.AppJSON)
	req.SetBody(bytes.NewReader(body))
	if qos >= 1 {
		req.SetType(message.Confirmable)
	} else {
		req.SetType(message.NonConfirmable)
	}

	resp, err := a.conn.Do(req)
	if err != nil {
		return fmt.Errorf("coap put %s: %w", topic, err)
	}
	if !coapSuccess(resp.Code()) {
		return fmt.Errorf("coap put %s: response code %v", topic, resp.Code())
	}
	return nil
}

// Subscribe starts a CoAP observation of the topic resource; every
// notification is dispatched to the handler.
func (a *CoAPAdapter) Subscribe(ctx context.Context, topic string, handler MessageHandler, _ int) error {
	if a.conn == nil {
		return ErrNotConnected
	}

	obs, err := a.conn.Observe(ctx, coapPath(topic), func(notification *pool.Message) {
		raw, err := notification.ReadBody()
		if err != nil {
			a.log.Warn("coap notification body read failed", "topic", topic, "error", err)
			return
		}
		handler(topic, decodePayload(raw))
	})
	if err != nil {
		return fmt.Errorf("coap observe %s: %w", topic, err)
	}

	a.mu.Lock()
	a.observations[topic] = obs
	a.mu.Unlock()
	return nil
}

// Unsubscribe cancels the observation of a topic.
func (a *CoAPAdapter) Unsubscribe(ctx context.Context, topic string) error {
	a.mu.Lock()
	obs, ok := a.observations[topic]
	delete(a.observations, topic)
	a.mu.Unlock()

	if !ok {
		return nil
	}
	return obs.Cancel(ctx)
}

// IsConnected reports whether the UDP association is open.
func (a *CoAPAdapter) IsConnected() bool {
	return a.conn != nil
}

// ProtocolName identifies the adapter.
func (a *CoAPAdapter) ProtocolName() string { return "coap" }

func coapPath(topic string) string {
	return "/" + strings.TrimLeft(topic, "/")
}

func coapSuccess(code codes.Code) bool {
	switch code {
	case codes.Created, codes.Deleted, codes.Valid, codes.Changed, codes.Content:
		return true
	default:
		return false
	}
}
