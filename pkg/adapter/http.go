package adapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fleetsim/fleetsim/pkg/logging"
)

// HTTPConfig configures an outbound HTTP adapter.
type HTTPConfig struct {
	ClientID string
	BaseURL  string
	Username string
	Password string
}

// HTTPAdapter publishes telemetry as POSTs against a base URL over a
// keep-alive client. HTTP has no native subscription, so Subscribe is a
// documented no-op.
type HTTPAdapter struct {
	cfg       HTTPConfig
	log       *slog.Logger
	client    *http.Client
	connected atomic.Bool
}

// NewHTTPAdapter creates an HTTP adapter. The logger may be nil.
func NewHTTPAdapter(cfg HTTPConfig, log *slog.Logger) *HTTPAdapter {
	if log == nil {
		log = logging.Nop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPAdapter{
		cfg: cfg,
		log: log,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Connect marks the session usable. The underlying transport pools
// connections lazily, so there is nothing to dial up front.
func (a *HTTPAdapter) Connect(_ context.Context) error {
	a.connected.Store(true)
	return nil
}

// Disconnect closes pooled connections.
func (a *HTTPAdapter) Disconnect(_ context.Context) error {
	a.connected.Store(false)
	a.client.CloseIdleConnections()
	return nil
}

// Publish POSTs the payload to baseURL/topic. Non-2xx responses fail the
// publish.
func (a *HTTPAdapter) Publish(ctx context.Context, topic string, payload any, _ int) error {
	return a.send(ctx, http.MethodPost, topic, payload, nil)
}

// Subscribe is a no-op: HTTP has no native subscription mechanism.
func (a *HTTPAdapter) Subscribe(_ context.Context, topic string, _ MessageHandler, _ int) error {
	a.log.Warn("http adapter has no subscription support; subscribe ignored", "topic", topic)
	return nil
}

// Unsubscribe is a no-op, matching Subscribe.
func (a *HTTPAdapter) Unsubscribe(_ context.Context, _ string) error { return nil }

// IsConnected reports whether the session is open.
func (a *HTTPAdapter) IsConnected() bool { return a.connected.Load() }

// ProtocolName identifies the adapter.
func (a *HTTPAdapter) ProtocolName() string { return "http" }

// Get fetches baseURL/topic and returns the decoded body.
func (a *HTTPAdapter) Get(ctx context.Context, topic string) (any, error) {
	var out any
	err := a.send(ctx, http.MethodGet, topic, nil, &out)
	return out, err
}

// Put sends a PUT to baseURL/topic.
func (a *HTTPAdapter) Put(ctx context.Context, topic string, payload any) error {
	return a.send(ctx, http.MethodPut, topic, payload, nil)
}

func (a *HTTPAdapter) send(ctx context.Context, method, topic string, payload any, out *any) error {
	if !a.connected.Load() {
		return ErrNotConnected
	}

	var body io.Reader
	contentType := ""
	if payload != nil {
		raw, err := encodePayload(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(raw)
		switch payload.(type) {
		case []byte, string:
			contentType = "application/octet-stream"
		default:
			contentType = "application/json"
		}
	}

	url := a.cfg.BaseURL + "/" + strings.TrimLeft(topic, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if a.cfg.Username != "" {
		req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("http %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %s %s: status %d: %s", method, url, resp.StatusCode, snippet)
	}

	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		*out = decodePayload(raw)
	}
	return nil
}
