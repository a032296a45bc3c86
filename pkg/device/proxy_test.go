package device

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetsim/pkg/adapter/proxy"
	"github.com/fleetsim/fleetsim/pkg/model"
)

// fakeBinder hands the bound handler back to the test.
type fakeBinder struct {
	handler     proxy.TelemetryHandler
	webhookPath string
	unbound     bool
}

func (f *fakeBinder) Bind(_ context.Context, onTelemetry proxy.TelemetryHandler) (string, error) {
	f.handler = onTelemetry
	return f.webhookPath, nil
}

func (f *fakeBinder) Unbind(context.Context) error {
	f.unbound = true
	return nil
}

func proxyModel() *model.DeviceModel {
	return &model.DeviceModel{
		ID:       "gateway-proxy",
		Name:     "Gateway Proxy",
		Type:     model.TypeProxy,
		Protocol: model.ProtocolMQTT,
	}
}

func newTestProxy(t *testing.T, binder *fakeBinder) *Proxy {
	t.Helper()
	return NewProxy(ProxyConfig{
		DeviceID: "proxy-1",
		Model:    proxyModel(),
		Webhooks: proxy.NewWebhookRegistry(),
		BinderFactory: func(string, model.BindingConfig, *proxy.WebhookRegistry, *slog.Logger) (proxy.Binder, error) {
			return binder, nil
		},
	})
}

func TestProxy_BindReceiveUnbind(t *testing.T) {
	t.Parallel()

	binder := &fakeBinder{}
	d := newTestProxy(t, binder)

	_, err := d.Bind(context.Background(), model.BindingConfig{Protocol: model.ProtocolMQTT, Topic: "ext/x", QoS: 1})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, d.Status())

	// {"v":1} counts as 8 bytes, serialised as {"v": 1}.
	binder.handler(map[string]any{"v": 1.0})

	m := d.Metrics()
	assert.Equal(t, int64(1), m.MessagesReceived)
	assert.Equal(t, int64(8), m.BytesReceived)
	assert.Equal(t, int64(0), m.MessagesSent)
	assert.Equal(t, int64(0), m.BytesSent)

	status := d.BindingStatus()
	assert.True(t, status.Bound)
	assert.Equal(t, "ext/x", status.Topic)
	require.NotNil(t, status.BoundAt)

	require.NoError(t, d.Unbind(context.Background()))
	assert.True(t, binder.unbound)
	assert.Equal(t, model.StatusStopped, d.Status())
	assert.False(t, d.BindingStatus().Bound)
}

func TestProxy_DoubleBindRejected(t *testing.T) {
	t.Parallel()

	d := newTestProxy(t, &fakeBinder{})
	_, err := d.Bind(context.Background(), model.BindingConfig{Protocol: model.ProtocolMQTT})
	require.NoError(t, err)

	_, err = d.Bind(context.Background(), model.BindingConfig{Protocol: model.ProtocolMQTT})
	assert.ErrorIs(t, err, ErrAlreadyBound)
}

func TestProxy_UnbindWithoutBind(t *testing.T) {
	t.Parallel()

	d := newTestProxy(t, &fakeBinder{})
	assert.ErrorIs(t, d.Unbind(context.Background()), ErrNotBound)

	// Stop treats "not bound" as a no-op so group operations can sweep
	// proxies alongside virtual devices.
	assert.NoError(t, d.Stop(context.Background()))
}

func TestProxy_StartNotSupported(t *testing.T) {
	t.Parallel()

	d := newTestProxy(t, &fakeBinder{})
	assert.ErrorIs(t, d.Start(context.Background()), ErrNotStartable)
}

func TestProxy_HTTPBindReturnsWebhook(t *testing.T) {
	t.Parallel()

	binder := &fakeBinder{webhookPath: "/api/v1/webhooks/proxy-1"}
	d := newTestProxy(t, binder)

	url, err := d.Bind(context.Background(), model.BindingConfig{Protocol: model.ProtocolHTTP})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/webhooks/proxy-1", url)
	assert.Equal(t, "/api/v1/webhooks/proxy-1", d.BindingStatus().WebhookURL)
}
