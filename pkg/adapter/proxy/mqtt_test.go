package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBroker(t *testing.T) (*mochi.Server, int) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		ID:      fmt.Sprintf("proxy-test-%d", port),
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})))

	go func() { _ = server.Serve() }()
	t.Cleanup(func() { _ = server.Close() })

	time.Sleep(100 * time.Millisecond)
	return server, port
}

func TestMQTTBinder_ForwardsTelemetry(t *testing.T) {
	server, port := startBroker(t)

	binder := NewMQTTBinder(MQTTBinderConfig{
		DeviceID: "proxy-1",
		Broker:   "127.0.0.1",
		Port:     port,
		Topic:    "ext/x",
		QoS:      1,
	}, nil)

	var mu sync.Mutex
	var received []map[string]any
	webhookPath, err := binder.Bind(context.Background(), func(payload map[string]any) {
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Empty(t, webhookPath, "MQTT bindings have no webhook")
	assert.True(t, binder.IsConnected())

	// Give the subscription a moment to settle on the broker side.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, server.Publish("ext/x", []byte(`{"v":1}`), false, 1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1.0, received[0]["v"])
	mu.Unlock()

	require.NoError(t, binder.Unbind(context.Background()))
	assert.False(t, binder.IsConnected())
}

func TestMQTTBinder_DropsMalformedPayloads(t *testing.T) {
	server, port := startBroker(t)

	binder := NewMQTTBinder(MQTTBinderConfig{
		DeviceID: "proxy-2",
		Broker:   "127.0.0.1",
		Port:     port,
		Topic:    "ext/bad",
	}, nil)

	var mu sync.Mutex
	delivered := 0
	_, err := binder.Bind(context.Background(), func(map[string]any) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer binder.Unbind(context.Background())

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, server.Publish("ext/bad", []byte("not json"), false, 0))
	require.NoError(t, server.Publish("ext/bad", []byte(`{"ok":true}`), false, 0))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 1
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, int64(1), binder.MalformedCount())
}

func TestMQTTBinder_ConnectTimeout(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	binder := NewMQTTBinder(MQTTBinderConfig{
		DeviceID: "proxy-3",
		Broker:   "127.0.0.1",
		Port:     port,
	}, nil)

	_, err = binder.Bind(context.Background(), func(map[string]any) {})
	assert.Error(t, err)
	assert.False(t, binder.IsConnected())
}

func TestWebhookRegistry(t *testing.T) {
	t.Parallel()

	reg := NewWebhookRegistry()
	assert.Nil(t, reg.Lookup("d1"))

	var got map[string]any
	reg.Register("d1", func(payload map[string]any) { got = payload })

	handler := reg.Lookup("d1")
	require.NotNil(t, handler)
	handler(map[string]any{"k": "v"})
	assert.Equal(t, "v", got["k"])

	reg.Unregister("d1")
	assert.Nil(t, reg.Lookup("d1"))
}

func TestHTTPBinder_RegistersAndUnregisters(t *testing.T) {
	t.Parallel()

	reg := NewWebhookRegistry()
	binder := NewHTTPBinder("d9", "", reg, nil)

	path, err := binder.Bind(context.Background(), func(map[string]any) {})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/webhooks/d9", path)
	assert.NotNil(t, reg.Lookup("d9"))

	require.NoError(t, binder.Unbind(context.Background()))
	assert.Nil(t, reg.Lookup("d9"))
}
