package adapter

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
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freePort asks the kernel for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// startBroker runs an in-process MQTT broker for the test.
func startBroker(t *testing.T) (*mochi.Server, int) {
	t.Helper()

	port := freePort(t)
	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))

	listener := listeners.NewTCP(listeners.Config{
		ID:      fmt.Sprintf("test-%d", port),
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})
	require.NoError(t, server.AddListener(listener))

	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(func() { _ = server.Close() })

	// Wait for the listener to come up.
	time.Sleep(100 * time.Millisecond)
	return server, port
}

func TestMQTTAdapter_ConnectPublishDisconnect(t *testing.T) {
	server, port := startBroker(t)

	a := NewMQTTAdapter(MQTTConfig{
		ClientID:     "test-device",
		BrokerHost:   "127.0.0.1",
		BrokerPort:   port,
		CleanSession: true,
	}, nil)

	require.NoError(t, a.Connect(context.Background()))
	assert.True(t, a.IsConnected())
	assert.Equal(t, "mqtt", a.ProtocolName())

	// Capture what arrives at the broker via an inline subscription.
	var mu sync.Mutex
	var received []byte
	err := server.Subscribe("devices/test-device/telemetry", 1, func(cl *mochi.Client, sub packets.Subscription, pk packets.Packet) {
		mu.Lock()
		received = append([]byte(nil), pk.Payload...)
		mu.Unlock()
	})
	require.NoError(t, err)

	payload := map[string]any{"deviceId": "test-device", "temperature": 21.5}
	require.NoError(t, a.Publish(context.Background(), "devices/test-device/telemetry", payload, 1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Contains(t, string(received), `"temperature":21.5`)
	mu.Unlock()

	require.NoError(t, a.Disconnect(context.Background()))
	assert.False(t, a.IsConnected())
}

func TestMQTTAdapter_PublishWhileDisconnected(t *testing.T) {
	a := NewMQTTAdapter(MQTTConfig{ClientID: "x", BrokerHost: "127.0.0.1"}, nil)
	err := a.Publish(context.Background(), "t", "data", 0)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestMQTTAdapter_SubscribeReceivesJSON(t *testing.T) {
	server, port := startBroker(t)

	a := NewMQTTAdapter(MQTTConfig{
		ClientID:   "subscriber",
		BrokerHost: "127.0.0.1",
		BrokerPort: port,
	}, nil)
	require.NoError(t, a.Connect(context.Background()))
	defer a.Disconnect(context.Background())

	var mu sync.Mutex
	var gotTopic string
	var gotPayload any
	err := a.Subscribe(context.Background(), "commands/+/set", func(topic string, payload any) {
		mu.Lock()
		gotTopic = topic
		gotPayload = payload
		mu.Unlock()
	}, 1)
	require.NoError(t, err)

	require.NoError(t, server.Publish("commands/dev-1/set", []byte(`{"mode":"eco"}`), false, 1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotTopic != ""
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "commands/dev-1/set", gotTopic)
	decoded, ok := gotPayload.(map[string]any)
	require.True(t, ok, "JSON payloads decode to maps")
	assert.Equal(t, "eco", decoded["mode"])
	mu.Unlock()
}

func TestMQTTAdapter_SubscribeRawBytesPassThrough(t *testing.T) {
	server, port := startBroker(t)

	a := NewMQTTAdapter(MQTTConfig{
		ClientID:   "raw-subscriber",
		BrokerHost: "127.0.0.1",
		BrokerPort: port,
	}, nil)
	require.NoError(t, a.Connect(context.Background()))
	defer a.Disconnect(context.Background())

	var mu sync.Mutex
	var gotPayload any
	require.NoError(t, a.Subscribe(context.Background(), "raw/topic", func(_ string, payload any) {
		mu.Lock()
		gotPayload = payload
		mu.Unlock()
	}, 0))

	require.NoError(t, server.Publish("raw/topic", []byte{0xde, 0xad, 0xbe, 0xef}, false, 0))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotPayload != nil
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	raw, ok := gotPayload.([]byte)
	require.True(t, ok, "non-JSON payloads stay raw bytes")
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, raw)
	mu.Unlock()
}

func TestMQTTAdapter_ConnectTimeout(t *testing.T) {
	// A port with nothing listening: connect must fail, not hang.
	a := NewMQTTAdapter(MQTTConfig{
		ClientID:   "timeout-test",
		BrokerHost: "127.0.0.1",
		BrokerPort: freePort(t),
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := a.Connect(ctx)
	assert.Error(t, err)
	assert.False(t, a.IsConnected())
}
