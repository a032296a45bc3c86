package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAdapter_PublishJSON(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var gotPath, gotContentType string
	var gotBody []byte

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotBody = body
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	a := NewHTTPAdapter(HTTPConfig{ClientID: "h1", BaseURL: ts.URL}, nil)
	require.NoError(t, a.Connect(context.Background()))
	assert.True(t, a.IsConnected())

	payload := map[string]any{"deviceId": "h1", "humidity": 55.2}
	require.NoError(t, a.Publish(context.Background(), "devices/h1/telemetry", payload, 1))

	mu.Lock()
	assert.Equal(t, "/devices/h1/telemetry", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, 55.2, decoded["humidity"])
	mu.Unlock()

	require.NoError(t, a.Disconnect(context.Background()))
	assert.False(t, a.IsConnected())
}

func TestHTTPAdapter_PublishRawBody(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = body
		mu.Unlock()
	}))
	defer ts.Close()

	a := NewHTTPAdapter(HTTPConfig{BaseURL: ts.URL}, nil)
	require.NoError(t, a.Connect(context.Background()))

	require.NoError(t, a.Publish(context.Background(), "ingest", []byte("raw-bytes"), 0))

	mu.Lock()
	assert.Equal(t, "raw-bytes", string(gotBody))
	mu.Unlock()
}

func TestHTTPAdapter_NonSuccessFailsPublish(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer ts.Close()

	a := NewHTTPAdapter(HTTPConfig{BaseURL: ts.URL}, nil)
	require.NoError(t, a.Connect(context.Background()))

	err := a.Publish(context.Background(), "t", map[string]any{"x": 1}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPAdapter_SubscribeIsNoOp(t *testing.T) {
	t.Parallel()

	a := NewHTTPAdapter(HTTPConfig{BaseURL: "http://localhost:1"}, nil)
	require.NoError(t, a.Connect(context.Background()))
	assert.NoError(t, a.Subscribe(context.Background(), "t", func(string, any) {}, 0))
	assert.NoError(t, a.Unsubscribe(context.Background(), "t"))
}

func TestHTTPAdapter_GetAndPut(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"state":"on"}`))
		case http.MethodPut:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer ts.Close()

	a := NewHTTPAdapter(HTTPConfig{BaseURL: ts.URL}, nil)
	require.NoError(t, a.Connect(context.Background()))

	out, err := a.Get(context.Background(), "state")
	require.NoError(t, err)
	decoded, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "on", decoded["state"])

	assert.NoError(t, a.Put(context.Background(), "state", map[string]any{"state": "off"}))
}

func TestHTTPAdapter_DisconnectedPublishFails(t *testing.T) {
	t.Parallel()

	a := NewHTTPAdapter(HTTPConfig{BaseURL: "http://localhost:1"}, nil)
	assert.ErrorIs(t, a.Publish(context.Background(), "t", "x", 0), ErrNotConnected)
}
