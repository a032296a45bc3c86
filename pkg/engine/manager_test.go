package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetsim/pkg/adapter"
	"github.com/fleetsim/fleetsim/pkg/device"
	"github.com/fleetsim/fleetsim/pkg/model"
	"github.com/fleetsim/fleetsim/pkg/registry"
)

// stubAdapter is an in-memory adapter whose connects always succeed.
type stubAdapter struct {
	mu        sync.Mutex
	connected bool
	publishes int
}

func (s *stubAdapter) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *stubAdapter) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *stubAdapter) Publish(context.Context, string, any, int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishes++
	return nil
}

func (s *stubAdapter) Subscribe(context.Context, string, adapter.MessageHandler, int) error {
	return nil
}
func (s *stubAdapter) Unsubscribe(context.Context, string) error { return nil }

func (s *stubAdapter) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubAdapter) ProtocolName() string { return "stub" }

func newTestManager(t *testing.T, maxDevices int) *Manager {
	t.Helper()

	reg := registry.New(registry.Options{})
	require.NoError(t, reg.Register(&model.DeviceModel{
		ID:       "s1",
		Name:     "Sensor",
		Type:     model.TypeSensor,
		Protocol: model.ProtocolMQTT,
		Telemetry: []model.TelemetryAttribute{
			{
				Name:       "t",
				Type:       "number",
				IntervalMs: 50,
				Generator:  model.GeneratorConfig{Type: model.GeneratorConstant, Value: 42.0},
			},
		},
	}))
	require.NoError(t, reg.Register(&model.DeviceModel{
		ID:       "p1",
		Name:     "Proxy",
		Type:     model.TypeProxy,
		Protocol: model.ProtocolMQTT,
	}))

	return NewManager(Config{
		Registry:   reg,
		MaxDevices: maxDevices,
		AdapterFactory: func(model.Protocol, model.EffectiveConnection, string, *slog.Logger) (adapter.Adapter, error) {
			return &stubAdapter{}, nil
		},
	})
}

func TestManager_CreateDevice(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)

	dev, err := m.CreateDevice("s1", "", "", nil)
	require.NoError(t, err)

	// Generated id: {modelId}-{rand8hex}.
	assert.True(t, strings.HasPrefix(dev.ID(), "s1-"))
	assert.Len(t, dev.ID(), len("s1-")+8)
	assert.Equal(t, model.StatusCreated, dev.Status())

	got, err := m.GetDevice(dev.ID())
	require.NoError(t, err)
	assert.Same(t, dev, got)
}

func TestManager_CreateDeviceErrors(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 2)

	_, err := m.CreateDevice("nope", "", "", nil)
	assert.ErrorIs(t, err, ErrModelNotFound)

	_, err = m.CreateDevice("s1", "dup", "", nil)
	require.NoError(t, err)
	_, err = m.CreateDevice("s1", "dup", "", nil)
	assert.ErrorIs(t, err, ErrDeviceExists)

	_, err = m.CreateDevice("s1", "second", "", nil)
	require.NoError(t, err)
	_, err = m.CreateDevice("s1", "third", "", nil)
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestManager_ProxyModelCreatesProxyDevice(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 10)

	dev, err := m.CreateDevice("p1", "px", "", nil)
	require.NoError(t, err)
	_, ok := dev.(*device.Proxy)
	assert.True(t, ok)

	// Proxy-only operations reject simulated devices.
	_, err = m.CreateDevice("s1", "sim", "", nil)
	require.NoError(t, err)
	_, err = m.BindingStatus("sim")
	assert.ErrorIs(t, err, ErrNotProxy)
}

func TestManager_GroupIndexLifecycle(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)

	groupID, devices, err := m.CreateGroup(context.Background(), "s1", 3, "", "dev-{index}-{groupId}", 0)
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "dev-0-"+groupID, devices[0].ID())

	size, err := m.GroupSize(groupID)
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	// Deleting members one by one removes the group with its last device.
	for _, dev := range devices {
		require.NoError(t, m.DeleteDevice(context.Background(), dev.ID()))
	}
	_, err = m.GroupSize(groupID)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestManager_ListDevicesFilterAndPagination(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)

	_, _, err := m.CreateGroup(context.Background(), "s1", 5, "g1", "a-{index}", 0)
	require.NoError(t, err)
	_, _, err = m.CreateGroup(context.Background(), "s1", 2, "g2", "b-{index}", 0)
	require.NoError(t, err)

	devices, total := m.ListDevices(ListFilter{GroupID: "g1"})
	assert.Equal(t, 5, total)
	assert.Len(t, devices, 5)

	devices, total = m.ListDevices(ListFilter{Page: 2, PageSize: 3})
	assert.Equal(t, 7, total)
	assert.Len(t, devices, 3)

	devices, total = m.ListDevices(ListFilter{Page: 3, PageSize: 3})
	assert.Equal(t, 7, total)
	assert.Len(t, devices, 1)

	require.NoError(t, m.StartDevice(context.Background(), "a-0"))
	devices, total = m.ListDevices(ListFilter{Status: model.StatusRunning})
	assert.Equal(t, 1, total)
	require.Len(t, devices, 1)
	assert.Equal(t, "a-0", devices[0].ID())

	require.NoError(t, m.StopDevice(context.Background(), "a-0"))
}

func TestManager_DeleteRunningDeviceStopsIt(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)

	dev, err := m.CreateDevice("s1", "d1", "", nil)
	require.NoError(t, err)
	require.NoError(t, m.StartDevice(context.Background(), "d1"))

	require.NoError(t, m.DeleteDevice(context.Background(), "d1"))
	assert.Equal(t, model.StatusStopped, dev.Status())

	_, err = m.GetDevice("d1")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, 0, m.Stats().RunningDevices)
}

func TestManager_StartGroupImmediate(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)

	groupID, _, err := m.CreateGroup(context.Background(), "s1", 10, "", "", 0)
	require.NoError(t, err)

	started, err := m.StartGroup(context.Background(), groupID, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, started)

	// Re-starting skips already running devices.
	started, err = m.StartGroup(context.Background(), groupID, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, started)

	stopped, err := m.StopGroup(context.Background(), groupID)
	require.NoError(t, err)
	assert.Equal(t, 10, stopped)
}

func TestManager_StartGroupBatchTiming(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)

	groupID, _, err := m.CreateGroup(context.Background(), "s1", 10, "", "", 0)
	require.NoError(t, err)

	begin := time.Now()
	started, err := m.StartGroup(context.Background(), groupID, 0, &model.LaunchConfig{
		Strategy:  model.LaunchBatch,
		BatchSize: 3,
		DelayMs:   100,
	})
	elapsed := time.Since(begin)

	require.NoError(t, err)
	assert.Equal(t, 10, started)
	// 4 batches, 3 inter-batch delays, no trailing delay.
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 600*time.Millisecond)

	_, err = m.StopGroup(context.Background(), groupID)
	require.NoError(t, err)
}

func TestManager_StartGroupStaggerImpliesLinear(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)

	groupID, _, err := m.CreateGroup(context.Background(), "s1", 3, "", "", 0)
	require.NoError(t, err)

	begin := time.Now()
	started, err := m.StartGroup(context.Background(), groupID, 50, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, started)
	assert.GreaterOrEqual(t, time.Since(begin), 100*time.Millisecond)

	_, err = m.StopGroup(context.Background(), groupID)
	require.NoError(t, err)
}

func TestManager_StartGroupUnknown(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)

	_, err := m.StartGroup(context.Background(), "missing", 0, nil)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestManager_DeleteGroup(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)

	groupID, _, err := m.CreateGroup(context.Background(), "s1", 4, "", "", 0)
	require.NoError(t, err)
	_, err = m.StartGroup(context.Background(), groupID, 0, nil)
	require.NoError(t, err)

	deleted, err := m.DeleteGroup(context.Background(), groupID)
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)

	_, total := m.ListDevices(ListFilter{})
	assert.Equal(t, 0, total)
}

func TestManager_SimulateDropoutsLinearWithReconnect(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)

	groupID, _, err := m.CreateGroup(context.Background(), "s1", 5, "", "", 0)
	require.NoError(t, err)
	_, err = m.StartGroup(context.Background(), groupID, 0, nil)
	require.NoError(t, err)

	count := 3
	dropped, estimated, err := m.SimulateDropouts(context.Background(), groupID, model.DropoutConfig{
		Strategy:         model.DropoutLinear,
		Count:            &count,
		DelayMs:          50,
		Reconnect:        true,
		ReconnectDelayMs: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, 100, estimated)

	// Immediately after the call: 2 running.
	assert.Equal(t, 2, m.Stats().RunningDevices)

	// After the reconnect delay the dropped devices come back.
	require.Eventually(t, func() bool {
		return m.Stats().RunningDevices == 5
	}, 2*time.Second, 20*time.Millisecond)

	_, err = m.StopGroup(context.Background(), groupID)
	require.NoError(t, err)
}

func TestManager_SimulateDropoutsPercentage(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)

	groupID, _, err := m.CreateGroup(context.Background(), "s1", 10, "", "", 0)
	require.NoError(t, err)
	_, err = m.StartGroup(context.Background(), groupID, 0, nil)
	require.NoError(t, err)

	pct := 40.0
	dropped, _, err := m.SimulateDropouts(context.Background(), groupID, model.DropoutConfig{
		Strategy:   model.DropoutImmediate,
		Percentage: &pct,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, dropped)
	assert.Equal(t, 6, m.Stats().RunningDevices)

	_, err = m.StopGroup(context.Background(), groupID)
	require.NoError(t, err)
}

func TestManager_SimulateDropoutsExcludesProxies(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)

	_, err := m.CreateDevice("p1", "px-1", "mixed", nil)
	require.NoError(t, err)
	_, err = m.CreateDevice("s1", "sim-1", "mixed", nil)
	require.NoError(t, err)
	require.NoError(t, m.StartDevice(context.Background(), "sim-1"))

	dropped, _, err := m.SimulateDropouts(context.Background(), "mixed", model.DropoutConfig{
		Strategy: model.DropoutImmediate,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
}

func TestManager_StatsAggregation(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)

	_, _, err := m.CreateGroup(context.Background(), "s1", 2, "g", "", 0)
	require.NoError(t, err)
	_, err = m.StartGroup(context.Background(), "g", 0, nil)
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)

	stats := m.Stats()
	assert.Equal(t, 2, stats.TotalDevices)
	assert.Equal(t, 2, stats.RunningDevices)
	assert.Equal(t, 2, stats.RunningSimulated)
	assert.Equal(t, 0, stats.RunningPhysical)
	assert.Equal(t, 1, stats.ActiveGroups)
	assert.Greater(t, stats.TotalMessages, int64(0))
	assert.Greater(t, stats.TotalBytes, int64(0))

	_, err = m.StopGroup(context.Background(), "g")
	require.NoError(t, err)
}

func TestManager_Shutdown(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 100)

	_, _, err := m.CreateGroup(context.Background(), "s1", 3, "g", "", 0)
	require.NoError(t, err)
	_, err = m.StartGroup(context.Background(), "g", 0, nil)
	require.NoError(t, err)

	m.StartStatsTask()
	m.Shutdown(context.Background())

	_, total := m.ListDevices(ListFilter{})
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, m.Stats().RunningDevices)
}
