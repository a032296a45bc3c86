// Package engine implements the device manager: the per-process orchestrator
// that owns the device catalogue, the group index, and the lifecycle
// scheduling of simulated fleets.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fleetsim/fleetsim/internal/id"
	"github.com/fleetsim/fleetsim/pkg/adapter/proxy"
	"github.com/fleetsim/fleetsim/pkg/device"
	"github.com/fleetsim/fleetsim/pkg/logging"
	"github.com/fleetsim/fleetsim/pkg/metrics"
	"github.com/fleetsim/fleetsim/pkg/model"
	"github.com/fleetsim/fleetsim/pkg/registry"
)

// statsInterval is the cadence of the engine stats task.
const statsInterval = 5 * time.Second

// Manager is the singleton-per-process device orchestrator. One exclusive
// mutex serialises catalogue and group-index mutations; read paths take
// short read locks and iterate over copied snapshots.
type Manager struct {
	registry *registry.Registry
	sink     metrics.Writer
	expo     *metrics.Exposition
	webhooks *proxy.WebhookRegistry
	log      *slog.Logger

	maxDevices     int
	defaultConn    *model.ConnectionConfig
	adapterFactory device.AdapterFactory
	binderFactory  device.BinderFactory

	mu      sync.RWMutex
	devices map[string]device.Device
	groups  map[string]map[string]struct{}

	statsDone chan struct{}
	statsWG   sync.WaitGroup

	// background holds fire-and-forget tasks (dropout reconnects) so
	// Shutdown can wait for them.
	background sync.WaitGroup
}

// Config assembles a manager.
type Config struct {
	Registry   *registry.Registry
	Sink       metrics.Writer
	Exposition *metrics.Exposition
	Webhooks   *proxy.WebhookRegistry
	Logger     *slog.Logger

	// MaxDevices caps the catalogue size; 0 applies the default of 10000.
	MaxDevices int

	// DefaultConnection supplies the instance-wide broker settings applied
	// beneath model connection configs for MQTT devices.
	DefaultConnection *model.ConnectionConfig

	// AdapterFactory and BinderFactory override protocol construction in
	// tests.
	AdapterFactory device.AdapterFactory
	BinderFactory  device.BinderFactory
}

// NewManager creates a manager with an empty catalogue.
func NewManager(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = metrics.Nop{}
	}
	if cfg.MaxDevices <= 0 {
		cfg.MaxDevices = 10000
	}
	webhooks := cfg.Webhooks
	if webhooks == nil {
		webhooks = proxy.NewWebhookRegistry()
	}

	return &Manager{
		registry:       cfg.Registry,
		sink:           sink,
		expo:           cfg.Exposition,
		webhooks:       webhooks,
		log:            log.With("component", "manager"),
		maxDevices:     cfg.MaxDevices,
		defaultConn:    cfg.DefaultConnection,
		adapterFactory: cfg.AdapterFactory,
		binderFactory:  cfg.BinderFactory,
		devices:        make(map[string]device.Device),
		groups:         make(map[string]map[string]struct{}),
	}
}

// Registry returns the model registry the manager was built with.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Webhooks returns the shared webhook registry for the control surface.
func (m *Manager) Webhooks() *proxy.WebhookRegistry { return m.webhooks }

// CreateDevice creates a device instance from a model. An empty deviceID is
// generated as {modelId}-{rand8hex}. The device kind follows the model type:
// proxy models produce proxy devices, everything else a virtual device.
func (m *Manager) CreateDevice(modelID, deviceID, groupID string, override *model.ConnectionConfig) (device.Device, error) {
	mdl := m.registry.Get(modelID)
	if mdl == nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}

	if deviceID == "" {
		deviceID = modelID + "-" + id.Short8()
	}

	var dev device.Device
	if mdl.Type == model.TypeProxy {
		dev = device.NewProxy(device.ProxyConfig{
			DeviceID:      deviceID,
			Model:         mdl,
			GroupID:       groupID,
			Sink:          m.sink,
			Webhooks:      m.webhooks,
			Logger:        m.log,
			BinderFactory: m.binderFactory,
		})
	} else {
		// Instance-wide broker defaults only make sense for MQTT models.
		var defaults *model.ConnectionConfig
		if mdl.Protocol == model.ProtocolMQTT {
			defaults = m.defaultConn
		}
		dev = device.NewVirtual(device.VirtualConfig{
			DeviceID:           deviceID,
			Model:              mdl,
			GroupID:            groupID,
			ConnectionOverride: override,
			Sink:               m.sink,
			Logger:             m.log,
			EngineDefaults:     defaults,
			AdapterFactory:     m.adapterFactory,
		})
	}

	m.mu.Lock()
	if len(m.devices) >= m.maxDevices {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrCapacity, m.maxDevices)
	}
	if _, exists := m.devices[deviceID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, deviceID)
	}
	m.devices[deviceID] = dev
	if groupID != "" {
		members, ok := m.groups[groupID]
		if !ok {
			members = make(map[string]struct{})
			m.groups[groupID] = members
		}
		members[deviceID] = struct{}{}
	}
	m.mu.Unlock()

	m.sink.WriteDeviceEvent(deviceID, modelID, groupID, "created", dev.Source())
	m.log.Info("created device", "device", deviceID, "model", modelID, "group", groupID)
	return dev, nil
}

// CreateGroup creates count devices sharing a group id. idPattern may
// reference {index} and {groupId}; the default is device-{index}. A positive
// staggerMs sleeps between creations.
func (m *Manager) CreateGroup(ctx context.Context, modelID string, count int, groupID, idPattern string, staggerMs int) (string, []device.Device, error) {
	if groupID == "" {
		groupID = "group-" + id.Short8()
	}
	if idPattern == "" {
		idPattern = "device-{index}"
	}

	devices := make([]device.Device, 0, count)
	for i := 0; i < count; i++ {
		deviceID := strings.ReplaceAll(idPattern, "{index}", strconv.Itoa(i))
		deviceID = strings.ReplaceAll(deviceID, "{groupId}", groupID)

		dev, err := m.CreateDevice(modelID, deviceID, groupID, nil)
		if err != nil {
			return groupID, devices, err
		}
		devices = append(devices, dev)

		if staggerMs > 0 && i < count-1 {
			if !sleepCtx(ctx, time.Duration(staggerMs)*time.Millisecond) {
				return groupID, devices, ctx.Err()
			}
		}
	}

	m.log.Info("created device group", "group", groupID, "count", count)
	return groupID, devices, nil
}

// GetDevice returns a device by id.
func (m *Manager) GetDevice(deviceID string) (device.Device, error) {
	m.mu.RLock()
	dev, ok := m.devices[deviceID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return dev, nil
}

// ListFilter narrows ListDevices output.
type ListFilter struct {
	Status   model.DeviceStatus
	GroupID  string
	ModelID  string
	Page     int
	PageSize int
}

// ListDevices returns one page of matching devices plus the total match
// count. Results are ordered by device id for stable pagination.
func (m *Manager) ListDevices(filter ListFilter) ([]device.Device, int) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 100
	}

	m.mu.RLock()
	all := make([]device.Device, 0, len(m.devices))
	for _, dev := range m.devices {
		all = append(all, dev)
	}
	m.mu.RUnlock()

	matched := all[:0]
	for _, dev := range all {
		if filter.Status != "" && dev.Status() != filter.Status {
			continue
		}
		if filter.GroupID != "" && dev.GroupID() != filter.GroupID {
			continue
		}
		if filter.ModelID != "" && dev.ModelID() != filter.ModelID {
			continue
		}
		matched = append(matched, dev)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID() < matched[j].ID() })

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total
}

// StartDevice starts a device by id.
func (m *Manager) StartDevice(ctx context.Context, deviceID string) error {
	dev, err := m.GetDevice(deviceID)
	if err != nil {
		return err
	}
	return dev.Start(ctx)
}

// StopDevice stops a device by id.
func (m *Manager) StopDevice(ctx context.Context, deviceID string) error {
	dev, err := m.GetDevice(deviceID)
	if err != nil {
		return err
	}
	return dev.Stop(ctx)
}

// DeleteDevice removes a device, stopping it first if running. The group
// index entry is removed; an emptied group disappears with its last device.
func (m *Manager) DeleteDevice(ctx context.Context, deviceID string) error {
	dev, err := m.GetDevice(deviceID)
	if err != nil {
		return err
	}

	if dev.Status() == model.StatusRunning {
		if err := dev.Stop(ctx); err != nil {
			m.log.Warn("stop before delete failed", "device", deviceID, "error", err)
		}
	}

	m.mu.Lock()
	delete(m.devices, deviceID)
	if groupID := dev.GroupID(); groupID != "" {
		if members, ok := m.groups[groupID]; ok {
			delete(members, deviceID)
			if len(members) == 0 {
				delete(m.groups, groupID)
			}
		}
	}
	m.mu.Unlock()

	m.sink.WriteDeviceEvent(deviceID, dev.ModelID(), dev.GroupID(), "deleted", dev.Source())
	m.log.Info("deleted device", "device", deviceID)
	return nil
}

// groupMembers returns the member ids of a group, sorted.
func (m *Manager) groupMembers(groupID string) ([]string, error) {
	m.mu.RLock()
	members, ok := m.groups[groupID]
	if !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	ids := make([]string, 0, len(members))
	for deviceID := range members {
		ids = append(ids, deviceID)
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	return ids, nil
}

// GroupSize returns the number of devices in a group.
func (m *Manager) GroupSize(groupID string) (int, error) {
	ids, err := m.groupMembers(groupID)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// StopGroup sequentially stops every running device in a group and returns
// the number stopped.
func (m *Manager) StopGroup(ctx context.Context, groupID string) (int, error) {
	ids, err := m.groupMembers(groupID)
	if err != nil {
		return 0, err
	}

	stopped := 0
	for _, deviceID := range ids {
		dev, err := m.GetDevice(deviceID)
		if err != nil || dev.Status() != model.StatusRunning {
			continue
		}
		if err := dev.Stop(ctx); err != nil {
			m.log.Error("failed to stop device", "device", deviceID, "error", err)
			continue
		}
		stopped++
	}
	return stopped, nil
}

// DeleteGroup deletes every device in a group (stopping running ones first)
// and returns the number deleted.
func (m *Manager) DeleteGroup(ctx context.Context, groupID string) (int, error) {
	ids, err := m.groupMembers(groupID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, deviceID := range ids {
		if err := m.DeleteDevice(ctx, deviceID); err != nil {
			m.log.Error("failed to delete device", "device", deviceID, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Bind attaches a proxy device to an external source. Returns the webhook
// URL for HTTP bindings.
func (m *Manager) Bind(ctx context.Context, deviceID string, cfg model.BindingConfig) (string, error) {
	dev, err := m.GetDevice(deviceID)
	if err != nil {
		return "", err
	}
	prx, ok := dev.(*device.Proxy)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotProxy, deviceID)
	}
	return prx.Bind(ctx, cfg)
}

// Unbind releases a proxy device binding.
func (m *Manager) Unbind(ctx context.Context, deviceID string) error {
	dev, err := m.GetDevice(deviceID)
	if err != nil {
		return err
	}
	prx, ok := dev.(*device.Proxy)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotProxy, deviceID)
	}
	return prx.Unbind(ctx)
}

// BindingStatus returns a proxy device's binding state.
func (m *Manager) BindingStatus(deviceID string) (model.BindingStatus, error) {
	dev, err := m.GetDevice(deviceID)
	if err != nil {
		return model.BindingStatus{}, err
	}
	prx, ok := dev.(*device.Proxy)
	if !ok {
		return model.BindingStatus{}, fmt.Errorf("%w: %s", ErrNotProxy, deviceID)
	}
	return prx.BindingStatus(), nil
}

// Stats aggregates the engine-wide counters from the catalogue.
func (m *Manager) Stats() metrics.EngineStats {
	m.mu.RLock()
	devices := make([]device.Device, 0, len(m.devices))
	for _, dev := range m.devices {
		devices = append(devices, dev)
	}
	totalGroups := len(m.groups)
	activeGroups := 0
	for _, members := range m.groups {
		if len(members) > 0 {
			activeGroups++
		}
	}
	m.mu.RUnlock()

	stats := metrics.EngineStats{
		TotalDevices: len(devices),
		TotalGroups:  totalGroups,
		ActiveGroups: activeGroups,
		TotalModels:  m.registry.Len(),
	}

	for _, dev := range devices {
		dm := dev.Metrics()
		stats.TotalMessages += dm.MessagesSent + dm.MessagesReceived
		stats.TotalBytes += dm.BytesSent + dm.BytesReceived
		if dev.Status() == model.StatusRunning {
			stats.RunningDevices++
			if dev.Source() == model.SourcePhysical {
				stats.RunningPhysical++
			} else {
				stats.RunningSimulated++
			}
		}
	}
	return stats
}

// StartStatsTask launches the periodic stats aggregation.
func (m *Manager) StartStatsTask() {
	m.statsDone = make(chan struct{})
	m.statsWG.Add(1)
	go func() {
		defer m.statsWG.Done()
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := m.Stats()
				m.sink.WriteEngineStats(stats)
				if m.expo != nil {
					m.expo.ObserveStats(stats)
				}
			case <-m.statsDone:
				return
			}
		}
	}()
}

// Shutdown cancels the stats task, stops every running device, and clears
// the catalogue. Stop failures are logged, never raised.
func (m *Manager) Shutdown(ctx context.Context) {
	m.log.Info("shutting down device manager")

	if m.statsDone != nil {
		close(m.statsDone)
		m.statsWG.Wait()
		m.statsDone = nil
	}

	m.mu.RLock()
	devices := make([]device.Device, 0, len(m.devices))
	for _, dev := range m.devices {
		devices = append(devices, dev)
	}
	m.mu.RUnlock()

	for _, dev := range devices {
		if dev.Status() == model.StatusRunning {
			if err := dev.Stop(ctx); err != nil {
				m.log.Error("error stopping device", "device", dev.ID(), "error", err)
			}
		}
	}

	m.background.Wait()

	m.mu.Lock()
	m.devices = make(map[string]device.Device)
	m.groups = make(map[string]map[string]struct{})
	m.mu.Unlock()

	m.log.Info("device manager shutdown complete")
}

// sleepCtx sleeps for d or until ctx is cancelled; it reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
