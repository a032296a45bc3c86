package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetsim/fleetsim/pkg/device"
	"github.com/fleetsim/fleetsim/pkg/model"
)

// StartGroup starts every non-running device in a group according to the
// launch strategy. Precedence: an explicit launchConfig wins; otherwise a
// positive staggerMs means linear with that delay; otherwise immediate.
// Individual start failures are logged and counted, never abort the group.
// Returns the number of devices started.
func (m *Manager) StartGroup(ctx context.Context, groupID string, staggerMs int, launch *model.LaunchConfig) (int, error) {
	ids, err := m.groupMembers(groupID)
	if err != nil {
		return 0, err
	}

	var cfg model.LaunchConfig
	switch {
	case launch != nil:
		cfg = launch.Normalize()
	case staggerMs > 0:
		cfg = model.LaunchConfig{Strategy: model.LaunchLinear, DelayMs: staggerMs}.Normalize()
	default:
		cfg = model.LaunchConfig{Strategy: model.LaunchImmediate}.Normalize()
	}

	pending := make([]device.Device, 0, len(ids))
	for _, deviceID := range ids {
		if dev, err := m.GetDevice(deviceID); err == nil && dev.Status() != model.StatusRunning {
			pending = append(pending, dev)
		}
	}

	m.log.Info("starting group", "group", groupID, "devices", len(pending), "strategy", cfg.Strategy)

	started := 0
	switch cfg.Strategy {
	case model.LaunchLinear:
		for _, dev := range pending {
			if m.startSafe(ctx, dev) {
				started++
			}
			if !sleepCtx(ctx, time.Duration(cfg.DelayMs)*time.Millisecond) {
				return started, nil
			}
		}

	case model.LaunchBatch:
		for i := 0; i < len(pending); i += cfg.BatchSize {
			end := i + cfg.BatchSize
			if end > len(pending) {
				end = len(pending)
			}
			started += m.startConcurrently(ctx, pending[i:end])
			m.log.Info("started batch", "group", groupID,
				"batch", i/cfg.BatchSize+1, "started", started, "total", len(pending))
			if end < len(pending) {
				if !sleepCtx(ctx, time.Duration(cfg.DelayMs)*time.Millisecond) {
					return started, nil
				}
			}
		}

	case model.LaunchExponential:
		for i, dev := range pending {
			if m.startSafe(ctx, dev) {
				started++
			}
			delay := math.Min(float64(cfg.DelayMs)*math.Pow(cfg.ExponentBase, float64(i)), float64(cfg.MaxDelayMs))
			if delay > 0 && i < len(pending)-1 {
				if !sleepCtx(ctx, time.Duration(delay)*time.Millisecond) {
					return started, nil
				}
			}
		}

	default: // immediate
		started = m.startConcurrently(ctx, pending)
	}

	m.log.Info("group start complete", "group", groupID, "started", started, "of", len(pending))
	return started, nil
}

// startConcurrently starts a slice of devices in parallel and waits for all
// of them to settle.
func (m *Manager) startConcurrently(ctx context.Context, devices []device.Device) int {
	var started atomic.Int64
	var wg sync.WaitGroup
	for _, dev := range devices {
		dev := dev
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.startSafe(ctx, dev) {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	return int(started.Load())
}

func (m *Manager) startSafe(ctx context.Context, dev device.Device) bool {
	if err := dev.Start(ctx); err != nil {
		m.log.Error("failed to start device", "device", dev.ID(), "error", err)
		return false
	}
	return true
}

func (m *Manager) stopSafe(ctx context.Context, dev device.Device) bool {
	if err := dev.Stop(ctx); err != nil {
		m.log.Error("failed to stop device", "device", dev.ID(), "error", err)
		return false
	}
	return true
}
