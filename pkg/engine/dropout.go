package engine

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/fleetsim/fleetsim/pkg/device"
	"github.com/fleetsim/fleetsim/pkg/model"
)

// SimulateDropouts stops a randomly sampled subset of a group's running
// simulated devices according to the dropout strategy. Proxy devices are
// excluded: failure injection targets the simulated population. Returns the
// number of devices dropped and the estimated schedule duration in
// milliseconds.
//
// With cfg.Reconnect set, a fire-and-forget task restarts the dropped
// devices after cfg.ReconnectDelayMs.
func (m *Manager) SimulateDropouts(ctx context.Context, groupID string, cfg model.DropoutConfig) (int, int, error) {
	ids, err := m.groupMembers(groupID)
	if err != nil {
		return 0, 0, err
	}
	cfg = cfg.Normalize()

	running := make([]device.Device, 0, len(ids))
	for _, deviceID := range ids {
		dev, err := m.GetDevice(deviceID)
		if err != nil {
			continue
		}
		if dev.Source() == model.SourceSimulated && dev.Status() == model.StatusRunning {
			running = append(running, dev)
		}
	}
	if len(running) == 0 {
		return 0, 0, nil
	}

	count := len(running)
	switch {
	case cfg.Count != nil:
		if *cfg.Count < count {
			count = *cfg.Count
		}
	case cfg.Percentage != nil:
		count = int(float64(len(running)) * *cfg.Percentage / 100)
	}
	if count <= 0 {
		return 0, 0, nil
	}

	// Sample without replacement.
	targets := make([]device.Device, 0, count)
	for _, idx := range rand.Perm(len(running))[:count] {
		targets = append(targets, running[idx])
	}

	m.log.Info("simulating dropouts", "group", groupID, "count", count, "strategy", cfg.Strategy)

	dropped := make([]device.Device, 0, count)
	estimated := 0

	switch cfg.Strategy {
	case model.DropoutImmediate:
		for _, dev := range m.stopConcurrently(ctx, targets) {
			dropped = append(dropped, dev)
		}

	case model.DropoutExponential:
		// Delay shrinks exponentially: the failure cascade accelerates.
		for i, dev := range targets {
			if m.stopSafe(ctx, dev) {
				dropped = append(dropped, dev)
			}
			delay := math.Max(float64(cfg.DelayMs)/math.Pow(cfg.ExponentBase, float64(i)), 1)
			estimated += int(delay)
			if i < len(targets)-1 {
				if !sleepCtx(ctx, time.Duration(delay)*time.Millisecond) {
					return len(dropped), estimated, nil
				}
			}
		}

	case model.DropoutRandom:
		if cfg.DurationMs > 0 {
			times := make([]float64, count)
			for i := range times {
				times[i] = rand.Float64() * float64(cfg.DurationMs)
			}
			sort.Float64s(times)
			estimated = cfg.DurationMs

			elapsed := 0.0
			for i, dev := range targets {
				if wait := times[i] - elapsed; wait > 0 {
					if !sleepCtx(ctx, time.Duration(wait)*time.Millisecond) {
						return len(dropped), estimated, nil
					}
					elapsed = times[i]
				}
				if m.stopSafe(ctx, dev) {
					dropped = append(dropped, dev)
				}
			}
		} else {
			for _, dev := range targets {
				if m.stopSafe(ctx, dev) {
					dropped = append(dropped, dev)
				}
				if !sleepCtx(ctx, time.Duration(rand.Intn(100))*time.Millisecond) {
					return len(dropped), estimated, nil
				}
			}
		}

	default: // linear
		for i, dev := range targets {
			if m.stopSafe(ctx, dev) {
				dropped = append(dropped, dev)
			}
			if cfg.DelayMs > 0 && i < len(targets)-1 {
				if !sleepCtx(ctx, time.Duration(cfg.DelayMs)*time.Millisecond) {
					return len(dropped), cfg.DelayMs * (count - 1), nil
				}
			}
		}
		estimated = cfg.DelayMs * (count - 1)
	}

	m.log.Info("dropout complete", "group", groupID, "dropped", len(dropped), "of", count)

	if cfg.Reconnect && len(dropped) > 0 {
		m.background.Add(1)
		go m.reconnectDevices(dropped, cfg.ReconnectDelayMs)
	}

	return len(dropped), estimated, nil
}

// stopConcurrently stops devices in parallel and returns the ones that
// stopped cleanly.
func (m *Manager) stopConcurrently(ctx context.Context, devices []device.Device) []device.Device {
	type result struct {
		dev device.Device
		ok  bool
	}
	results := make(chan result, len(devices))
	for _, dev := range devices {
		dev := dev
		go func() {
			results <- result{dev, m.stopSafe(ctx, dev)}
		}()
	}

	stopped := make([]device.Device, 0, len(devices))
	for range devices {
		if r := <-results; r.ok {
			stopped = append(stopped, r.dev)
		}
	}
	return stopped
}

// reconnectDevices restarts dropped devices after a delay. Runs detached
// from the originating request; failures are logged per device.
func (m *Manager) reconnectDevices(devices []device.Device, delayMs int) {
	defer m.background.Done()

	if delayMs > 0 {
		time.Sleep(time.Duration(delayMs) * time.Millisecond)
	}

	m.log.Info("reconnecting dropped devices", "count", len(devices))
	for _, dev := range devices {
		if dev.Status() == model.StatusRunning {
			continue
		}
		if err := dev.Start(context.Background()); err != nil {
			m.log.Error("failed to reconnect device", "device", dev.ID(), "error", err)
		}
	}
}
