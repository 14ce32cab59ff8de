// ABOUTME: Long-running owner of the play-through engine
// ABOUTME: Rebuilds the engine on device changes and restart requests
package playthrough

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/liscio/playthrough-go/internal/device"
	"github.com/liscio/playthrough-go/internal/metrics"
	"go.uber.org/zap"
)

const (
	metricsInterval = 250 * time.Millisecond
	retryDelay      = 2 * time.Second
)

// Factory opens fresh devices and builds an engine around them
type Factory func() (*Engine, error)

// HostStats adds host bookkeeping to the current engine's stats
type HostStats struct {
	Engine   Stats
	Restarts uint64
	HasError bool
	LastErr  string
}

// Host keeps one engine alive. A device change tears the engine down and
// builds a new one through the factory, the same way a manual restart does.
type Host struct {
	factory Factory
	logger  *zap.Logger

	mu      gosync.Mutex
	engine  *Engine
	lastErr error

	restart  chan struct{}
	restarts atomic.Uint64

	// Run goroutine only
	lastAdjustments uint64
	lastSilent      uint64
}

// NewHost creates a host. No engine exists until Start or Run.
func NewHost(factory Factory, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		factory: factory,
		logger:  logger,
		restart: make(chan struct{}, 1),
	}
}

// Start builds and starts the first engine
func (h *Host) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engine != nil {
		return nil
	}
	return h.build()
}

// build must be called with mu held
func (h *Host) build() error {
	engine, err := h.factory()
	if err != nil {
		h.lastErr = err
		return fmt.Errorf("failed to build engine: %w", err)
	}
	if err := engine.Start(); err != nil {
		engine.Close()
		h.lastErr = err
		return fmt.Errorf("failed to start engine: %w", err)
	}
	h.engine = engine
	h.lastErr = nil
	h.lastAdjustments, h.lastSilent = 0, 0
	return nil
}

// Restart asks Run to rebuild the engine. It never blocks.
func (h *Host) Restart() {
	select {
	case h.restart <- struct{}{}:
	default:
	}
}

// Run services device events and restart requests until ctx is done, then
// closes the engine
func (h *Host) Run(ctx context.Context) error {
	if err := h.Start(); err != nil {
		h.logger.Error("Initial engine start failed", zap.Error(err))
		time.AfterFunc(retryDelay, h.Restart)
	}

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		inEvents, outEvents := h.events()

		select {
		case <-ctx.Done():
			return h.shutdown()

		case ev := <-inEvents:
			h.handleEvent(ev)

		case ev := <-outEvents:
			h.handleEvent(ev)

		case <-h.restart:
			h.rebuild("restart requested")

		case <-ticker.C:
			h.publish()
		}
	}
}

// events returns the current engine's device event streams, nil when there
// is no engine
func (h *Host) events() (<-chan device.Event, <-chan device.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engine == nil {
		return nil, nil
	}
	return h.engine.Input().Events(), h.engine.Output().Events()
}

func (h *Host) handleEvent(ev device.Event) {
	switch ev.Kind {
	case device.EventDeviceChanged:
		h.rebuild("device changed: " + ev.Device)
	default:
		h.logger.Debug("Device event", zap.Stringer("kind", ev.Kind), zap.String("device", ev.Device))
	}
}

func (h *Host) rebuild(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.logger.Info("Rebuilding play-through", zap.String("reason", reason))

	if h.engine != nil {
		if err := h.engine.Close(); err != nil {
			h.logger.Warn("Failed to close engine", zap.Error(err))
		}
		h.engine = nil
	}

	h.restarts.Add(1)
	metrics.RestartsTotal.Inc()

	if err := h.build(); err != nil {
		h.logger.Error("Rebuild failed, retrying", zap.Error(err), zap.Duration("delay", retryDelay))
		time.AfterFunc(retryDelay, h.Restart)
	}
}

func (h *Host) shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engine == nil {
		return nil
	}
	err := h.engine.Close()
	h.engine = nil
	if err != nil {
		return fmt.Errorf("failed to close engine: %w", err)
	}
	return nil
}

// publish pushes the current engine state into the metrics gauges
func (h *Host) publish() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engine == nil {
		return
	}
	stats := h.engine.Stats()

	metrics.SampleOffset.Set(float64(stats.Sync.Offset))
	metrics.RateRatio.Set(stats.Sync.RateRatio)
	metrics.WindowFrames.Set(float64(stats.WindowEnd - stats.WindowStart))

	if d := stats.Sync.Adjustments - h.lastAdjustments; d > 0 {
		metrics.AdjustmentsTotal.Add(float64(d))
	}
	if d := stats.SilentPulls - h.lastSilent; d > 0 {
		metrics.SilentTicksTotal.Add(float64(d))
	}
	h.lastAdjustments, h.lastSilent = stats.Sync.Adjustments, stats.SilentPulls
}

// Stats returns the current engine's stats and the restart count
func (h *Host) Stats() HostStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	var stats HostStats
	if h.engine != nil {
		stats.Engine = h.engine.Stats()
	}
	stats.Restarts = h.restarts.Load()
	if h.lastErr != nil {
		stats.HasError = true
		stats.LastErr = h.lastErr.Error()
	}
	return stats
}
