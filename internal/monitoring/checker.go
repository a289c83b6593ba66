package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithSnapshotHook calls fn with every snapshot the checker collects.
func WithSnapshotHook(fn func(MetricsSnapshot)) CheckerOption {
	return func(c *Checker) { c.hooks = append(c.hooks, fn) }
}

// Checker collects a snapshot on an interval and sends any alerts it trips.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	hooks     []func(MetricsSnapshot)

	mu   sync.RWMutex
	last *MetricsSnapshot
}

// NewChecker builds a checker; a non-positive interval means five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, opts ...CheckerOption) *Checker {
	c := &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  time.Duration(cfg.CheckIntervalSecs) * time.Second,
		lookback:  cfg.LookbackWindowHours,
	}
	if c.interval <= 0 {
		c.interval = defaultCheckInterval
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Last returns the most recent snapshot, or nil before the first check.
func (c *Checker) Last() *MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Run checks immediately and then on every tick until ctx ends. Collection
// errors are logged and the next tick tries again.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for ctx.Err() == nil {
		if _, err := c.Check(ctx); err != nil && ctx.Err() == nil {
			log.Error("monitoring: check failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
	log.Info("monitoring: checker stopped")
}

// Check collects one snapshot, records it as Last, runs the hooks and
// delivers any alerts it trips.
func (c *Checker) Check(ctx context.Context) (*MetricsSnapshot, error) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect")
	}

	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()
	for _, h := range c.hooks {
		h(*snap)
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) > 0 {
		sent := c.alerter.SendAlerts(ctx, alerts)
		zap.L().Info("monitoring: alerts raised",
			zap.Int("triggered", len(alerts)),
			zap.Int("sent", sent),
			zap.Float64("fail_rate", snap.FailRate),
			zap.Float64("cost_usd", snap.CostUSD),
		)
	}
	return snap, nil
}
