// Package throttle spaces out external calls: a short pause between the steps
// of one job, a longer pause between jobs of a bulk run, fixed-size batches
// with a pause between them, and a token bucket per external service.
//
// It never retries; retry policy lives in the resilience package.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/directory-cli/internal/registry"
)

// Rate is a token bucket setting. PerSecond <= 0 means unlimited.
type Rate struct {
	PerSecond float64 `mapstructure:"per_second" yaml:"per_second"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// Config holds the pacing knobs.
type Config struct {
	StepDelay    time.Duration
	JobDelay     time.Duration
	BatchSize    int
	BatchPause   time.Duration
	ServiceRates map[string]Rate
}

// DefaultServiceRates returns conservative buckets for each external service.
func DefaultServiceRates() map[string]Rate {
	return map[string]Rate{
		registry.ServiceGoogle:     {PerSecond: 10, Burst: 10},
		registry.ServiceScrape:     {PerSecond: 5, Burst: 5},
		registry.ServicePerplexity: {PerSecond: 1, Burst: 2},
		registry.ServiceAnthropic:  {PerSecond: 2, Burst: 4},
		registry.ServiceMedia:      {PerSecond: 5, Burst: 5},
	}
}

// DefaultConfig returns the pacing used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		StepDelay:    250 * time.Millisecond,
		JobDelay:     2 * time.Second,
		BatchSize:    10,
		BatchPause:   30 * time.Second,
		ServiceRates: DefaultServiceRates(),
	}
}

// Controller applies Config. It is safe for concurrent use; the service
// buckets are shared by every job in the process.
type Controller struct {
	cfg Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Controller. A BatchSize <= 0 falls back to 10.
func New(cfg Config) *Controller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	c := &Controller{cfg: cfg, limiters: make(map[string]*rate.Limiter, len(cfg.ServiceRates))}
	for svc, r := range cfg.ServiceRates {
		if r.PerSecond <= 0 {
			continue
		}
		burst := r.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiters[svc] = rate.NewLimiter(rate.Limit(r.PerSecond), burst)
	}
	return c
}

// Wait blocks until service has a token. Services without a bucket pass
// straight through.
func (c *Controller) Wait(ctx context.Context, service string) error {
	if c == nil {
		return ctx.Err()
	}
	c.mu.Lock()
	l := c.limiters[service]
	c.mu.Unlock()
	if l == nil {
		return ctx.Err()
	}
	return l.Wait(ctx)
}

// SetRate replaces the bucket for service.
func (c *Controller) SetRate(service string, r Rate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.PerSecond <= 0 {
		delete(c.limiters, service)
		return
	}
	burst := max(r.Burst, 1)
	if l, ok := c.limiters[service]; ok {
		l.SetLimit(rate.Limit(r.PerSecond))
		l.SetBurst(burst)
		return
	}
	c.limiters[service] = rate.NewLimiter(rate.Limit(r.PerSecond), burst)
}

// StepPause sleeps StepDelay.
func (c *Controller) StepPause(ctx context.Context) error {
	if c == nil {
		return ctx.Err()
	}
	return Sleep(ctx, c.cfg.StepDelay)
}

// JobPause sleeps JobDelay.
func (c *Controller) JobPause(ctx context.Context) error {
	if c == nil {
		return ctx.Err()
	}
	return Sleep(ctx, c.cfg.JobDelay)
}

// BatchPause sleeps BatchPause.
func (c *Controller) BatchPause(ctx context.Context) error {
	if c == nil {
		return ctx.Err()
	}
	return Sleep(ctx, c.cfg.BatchPause)
}

// BatchSize returns the configured batch size.
func (c *Controller) BatchSize() int {
	if c == nil {
		return 10
	}
	return c.cfg.BatchSize
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}
