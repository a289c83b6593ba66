package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/model"
)

// RetryConfig is the backoff policy for a step's adapter calls.
type RetryConfig struct {
	// MaxAttempts counts the first try; 1 disables retries.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// JitterFraction spreads each delay by up to ±fraction.
	JitterFraction float64
	// QuotaFactor stretches delays after a quota_exceeded failure, and may
	// push them past MaxBackoff.
	QuotaFactor float64

	// ShouldRetry replaces the default Classify(err).Retryable() check.
	ShouldRetry func(err error) bool
	// OnRetry runs before each backoff sleep with the 1-based retry number.
	OnRetry func(retry int, err error)
}

// DefaultRetryConfig allows two retries starting at 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.25,
		QuotaFactor:    4,
	}
}

// WithMaxRetries returns a copy of cfg allowing n retries after the first try.
func (cfg RetryConfig) WithMaxRetries(n int) RetryConfig {
	cfg.MaxAttempts = max(n, 0) + 1
	return cfg
}

func (cfg RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	cfg.JitterFraction = max(cfg.JitterFraction, 0)
	cfg.QuotaFactor = max(cfg.QuotaFactor, 1)
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = func(err error) bool { return Classify(err).Retryable() }
	}
	return cfg
}

// delay is the sleep before retry number n (0-based) after a failure of kind.
func (cfg RetryConfig) delay(n int, kind model.ErrorKind) time.Duration {
	d := math.Min(float64(cfg.InitialBackoff)*math.Pow(cfg.Multiplier, float64(n)), float64(cfg.MaxBackoff))
	if cfg.JitterFraction > 0 {
		d += (rand.Float64()*2 - 1) * d * cfg.JitterFraction
	}
	if kind == model.KindQuotaExceeded {
		d *= cfg.QuotaFactor
	}
	return time.Duration(math.Max(d, 0))
}

// DoVal calls fn until it succeeds, returns a non-retryable error, runs out
// of attempts or ctx ends. The last error is returned unchanged.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()

	var zero T
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if attempt >= cfg.MaxAttempts || ctx.Err() != nil || !cfg.ShouldRetry(err) {
			return zero, err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleep(ctx, cfg.delay(attempt-1, Classify(err))) {
			return zero, err
		}
	}
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RetryLogger returns an OnRetry hook that logs the retry at warn level.
func RetryLogger(service, step string) func(int, error) {
	return func(retry int, err error) {
		zap.L().Warn("retrying step",
			zap.String("service", service),
			zap.String("step", step),
			zap.Int("retry", retry),
			zap.String("kind", string(Classify(err))),
			zap.Error(err),
		)
	}
}
