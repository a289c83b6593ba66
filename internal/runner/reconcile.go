package runner

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/metrics"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/store"
)

// ActiveChecker reports whether an entity's loop is running in this process.
type ActiveChecker interface {
	IsActive(entityID string) bool
}

// ReconcileConfig controls the orphan sweep.
type ReconcileConfig struct {
	OrphanTimeout time.Duration
	Interval      time.Duration
	BatchSize     int
}

// Reconciler fails processing records that no loop owns any more, such as
// jobs lost to a crash or a deploy.
type Reconciler struct {
	store  store.Store
	active ActiveChecker
	cfg    ReconcileConfig
	now    func() time.Time
}

// NewReconciler creates a Reconciler. active may be nil.
func NewReconciler(s store.Store, active ActiveChecker, cfg ReconcileConfig) *Reconciler {
	if cfg.OrphanTimeout <= 0 {
		cfg.OrphanTimeout = 30 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &Reconciler{store: s, active: active, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Sweep marks stale processing records as failed: orphaned and returns how
// many it changed.
func (rc *Reconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := rc.now().Add(-rc.cfg.OrphanTimeout)
	stale, err := rc.store.ListStale(ctx, cutoff, rc.cfg.BatchSize)
	if err != nil {
		return 0, eris.Wrap(err, "reconcile: list stale")
	}

	n := 0
	for _, e := range stale {
		if rc.active != nil && rc.active.IsActive(e.ID) {
			continue
		}
		if _, err := rc.store.SetOverallStatus(ctx, e.ID, store.StatusChange{
			Status: model.StatusFailed,
			Reason: model.ReasonOrphaned,
		}); err != nil {
			return n, eris.Wrapf(err, "reconcile: fail %s", e.ID)
		}
		zap.L().Warn("reconcile: orphaned extraction failed",
			zap.String("entity_id", e.ID),
			zap.String("entity_type", string(e.Type)),
			zap.Time("updated_at", e.UpdatedAt),
		)
		metrics.Orphaned.Inc()
		n++
	}
	return n, nil
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (rc *Reconciler) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "runner.reconciler"))
	log.Info("starting reconciliation sweep",
		zap.Duration("interval", rc.cfg.Interval),
		zap.Duration("orphan_timeout", rc.cfg.OrphanTimeout),
	)

	rc.sweep(ctx, log)

	ticker := time.NewTicker(rc.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("reconciliation sweep stopped")
			return
		case <-ticker.C:
			rc.sweep(ctx, log)
		}
	}
}

func (rc *Reconciler) sweep(ctx context.Context, log *zap.Logger) {
	n, err := rc.Sweep(ctx)
	if err != nil {
		log.Error("reconcile: sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("reconcile: sweep complete", zap.Int("orphaned", n))
	}
}
