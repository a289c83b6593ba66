// Package runner detaches extraction loops from the request that started
// them. The local Runner bounds concurrency with a worker pool and keeps at
// most one loop per entity; the Temporal dispatcher hands jobs to a durable
// workflow instead.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/metrics"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/store"
)

var (
	// ErrAlreadyActive is returned when the entity already has a loop here.
	ErrAlreadyActive = eris.New("runner: extraction already active")
	// ErrStopped is returned by Dispatch after Stop.
	ErrStopped = eris.New("runner: stopped")
)

// Executor runs one job to a terminal state.
type Executor interface {
	Run(ctx context.Context, job model.Job) (*model.JobOutcome, error)
}

// Dispatcher accepts admitted jobs for background execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, job model.Job) error
	Cancel(ctx context.Context, entityID string) (bool, error)
	IsActive(entityID string) bool
}

// Runner executes jobs on a bounded ants pool.
type Runner struct {
	exec  Executor
	store store.Store
	pool  *ants.Pool
	// base outlives any request; Stop cancels it.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Runner with size workers.
func New(exec Executor, s store.Store, size int) (*Runner, error) {
	if size <= 0 {
		size = 4
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(p any) {
		zap.L().Error("runner: worker panic escaped recovery", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, eris.Wrap(err, "runner: create pool")
	}
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		exec:   exec,
		store:  s,
		pool:   pool,
		base:   base,
		cancel: cancel,
		active: make(map[string]context.CancelFunc),
	}, nil
}

// Dispatch claims the entity and queues its loop. It returns as soon as the
// job is queued; the loop runs once a worker frees up.
func (r *Runner) Dispatch(_ context.Context, job model.Job) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	if _, ok := r.active[job.EntityID]; ok {
		r.mu.Unlock()
		return eris.Wrapf(ErrAlreadyActive, "entity %s", job.EntityID)
	}
	ctx, cancel := context.WithCancel(r.base)
	r.active[job.EntityID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()
	metrics.JobsActive.Inc()

	go func() {
		if err := r.pool.Submit(func() { r.run(ctx, job) }); err != nil {
			zap.L().Error("runner: submit failed", zap.String("entity_id", job.EntityID), zap.Error(err))
			r.fail(job.EntityID, model.ReasonInternal)
			r.release(job.EntityID)
		}
	}()
	return nil
}

// IsActive reports whether entityID is claimed by this runner.
func (r *Runner) IsActive(entityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[entityID]
	return ok
}

// Active returns the number of claimed entities.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Cancel stops the entity's loop between steps. It reports false when the
// entity is not running here.
func (r *Runner) Cancel(_ context.Context, entityID string) (bool, error) {
	r.mu.Lock()
	cancel, ok := r.active[entityID]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	cancel()
	zap.L().Info("runner: cancel requested", zap.String("entity_id", entityID))
	return true, nil
}

// Wait blocks until every claimed job has finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Stop refuses new jobs and waits for running ones until ctx is done, then
// cancels whatever is left.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		zap.L().Warn("runner: shutdown deadline reached, cancelling jobs", zap.Int("active", r.Active()))
		r.cancel()
		<-done
	}
	r.cancel()
	r.pool.Release()
}

func (r *Runner) run(ctx context.Context, job model.Job) {
	log := zap.L().With(zap.String("entity_id", job.EntityID), zap.String("entity_type", string(job.EntityType)))
	defer r.release(job.EntityID)
	defer func() {
		if p := recover(); p != nil {
			log.Error("runner: loop panicked", zap.Any("panic", p), zap.Stack("stack"))
			r.fail(job.EntityID, fmt.Sprintf("%s: %v", model.ReasonPanic, p))
		}
	}()

	start := time.Now()
	out, err := r.exec.Run(ctx, job)
	if err != nil {
		reason := model.ReasonInternal
		if errors.Is(err, context.Canceled) {
			reason = model.ReasonCancelled
		}
		log.Error("runner: job error", zap.String("reason", reason), zap.Error(err))
		r.fail(job.EntityID, reason)
		return
	}
	log.Debug("runner: job done",
		zap.String("status", string(out.Status)),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// fail writes a failed terminal status unless the loop already finished.
func (r *Runner) fail(entityID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e, err := r.store.GetEntity(ctx, entityID)
	if err != nil {
		zap.L().Error("runner: load entity for failure", zap.String("entity_id", entityID), zap.Error(err))
		return
	}
	if e.Status != model.StatusProcessing {
		return
	}
	if _, err := r.store.SetOverallStatus(ctx, entityID, store.StatusChange{Status: model.StatusFailed, Reason: reason}); err != nil {
		zap.L().Error("runner: persist failure", zap.String("entity_id", entityID), zap.Error(err))
	}
}

func (r *Runner) release(entityID string) {
	r.mu.Lock()
	cancel, ok := r.active[entityID]
	delete(r.active, entityID)
	r.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	metrics.JobsActive.Dec()
	r.wg.Done()
}
