// Package orchestrator runs the registry steps for one entity, persisting
// progress after every transition so an interrupted job resumes where it
// stopped.
package orchestrator

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/adapter"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/publish"
	"github.com/sells-group/directory-cli/internal/registry"
	"github.com/sells-group/directory-cli/internal/resilience"
	"github.com/sells-group/directory-cli/internal/store"
	"github.com/sells-group/directory-cli/internal/throttle"
)

// Orchestrator is the generic step loop. One instance serves every job.
type Orchestrator struct {
	store    store.Store
	registry *registry.Registry
	adapters adapter.Set
	throttle *throttle.Controller
	breakers *resilience.ServiceBreakers
	retry    resilience.RetryConfig
	bus      *Bus
	policy   *publish.Policy
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithThrottle paces steps and external calls.
func WithThrottle(t *throttle.Controller) Option {
	return func(o *Orchestrator) { o.throttle = t }
}

// WithBreakers guards each external service with a circuit breaker.
func WithBreakers(b *resilience.ServiceBreakers) Option {
	return func(o *Orchestrator) { o.breakers = b }
}

// WithRetry sets the backoff policy. MaxAttempts is taken from each step.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(o *Orchestrator) { o.retry = cfg }
}

// WithBus publishes step events to b.
func WithBus(b *Bus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

// WithPolicy sets active on completed entities according to p.
func WithPolicy(p *publish.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// New creates an Orchestrator.
func New(s store.Store, reg *registry.Registry, adapters adapter.Set, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    s,
		registry: reg,
		adapters: adapters,
		retry:    resilience.DefaultRetryConfig(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Bus returns the event bus, or nil.
func (o *Orchestrator) Bus() *Bus { return o.bus }

type stepResult struct {
	status  model.StepStatus
	kind    model.ErrorKind
	metrics model.StepMetrics
}

// Run executes job to a terminal state. Step failures are recorded on the
// entity and reflected in the outcome; the returned error is reserved for
// persistence failures and bad jobs.
func (o *Orchestrator) Run(ctx context.Context, job model.Job) (*model.JobOutcome, error) {
	start := o.now()
	if job.StartedAt.IsZero() {
		job.StartedAt = start
	}
	// Progress writes must land even after cancellation.
	wctx := context.WithoutCancel(ctx)
	log := zap.L().With(zap.String("entity_id", job.EntityID))

	e, err := o.store.GetEntity(wctx, job.EntityID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load entity")
	}
	if ctx.Err() != nil {
		// Cancelled while queued.
		outcome := &model.JobOutcome{EntityID: e.ID}
		if _, err := o.finish(wctx, e, model.StatusFailed, model.ReasonCancelled, outcome, start); err != nil {
			return outcome, err
		}
		log.Info("orchestrator: job cancelled before start")
		return outcome, nil
	}
	job.EntityType = e.Type
	if job.ExternalPlaceID == "" {
		job.ExternalPlaceID = e.ExternalPlaceID
	}
	if job.SearchQuery == "" {
		job.SearchQuery = e.SearchQuery
	}
	log = log.With(zap.String("entity_type", string(e.Type)))
	outcome := &model.JobOutcome{EntityID: e.ID}

	steps, err := o.registry.Steps(e.Type)
	if err != nil {
		if _, ferr := o.finish(wctx, e, model.StatusFailed, model.ReasonNotApplicable, outcome, start); ferr != nil {
			log.Error("orchestrator: failed to record failure", zap.Error(ferr))
		}
		return outcome, err
	}
	for _, name := range job.Force {
		if !slices.ContainsFunc(steps, func(s registry.Step) bool { return s.Name == name }) {
			return nil, eris.Errorf("orchestrator: cannot force unknown step %q for %s", name, e.Type)
		}
	}

	legacy := legacyEntries(e.Progress, steps)
	reset, pending := plan(e.Progress, steps, job)
	if !pending {
		outcome.NoOp = true
		outcome.Status = e.Status
		if e.Status != model.StatusCompleted {
			// Reopened with nothing left to run.
			if _, err := o.finish(wctx, e, model.StatusCompleted, "", outcome, start); err != nil {
				return outcome, err
			}
		}
		log.Info("orchestrator: nothing to run")
		return outcome, nil
	}

	if len(legacy) > 0 {
		if e, err = o.store.MergeProgress(wctx, e.ID, legacy); err != nil {
			return outcome, eris.Wrap(err, "orchestrator: mark legacy steps")
		}
	}
	if len(reset) > 0 {
		if e, err = o.store.ResetSteps(wctx, e.ID, reset); err != nil {
			return outcome, eris.Wrap(err, "orchestrator: reset steps")
		}
	}
	if e.Status != model.StatusProcessing {
		if e, err = o.store.SetOverallStatus(wctx, e.ID, store.StatusChange{Status: model.StatusProcessing}); err != nil {
			return outcome, eris.Wrap(err, "orchestrator: mark processing")
		}
	}

	log.Info("orchestrator: job started", zap.Strings("reset", reset), zap.Bool("force_all", job.ForceAll))
	o.bus.Publish(Event{Type: EventJobStarted, EntityID: e.ID, EntityType: e.Type})

	var (
		abort string
		ran   bool
	)
	for _, step := range steps {
		st := e.Progress.Get(step.Name)
		if st.Status == model.StepCompleted || st.Status == model.StepSkipped {
			continue
		}
		// Pause between executed steps, never after the last one.
		if ran {
			_ = o.throttle.StepPause(ctx)
		}
		if ctx.Err() != nil {
			abort = model.ReasonCancelled
			break
		}

		var res stepResult
		e, res, err = o.runStep(ctx, wctx, job, e, step)
		if err != nil {
			return outcome, err
		}

		switch res.status {
		case model.StepSkipped:
			outcome.Skipped = append(outcome.Skipped, step.Name)
			continue
		case model.StepCompleted:
			outcome.Completed = append(outcome.Completed, step.Name)
		case model.StepFailed:
			outcome.Failed = append(outcome.Failed, step.Name)
			switch {
			case ctx.Err() != nil:
				abort = model.ReasonCancelled
			case res.kind == model.KindFatal:
				abort = model.ReasonFatalError
			case step.Critical:
				abort = model.ReasonCriticalStep
			}
		}
		ran = true
		outcome.Executed = append(outcome.Executed, step.Name)
		outcome.CostUSD += res.metrics.CostUSD
		if abort != "" {
			break
		}
	}

	status := model.StatusCompleted
	if abort != "" {
		status = model.StatusFailed
	}
	if _, err := o.finish(wctx, e, status, abort, outcome, start); err != nil {
		return outcome, err
	}
	log.Info("orchestrator: job finished",
		zap.String("status", string(status)),
		zap.String("reason", abort),
		zap.Int("completed", len(outcome.Completed)),
		zap.Int("failed", len(outcome.Failed)),
		zap.Int("skipped", len(outcome.Skipped)),
		zap.Float64("cost_usd", outcome.CostUSD),
		zap.Duration("duration", outcome.Duration),
	)
	return outcome, nil
}

func (o *Orchestrator) runStep(ctx, wctx context.Context, job model.Job, e *model.Entity, step registry.Step) (*model.Entity, stepResult, error) {
	log := zap.L().With(
		zap.String("entity_id", e.ID),
		zap.String("entity_type", string(e.Type)),
		zap.String("step", step.Name),
	)
	ad, ok := o.adapters.Get(step.Name)

	snapshot := e.Clone()
	if job.Forced(step.Name) {
		model.ClearFields(&snapshot.Fields, step.Produces)
	}
	jc := model.JobContext{Job: job, Entity: snapshot, Step: step.Name, Attempt: 1}

	if ok && !adapter.Applicable(ad, jc) {
		now := o.now()
		updated, err := o.store.MergeProgress(wctx, e.ID, map[string]model.StepState{
			step.Name: {Status: model.StepSkipped, CompletedAt: &now},
		})
		if err != nil {
			return e, stepResult{}, eris.Wrapf(err, "orchestrator: skip %s", step.Name)
		}
		log.Debug("orchestrator: step not applicable")
		o.bus.Publish(Event{Type: EventStepSkipped, EntityID: e.ID, EntityType: e.Type, Step: step.Name, Service: step.Service, Reason: model.ReasonNotApplicable})
		return updated, stepResult{status: model.StepSkipped}, nil
	}

	startedAt := o.now()
	updated, err := o.store.MergeProgress(wctx, e.ID, map[string]model.StepState{
		step.Name: {Status: model.StepRunning, StartedAt: &startedAt},
	})
	if err != nil {
		return e, stepResult{}, eris.Wrapf(err, "orchestrator: start %s", step.Name)
	}
	e = updated
	o.bus.Publish(Event{Type: EventStepStarted, EntityID: e.ID, EntityType: e.Type, Step: step.Name, Service: step.Service})

	var (
		update   *model.PartialUpdate
		metrics  model.StepMetrics
		attempts int
		execErr  error
	)
	if ok {
		update, metrics, attempts, execErr = o.execute(ctx, ad, jc, step)
	} else {
		execErr = model.Fatal(eris.Errorf("no adapter registered for step %s", step.Name))
	}
	metrics.Attempts = attempts
	metrics.ElapsedMs = o.now().Sub(startedAt).Milliseconds()

	if execErr == nil {
		written, err := o.store.MergeFields(wctx, e.ID, update, job.StartedAt)
		if err != nil {
			return e, stepResult{}, eris.Wrapf(err, "orchestrator: merge fields for %s", step.Name)
		}
		metrics.Fields = len(written)
		done := o.now()
		updated, err := o.store.MergeProgress(wctx, e.ID, map[string]model.StepState{
			step.Name: {Status: model.StepCompleted, StartedAt: &startedAt, CompletedAt: &done, Metrics: &metrics},
		})
		if err != nil {
			return e, stepResult{}, eris.Wrapf(err, "orchestrator: complete %s", step.Name)
		}
		log.Info("orchestrator: step completed",
			zap.Int("fields", metrics.Fields),
			zap.Int("attempts", attempts),
			zap.Int64("elapsed_ms", metrics.ElapsedMs),
			zap.Float64("cost_usd", metrics.CostUSD),
		)
		o.bus.Publish(Event{Type: EventStepCompleted, EntityID: e.ID, EntityType: e.Type, Step: step.Name, Service: step.Service, Metrics: metrics})
		return updated, stepResult{status: model.StepCompleted, metrics: metrics}, nil
	}

	stepErr := *resilience.AsStepError(execErr)
	stepErr.Attempts = attempts
	done := o.now()
	updated, err = o.store.MergeProgress(wctx, e.ID, map[string]model.StepState{
		step.Name: {Status: model.StepFailed, StartedAt: &startedAt, CompletedAt: &done, Error: &stepErr, Metrics: &metrics},
	})
	if err != nil {
		return e, stepResult{}, eris.Wrapf(err, "orchestrator: fail %s", step.Name)
	}
	log.Warn("orchestrator: step failed",
		zap.String("kind", string(stepErr.Kind)),
		zap.Int("attempts", attempts),
		zap.Bool("critical", step.Critical),
		zap.Error(execErr),
	)
	o.bus.Publish(Event{Type: EventStepFailed, EntityID: e.ID, EntityType: e.Type, Step: step.Name, Service: step.Service, ErrKind: stepErr.Kind, Metrics: metrics})
	return updated, stepResult{status: model.StepFailed, kind: stepErr.Kind, metrics: metrics}, nil
}

type attemptResult struct {
	update  *model.PartialUpdate
	metrics model.StepMetrics
}

// execute calls the adapter under the step timeout, the service bucket and
// breaker, retrying retryable failures up to step.MaxRetries times.
func (o *Orchestrator) execute(ctx context.Context, ad adapter.Adapter, jc model.JobContext, step registry.Step) (*model.PartialUpdate, model.StepMetrics, int, error) {
	var breaker *resilience.CircuitBreaker
	if o.breakers != nil && step.Service != registry.ServiceInternal {
		breaker = o.breakers.Get(step.Service)
	}

	cfg := o.retry.WithMaxRetries(step.MaxRetries)
	logRetry := resilience.RetryLogger(step.Service, step.Name)
	cfg.OnRetry = func(attempt int, err error) {
		logRetry(attempt, err)
		o.bus.Publish(Event{
			Type: EventStepRetried, EntityID: jc.Entity.ID, EntityType: jc.Entity.Type,
			Step: step.Name, Service: step.Service, ErrKind: resilience.Classify(err),
		})
	}

	attempts := 0
	res, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (attemptResult, error) {
		attempts++
		if err := o.throttle.Wait(ctx, step.Service); err != nil {
			return attemptResult{}, err
		}
		actx, cancel := context.WithTimeout(ctx, step.Timeout)
		defer cancel()

		call := jc
		call.Attempt = attempts
		run := func(ctx context.Context) (attemptResult, error) {
			u, m, err := ad.Execute(ctx, call)
			return attemptResult{update: u, metrics: m}, err
		}
		if breaker == nil {
			return run(actx)
		}
		return resilience.ExecuteVal(actx, breaker, run)
	})
	return res.update, res.metrics, attempts, err
}

func (o *Orchestrator) finish(ctx context.Context, e *model.Entity, status model.OverallStatus, reason string, outcome *model.JobOutcome, start time.Time) (*model.Entity, error) {
	change := store.StatusChange{Status: status, Reason: reason}
	if o.policy != nil && status == model.StatusCompleted {
		active := o.policy.Active(*e)
		change.Active = &active
	}
	updated, err := o.store.SetOverallStatus(ctx, e.ID, change)
	if err != nil {
		return e, eris.Wrap(err, "orchestrator: write terminal status")
	}
	outcome.Status = status
	outcome.Reason = reason
	outcome.Duration = o.now().Sub(start)
	o.bus.Publish(Event{Type: EventJobFinished, EntityID: e.ID, EntityType: e.Type, Status: status, Reason: reason})
	return updated, nil
}

// plan returns the steps to move back to pending before the run and whether
// anything is left to execute.
func plan(p model.Progress, steps []registry.Step, job model.Job) (reset []string, pending bool) {
	for _, s := range steps {
		st := p.Get(s.Name)
		switch {
		case job.Forced(s.Name):
			reset = append(reset, s.Name)
		case st.Status == model.StepRunning, st.Status == model.StepFailed, !st.Status.Valid():
			reset = append(reset, s.Name)
		case st.Status == model.StepPending:
			pending = true
		}
	}
	return reset, pending || len(reset) > 0
}

// legacyEntries marks progress entries the registry no longer names.
func legacyEntries(p model.Progress, steps []registry.Step) map[string]model.StepState {
	out := make(map[string]model.StepState)
	for name, st := range p {
		if st.Legacy || slices.ContainsFunc(steps, func(s registry.Step) bool { return s.Name == name }) {
			continue
		}
		st.Status = model.StepSkipped
		st.Legacy = true
		out[name] = st
	}
	return out
}
