// Package extraction is the trigger surface: it admits a request through the
// duplicate guard and hands the job to a dispatcher.
package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/guard"
	"github.com/sells-group/directory-cli/internal/metrics"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/registry"
	"github.com/sells-group/directory-cli/internal/runner"
	"github.com/sells-group/directory-cli/internal/store"
)

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = eris.New("extraction: invalid request")

// Accepted is returned when a job was admitted and dispatched.
type Accepted struct {
	EntityID           string            `json:"entity_id"`
	Reused             bool              `json:"reused"`
	ProbableDuplicates []guard.Candidate `json:"probable_duplicates,omitempty"`
	EstCostUSD         float64           `json:"est_cost_usd"`
	EstDuration        time.Duration     `json:"est_duration"`
}

// Service starts extractions.
type Service struct {
	guard      *guard.Guard
	dispatcher runner.Dispatcher
	registry   *registry.Registry
	store      store.Store
}

// NewService creates a Service.
func NewService(g *guard.Guard, d runner.Dispatcher, reg *registry.Registry, s store.Store) *Service {
	return &Service{guard: g, dispatcher: d, registry: reg, store: s}
}

// StartExtraction admits req and dispatches its job. A refused request
// returns a *guard.ConflictError.
func (s *Service) StartExtraction(ctx context.Context, req guard.Request) (*Accepted, error) {
	if err := req.Validate(); err != nil {
		metrics.Admissions.WithLabelValues("invalid").Inc()
		return nil, eris.Wrapf(ErrInvalidRequest, "%v", err)
	}
	for _, name := range req.Force {
		if !s.registry.Has(req.EntityType, name) {
			metrics.Admissions.WithLabelValues("invalid").Inc()
			return nil, eris.Wrapf(ErrInvalidRequest, "unknown step %q for %s", name, req.EntityType)
		}
	}

	adm, err := s.guard.Admit(ctx, req)
	if err != nil {
		if ce, ok := guard.AsConflict(err); ok {
			metrics.Admissions.WithLabelValues(conflictLabel(ce)).Inc()
			return nil, ce
		}
		metrics.Admissions.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := s.dispatcher.Dispatch(ctx, adm.Job); err != nil {
		if errors.Is(err, runner.ErrAlreadyActive) {
			metrics.Admissions.WithLabelValues("conflict_in_progress").Inc()
			return nil, &guard.ConflictError{
				ExistingID:     adm.Entity.ID,
				ExistingStatus: adm.Entity.Status,
				Reason:         guard.ReasonInProgress,
			}
		}
		metrics.Admissions.WithLabelValues("error").Inc()
		// The record was left processing by the guard; release it.
		if _, serr := s.store.SetOverallStatus(context.WithoutCancel(ctx), adm.Entity.ID, store.StatusChange{
			Status: model.StatusFailed,
			Reason: model.ReasonInternal,
		}); serr != nil {
			zap.L().Error("extraction: release record after dispatch failure", zap.String("entity_id", adm.Entity.ID), zap.Error(serr))
		}
		return nil, eris.Wrap(err, "extraction: dispatch")
	}

	metrics.Admissions.WithLabelValues("accepted").Inc()
	estCost, estDur := s.registry.Estimate(req.EntityType)
	zap.L().Info("extraction: accepted",
		zap.String("entity_id", adm.Entity.ID),
		zap.String("entity_type", string(req.EntityType)),
		zap.String("external_place_id", req.ExternalPlaceID),
		zap.Bool("reused", adm.Reused),
		zap.Int("probable_duplicates", len(adm.ProbableDuplicates)),
	)
	return &Accepted{
		EntityID:           adm.Entity.ID,
		Reused:             adm.Reused,
		ProbableDuplicates: adm.ProbableDuplicates,
		EstCostUSD:         estCost,
		EstDuration:        estDur,
	}, nil
}

// IsInvalid reports whether err is a rejected request.
func IsInvalid(err error) bool { return errors.Is(err, ErrInvalidRequest) }

// Cancel stops a running extraction.
func (s *Service) Cancel(ctx context.Context, entityID string) (bool, error) {
	return s.dispatcher.Cancel(ctx, entityID)
}

func conflictLabel(ce *guard.ConflictError) string {
	if ce.Reason == guard.ReasonInProgress {
		return "conflict_in_progress"
	}
	return "conflict_duplicate"
}
