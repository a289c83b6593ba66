// Package guard admits extraction requests: it creates or reuses the entity
// record, refuses duplicates and in-flight work, and flags probable
// duplicates that carry a different place id.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/registry"
	"github.com/sells-group/directory-cli/internal/store"
)

// Conflict reasons.
const (
	ReasonInProgress = "extraction already in progress"
	ReasonDuplicate  = "duplicate"
)

// ActiveChecker reports whether an entity's loop is running in this process.
type ActiveChecker interface {
	IsActive(entityID string) bool
}

// Request asks for one extraction.
type Request struct {
	EntityType      model.EntityType `json:"entity_type"`
	ExternalPlaceID string           `json:"external_place_id"`
	SearchQuery     string           `json:"search_query,omitempty"`
	// Name and Locality are optional hints for the fuzzy duplicate check.
	Name     string   `json:"name,omitempty"`
	Locality string   `json:"locality,omitempty"`
	Override bool     `json:"override,omitempty"`
	Force    []string `json:"force,omitempty"`
	ForceAll bool     `json:"force_all,omitempty"`
}

// Validate checks required fields.
func (r Request) Validate() error {
	if !r.EntityType.Valid() {
		return eris.Errorf("guard: invalid entity type %q", r.EntityType)
	}
	if r.ExternalPlaceID == "" {
		return eris.New("guard: external_place_id is required")
	}
	return nil
}

// ConflictError is returned when a request may not proceed.
type ConflictError struct {
	ExistingID     string              `json:"existing_id"`
	ExistingStatus model.OverallStatus `json:"existing_status"`
	Reason         string              `json:"reason"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("guard: %s (entity %s, status %s)", e.Reason, e.ExistingID, e.ExistingStatus)
}

// AsConflict extracts a *ConflictError from err's chain.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Admission is an accepted request: the record to run and the job to run it.
type Admission struct {
	Entity             *model.Entity `json:"-"`
	Job                model.Job     `json:"job"`
	Reused             bool          `json:"reused"`
	ProbableDuplicates []Candidate   `json:"probable_duplicates,omitempty"`
}

// Guard applies the admission table.
type Guard struct {
	store   store.Store
	active  ActiveChecker
	matcher *Matcher
	now     func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithMatcher enables the fuzzy duplicate check.
func WithMatcher(m *Matcher) Option {
	return func(g *Guard) { g.matcher = m }
}

// New creates a Guard. active may be nil when no loop runs in this process.
func New(s store.Store, active ActiveChecker, opts ...Option) *Guard {
	g := &Guard{store: s, active: active, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Admit decides whether req may start and prepares the record.
//
//	no record                -> create, proceed
//	processing, no override  -> conflict "extraction already in progress"
//	any status, no override  -> conflict "duplicate"
//	any status, override     -> reopen (completed steps kept), proceed
//
// A record whose loop is active here is never reopened.
func (g *Guard) Admit(ctx context.Context, req Request) (*Admission, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(
		zap.String("external_place_id", req.ExternalPlaceID),
		zap.String("entity_type", string(req.EntityType)),
	)

	existing, err := g.store.FindByExternalID(ctx, req.ExternalPlaceID)
	switch {
	case store.IsNotFound(err):
		e, err := g.create(ctx, req)
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a create race; the winner is in flight.
			existing, ferr := g.store.FindByExternalID(ctx, req.ExternalPlaceID)
			if ferr != nil {
				return nil, eris.Wrap(ferr, "guard: reload after duplicate create")
			}
			return nil, conflict(existing, ReasonInProgress)
		}
		if err != nil {
			return nil, err
		}
		log.Info("guard: entity created", zap.String("entity_id", e.ID))
		return g.admitted(ctx, req, e, false), nil
	case err != nil:
		return nil, eris.Wrap(err, "guard: lookup")
	}

	if g.active != nil && g.active.IsActive(existing.ID) {
		return nil, conflict(existing, ReasonInProgress)
	}
	if !req.Override {
		if existing.Status == model.StatusProcessing {
			return nil, conflict(existing, ReasonInProgress)
		}
		return nil, conflict(existing, ReasonDuplicate)
	}

	e, err := g.store.Reopen(ctx, existing.ID, store.ReopenInput{
		SearchQuery: req.SearchQuery,
		Type:        req.EntityType,
	})
	if err != nil {
		return nil, eris.Wrap(err, "guard: reopen")
	}
	log.Info("guard: entity reopened",
		zap.String("entity_id", e.ID),
		zap.String("previous_status", string(existing.Status)),
	)
	return g.admitted(ctx, req, e, true), nil
}

func (g *Guard) create(ctx context.Context, req Request) (*model.Entity, error) {
	now := g.now()
	e := &model.Entity{
		Type:            req.EntityType,
		ExternalPlaceID: req.ExternalPlaceID,
		SearchQuery:     req.SearchQuery,
		Status:          model.StatusProcessing,
		Progress: model.Progress{
			registry.StepInitialCreation: {Status: model.StepCompleted, StartedAt: &now, CompletedAt: &now},
		},
		StartedAt: &now,
	}
	if err := g.store.CreateEntity(ctx, e); err != nil {
		return nil, eris.Wrap(err, "guard: create")
	}
	return e, nil
}

func (g *Guard) admitted(ctx context.Context, req Request, e *model.Entity, reused bool) *Admission {
	a := &Admission{
		Entity: e,
		Reused: reused,
		Job: model.Job{
			EntityID:        e.ID,
			EntityType:      e.Type,
			ExternalPlaceID: e.ExternalPlaceID,
			SearchQuery:     e.SearchQuery,
			StartedAt:       g.now(),
			Force:           req.Force,
			ForceAll:        req.ForceAll,
		},
	}
	if g.matcher != nil {
		name := req.Name
		if name == "" {
			name = e.Fields.Name
		}
		locality := req.Locality
		if locality == "" {
			locality = e.Fields.Locality
		}
		a.ProbableDuplicates = g.matcher.Check(ctx, Probe{
			EntityID:        e.ID,
			Type:            e.Type,
			ExternalPlaceID: e.ExternalPlaceID,
			Name:            name,
			Locality:        locality,
		})
	}
	return a
}

func conflict(e *model.Entity, reason string) *ConflictError {
	return &ConflictError{ExistingID: e.ID, ExistingStatus: e.Status, Reason: reason}
}
