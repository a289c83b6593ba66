// Package store persists entity records and their per-step progress.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/directory-cli/internal/model"
)

// Sentinel errors returned by every Store implementation.
var (
	ErrNotFound          = eris.New("store: entity not found")
	ErrDuplicate         = eris.New("store: duplicate external place id")
	ErrStaleVersion      = eris.New("store: stale version")
	ErrInvalidTransition = eris.New("store: invalid step transition")
)

// IsNotFound reports whether err means the entity does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// EntityFilter specifies criteria for listing entities.
type EntityFilter struct {
	Type   model.EntityType    `json:"entity_type,omitempty"`
	Status model.OverallStatus `json:"overall_status,omitempty"`
	Active *bool               `json:"active,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// StatusChange describes a job-level status write.
type StatusChange struct {
	Status   model.OverallStatus
	Reason   string
	Active   *bool
	Verified *bool
}

// ReopenInput carries the mutable fields overwritten when an existing record
// is reused for a new run.
type ReopenInput struct {
	SearchQuery string
	Type        model.EntityType
}

// Store defines the persistence interface for the extraction orchestrator.
// Every mutation bumps the entity version and updated_at.
type Store interface {
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	FindByExternalID(ctx context.Context, externalPlaceID string) (*model.Entity, error)
	CreateEntity(ctx context.Context, e *model.Entity) error
	Reopen(ctx context.Context, id string, in ReopenInput) (*model.Entity, error)

	// MergeProgress applies step state changes. Each change must be a legal
	// transition from the stored state.
	MergeProgress(ctx context.Context, id string, steps map[string]model.StepState) (*model.Entity, error)
	// ResetSteps moves the named steps back to pending.
	ResetSteps(ctx context.Context, id string, steps []string) (*model.Entity, error)
	// MergeFields writes a step's partial update. Fields stamped after asOf
	// are left alone.
	MergeFields(ctx context.Context, id string, update *model.PartialUpdate, asOf time.Time) ([]string, error)
	// UpdateFields is the admin edit path; it fails with ErrStaleVersion when
	// expectedVersion does not match.
	UpdateFields(ctx context.Context, id string, expectedVersion int64, update *model.PartialUpdate) (*model.Entity, error)
	SetOverallStatus(ctx context.Context, id string, change StatusChange) (*model.Entity, error)

	ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error)
	// ListStale returns processing entities not updated since olderThan.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]model.Entity, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// mutation edits a loaded entity in place inside a store transaction.
type mutation func(e *model.Entity, now time.Time) error

func applyProgress(steps map[string]model.StepState) mutation {
	return func(e *model.Entity, _ time.Time) error {
		if e.Progress == nil {
			e.Progress = make(model.Progress)
		}
		for name, next := range steps {
			if next.Legacy {
				e.Progress[name] = next
				continue
			}
			cur := e.Progress.Get(name)
			if cur.Status != next.Status && !cur.Status.CanTransition(next.Status) {
				return eris.Wrapf(ErrInvalidTransition, "step %s: %s -> %s", name, cur.Status, next.Status)
			}
			e.Progress[name] = next
		}
		return nil
	}
}

func applyReset(steps []string) mutation {
	return func(e *model.Entity, _ time.Time) error {
		if e.Progress == nil {
			e.Progress = make(model.Progress)
		}
		for _, name := range steps {
			if e.Progress[name].Legacy {
				continue
			}
			e.Progress[name] = model.StepState{Status: model.StepPending}
		}
		return nil
	}
}

func applyReopen(in ReopenInput) mutation {
	return func(e *model.Entity, now time.Time) error {
		if in.SearchQuery != "" {
			e.SearchQuery = in.SearchQuery
		}
		if in.Type != "" {
			e.Type = in.Type
		}
		for name, st := range e.Progress {
			if st.Legacy || st.Status == model.StepCompleted {
				continue
			}
			e.Progress[name] = model.StepState{Status: model.StepPending}
		}
		e.Status = model.StatusProcessing
		e.FailureReason = ""
		e.StartedAt = &now
		e.FinishedAt = nil
		return nil
	}
}

// applyFields merges update; a zero asOf means the write is as of now.
func applyFields(update *model.PartialUpdate, asOf time.Time, written *[]string) mutation {
	return func(e *model.Entity, now time.Time) error {
		if asOf.IsZero() {
			asOf = now
		}
		*written = update.MergeInto(e, asOf, now)
		return nil
	}
}

func applyStatus(change StatusChange) mutation {
	return func(e *model.Entity, now time.Time) error {
		e.Status = change.Status
		e.FailureReason = change.Reason
		switch change.Status {
		case model.StatusProcessing:
			if e.StartedAt == nil {
				e.StartedAt = &now
			}
			e.FinishedAt = nil
		case model.StatusCompleted, model.StatusFailed:
			e.FinishedAt = &now
		}
		if change.Active != nil {
			e.Active = *change.Active
		}
		if change.Verified != nil {
			e.Verified = *change.Verified
		}
		return nil
	}
}

func checkVersion(expected int64) mutation {
	return func(e *model.Entity, _ time.Time) error {
		if e.Version != expected {
			return eris.Wrapf(ErrStaleVersion, "entity %s at version %d, expected %d", e.ID, e.Version, expected)
		}
		return nil
	}
}

func chain(ms ...mutation) mutation {
	return func(e *model.Entity, now time.Time) error {
		for _, m := range ms {
			if err := m(e, now); err != nil {
				return err
			}
		}
		return nil
	}
}

func prepareNew(e *model.Entity, id string, now time.Time) error {
	if !e.Type.Valid() {
		return eris.Errorf("store: invalid entity type %q", e.Type)
	}
	if e.ExternalPlaceID == "" {
		return eris.New("store: external place id is required")
	}
	if e.ID == "" {
		e.ID = id
	}
	if e.Status == "" {
		e.Status = model.StatusPending
	}
	if e.Progress == nil {
		e.Progress = make(model.Progress)
	}
	if e.FieldUpdatedAt == nil {
		e.FieldUpdatedAt = make(map[string]time.Time)
	}
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}
