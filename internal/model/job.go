package model

import (
	"slices"
	"time"
)

// Job binds an entity record to one run of its step registry. It is not
// persisted; the entity's progress map is the only durable trace.
type Job struct {
	EntityID        string     `json:"entity_id"`
	EntityType      EntityType `json:"entity_type"`
	ExternalPlaceID string     `json:"external_place_id"`
	SearchQuery     string     `json:"search_query,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	Force           []string   `json:"force,omitempty"`
	ForceAll        bool       `json:"force_all,omitempty"`
}

// Forced reports whether step must re-run even if already completed.
func (j Job) Forced(step string) bool {
	return j.ForceAll || slices.Contains(j.Force, step)
}

// JobContext is the read-only input handed to a step adapter.
type JobContext struct {
	Job     Job
	Entity  Entity
	Step    string
	Attempt int
}

// Artifact returns an intermediate output written by an earlier step.
func (c JobContext) Artifact(name string) string {
	return c.Entity.Fields.Artifacts[name]
}

// JobOutcome summarizes a finished orchestrator run.
type JobOutcome struct {
	EntityID  string        `json:"entity_id"`
	Status    OverallStatus `json:"overall_status"`
	Reason    string        `json:"reason,omitempty"`
	Executed  []string      `json:"executed,omitempty"`
	Completed []string      `json:"completed,omitempty"`
	Failed    []string      `json:"failed,omitempty"`
	Skipped   []string      `json:"skipped,omitempty"`
	CostUSD   float64       `json:"cost_usd"`
	Duration  time.Duration `json:"duration"`
	NoOp      bool          `json:"no_op,omitempty"`
}
