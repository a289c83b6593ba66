package model

import (
	"errors"
	"fmt"
	"time"
)

// StepStatus is the state of one step in an entity's progress map.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Valid reports whether s is a known step status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepRunning, StepCompleted, StepFailed, StepSkipped:
		return true
	}
	return false
}

// Terminal reports whether the step has finished for the current run.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// CanTransition reports whether a step may move from s to next within one run.
// Moving back to pending is a reset and goes through Progress.Reset instead.
func (s StepStatus) CanTransition(next StepStatus) bool {
	switch s {
	case StepPending:
		return next == StepRunning || next == StepSkipped
	case StepRunning:
		return next == StepCompleted || next == StepFailed
	}
	return false
}

// ErrorKind classifies step failures for retry and abort decisions.
type ErrorKind string

const (
	KindTransient     ErrorKind = "transient"
	KindQuotaExceeded ErrorKind = "quota_exceeded"
	KindInvalidInput  ErrorKind = "invalid_input"
	KindFatal         ErrorKind = "fatal"
)

// Retryable reports whether errors of this kind are retried with backoff.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindQuotaExceeded
}

// StepError is the structured error persisted on a failed step.
type StepError struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Attempts int       `json:"attempts,omitempty"`

	cause error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.cause
}

// NewStepError wraps err with the given kind.
func NewStepError(kind ErrorKind, err error) *StepError {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &StepError{Kind: kind, Message: err.Error(), cause: err}
}

// Transient marks err as retryable.
func Transient(err error) *StepError { return NewStepError(KindTransient, err) }

// QuotaExceeded marks err as a rate-limit or quota rejection.
func QuotaExceeded(err error) *StepError { return NewStepError(KindQuotaExceeded, err) }

// Fatal marks err as a configuration problem no later step can recover from.
func Fatal(err error) *StepError { return NewStepError(KindFatal, err) }

// InvalidInput reports missing or malformed prerequisite data.
func InvalidInput(format string, args ...any) *StepError {
	return NewStepError(KindInvalidInput, fmt.Errorf(format, args...))
}

// AsStepError extracts a *StepError from err's chain.
func AsStepError(err error) (*StepError, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// StepMetrics records what a step cost and produced.
type StepMetrics struct {
	CostUSD   float64 `json:"cost_usd,omitempty"`
	Items     int     `json:"items,omitempty"`
	Tokens    int64   `json:"tokens,omitempty"`
	ElapsedMs int64   `json:"elapsed_ms"`
	Attempts  int     `json:"attempts,omitempty"`
	Fields    int     `json:"fields,omitempty"`
	Source    string  `json:"source,omitempty"`
}

// StepState is one entry in the progress map.
type StepState struct {
	Status      StepStatus   `json:"status"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       *StepError   `json:"error,omitempty"`
	Metrics     *StepMetrics `json:"metrics,omitempty"`
	Legacy      bool         `json:"legacy,omitempty"`
}

// Progress maps stable step names to their state. Missing entries are pending.
type Progress map[string]StepState

// Get returns the state for step, defaulting to pending.
func (p Progress) Get(step string) StepState {
	if st, ok := p[step]; ok {
		return st
	}
	return StepState{Status: StepPending}
}

// Clone returns a deep copy.
func (p Progress) Clone() Progress {
	if p == nil {
		return nil
	}
	out := make(Progress, len(p))
	for k, v := range p {
		if v.Error != nil {
			e := *v.Error
			v.Error = &e
		}
		if v.Metrics != nil {
			m := *v.Metrics
			v.Metrics = &m
		}
		out[k] = v
	}
	return out
}

// Counts tallies steps by status over the given ordered step names.
func (p Progress) Counts(steps []string) map[StepStatus]int {
	counts := make(map[StepStatus]int, 5)
	for _, s := range steps {
		counts[p.Get(s).Status]++
	}
	return counts
}
