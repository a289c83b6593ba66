// Package monitoring summarizes recent extraction outcomes and raises
// webhook alerts when failure rate, spend or circuit state cross thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/store"
)

const (
	pageSize = 500
	maxScan  = 20000
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Extraction metrics (records updated within the lookback window).
	Total      int            `json:"total"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	Processing int            `json:"processing"`
	Active     int            `json:"active"`
	FailRate   float64        `json:"fail_rate"`
	CostUSD    float64        `json:"cost_usd"`
	AvgScore   float64        `json:"avg_score"`
	Orphaned   int            `json:"orphaned"`
	Reasons    map[string]int `json:"failure_reasons,omitempty"`
	// StepFailures counts failed step entries by step name.
	StepFailures map[string]int `json:"step_failures,omitempty"`

	OpenCircuits []string `json:"open_circuits,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
	Truncated     bool      `json:"truncated,omitempty"`
}

// EntityLister is the store subset the collector reads.
type EntityLister interface {
	ListEntities(ctx context.Context, filter store.EntityFilter) ([]model.Entity, error)
}

// CircuitReporter lists services whose breaker is open.
type CircuitReporter interface {
	Open() []string
}

// Collector gathers metrics from the store and the circuit breakers.
type Collector struct {
	store    EntityLister
	circuits CircuitReporter
	now      func() time.Time
}

// NewCollector creates a new metrics collector. circuits may be nil.
func NewCollector(st EntityLister, circuits CircuitReporter) *Collector {
	return &Collector{store: st, circuits: circuits, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		Reasons:       make(map[string]int),
		StepFailures:  make(map[string]int),
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	var totalScore float64
	var scored int
	for offset := 0; ; offset += pageSize {
		if offset >= maxScan {
			snap.Truncated = true
			break
		}
		page, err := c.store.ListEntities(ctx, store.EntityFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list entities")
		}
		for i := range page {
			e := &page[i]
			if e.UpdatedAt.Before(cutoff) {
				continue
			}
			snap.Total++
			switch e.Status {
			case model.StatusCompleted:
				snap.Completed++
			case model.StatusFailed:
				snap.Failed++
				snap.Reasons[e.FailureReason]++
				if e.FailureReason == model.ReasonOrphaned {
					snap.Orphaned++
				}
			case model.StatusProcessing:
				snap.Processing++
			}
			if e.Active {
				snap.Active++
			}
			for name, st := range e.Progress {
				if st.Metrics != nil {
					snap.CostUSD += st.Metrics.CostUSD
				}
				if st.Status == model.StepFailed {
					snap.StepFailures[name]++
				}
			}
			if e.Fields.Score != nil {
				totalScore += *e.Fields.Score
				scored++
			}
		}
		if len(page) < pageSize {
			break
		}
	}

	if finished := snap.Completed + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	if scored > 0 {
		snap.AvgScore = totalScore / float64(scored)
	}
	if c.circuits != nil {
		snap.OpenCircuits = c.circuits.Open()
	}
	return snap, nil
}
