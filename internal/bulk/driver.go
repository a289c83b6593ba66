package bulk

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/extraction"
	"github.com/sells-group/directory-cli/internal/guard"
	"github.com/sells-group/directory-cli/internal/metrics"
	"github.com/sells-group/directory-cli/internal/throttle"
)

// Outcomes recorded per item.
const (
	OutcomeAccepted = "accepted"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Starter is the trigger surface the driver feeds.
type Starter interface {
	StartExtraction(ctx context.Context, req guard.Request) (*extraction.Accepted, error)
}

// Result is the outcome of one item.
type Result struct {
	Row             int     `json:"row"`
	ExternalPlaceID string  `json:"external_place_id"`
	Outcome         string  `json:"outcome"`
	EntityID        string  `json:"entity_id,omitempty"`
	Error           string  `json:"error,omitempty"`
	EstCostUSD      float64 `json:"est_cost_usd,omitempty"`
}

// Summary counts outcomes of a bulk run.
type Summary struct {
	Total      int      `json:"total"`
	Accepted   int      `json:"accepted"`
	Conflicts  int      `json:"conflicts"`
	Invalid    int      `json:"invalid"`
	Errors     int      `json:"errors"`
	EstCostUSD float64  `json:"est_cost_usd"`
	Results    []Result `json:"results"`
	// Interrupted is set when ctx ended before every item was submitted.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Driver submits items in batches, pausing between jobs and batches.
type Driver struct {
	starter  Starter
	throttle *throttle.Controller
}

// NewDriver creates a Driver. tc may be nil to submit without pauses.
func NewDriver(s Starter, tc *throttle.Controller) *Driver {
	return &Driver{starter: s, throttle: tc}
}

// Requests wraps already-decoded requests as items, numbering rows from 1.
func Requests(reqs []guard.Request) []Item {
	items := make([]Item, len(reqs))
	for i, r := range reqs {
		items[i] = Item{Row: i + 1, Request: r}
	}
	return items
}

// Run submits every item. Per-item failures are counted, never returned;
// the run stops early only when ctx is done.
func (d *Driver) Run(ctx context.Context, items []Item) *Summary {
	log := zap.L().With(zap.String("component", "bulk"))
	sum := &Summary{Total: len(items), Results: make([]Result, 0, len(items))}

	batches := throttle.Chunk(items, d.throttle.BatchSize())
	log.Info("bulk: starting", zap.Int("items", len(items)), zap.Int("batches", len(batches)))

	for bi, batch := range batches {
		if bi > 0 {
			if err := d.throttle.BatchPause(ctx); err != nil {
				sum.Interrupted = true
				break
			}
		}
		if !d.runBatch(ctx, batch, sum) {
			sum.Interrupted = true
			break
		}
		log.Debug("bulk: batch done", zap.Int("batch", bi+1), zap.Int("of", len(batches)))
	}

	log.Info("bulk: finished",
		zap.Int("accepted", sum.Accepted),
		zap.Int("conflicts", sum.Conflicts),
		zap.Int("invalid", sum.Invalid),
		zap.Int("errors", sum.Errors),
		zap.Bool("interrupted", sum.Interrupted),
	)
	return sum
}

func (d *Driver) runBatch(ctx context.Context, batch []Item, sum *Summary) bool {
	for i, item := range batch {
		if i > 0 {
			if err := d.throttle.JobPause(ctx); err != nil {
				return false
			}
		} else if ctx.Err() != nil {
			return false
		}
		sum.add(d.submit(ctx, item))
	}
	return true
}

func (d *Driver) submit(ctx context.Context, item Item) Result {
	res := Result{Row: item.Row, ExternalPlaceID: item.Request.ExternalPlaceID}
	if item.Err != nil {
		res.Outcome = OutcomeInvalid
		res.Error = item.Err.Error()
		return res
	}

	acc, err := d.starter.StartExtraction(ctx, item.Request)
	switch {
	case err == nil:
		res.Outcome = OutcomeAccepted
		res.EntityID = acc.EntityID
		res.EstCostUSD = acc.EstCostUSD
	case extraction.IsInvalid(err):
		res.Outcome = OutcomeInvalid
		res.Error = err.Error()
	default:
		if ce, ok := guard.AsConflict(err); ok {
			res.Outcome = OutcomeConflict
			res.EntityID = ce.ExistingID
			res.Error = ce.Reason
		} else {
			res.Outcome = OutcomeError
			res.Error = err.Error()
			zap.L().Warn("bulk: item failed",
				zap.Int("row", item.Row),
				zap.String("external_place_id", item.Request.ExternalPlaceID),
				zap.Error(err),
			)
		}
	}
	return res
}

func (s *Summary) add(r Result) {
	metrics.BulkItems.WithLabelValues(r.Outcome).Inc()
	s.Results = append(s.Results, r)
	switch r.Outcome {
	case OutcomeAccepted:
		s.Accepted++
		s.EstCostUSD += r.EstCostUSD
	case OutcomeConflict:
		s.Conflicts++
	case OutcomeInvalid:
		s.Invalid++
	default:
		s.Errors++
	}
}
