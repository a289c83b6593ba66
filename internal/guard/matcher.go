package guard

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/store"
)

const (
	// DefaultThreshold is the similarity at which two names are flagged.
	DefaultThreshold = 0.8
	scanPageSize     = 500
	defaultMaxScan   = 5000
	maxCandidates    = 5
)

// Probe is the entity being checked.
type Probe struct {
	EntityID        string
	Type            model.EntityType
	ExternalPlaceID string
	Name            string
	Locality        string
}

// Candidate is a probable duplicate of a probe.
type Candidate struct {
	EntityID        string              `json:"entity_id"`
	ExternalPlaceID string              `json:"external_place_id"`
	Name            string              `json:"name"`
	Locality        string              `json:"locality,omitempty"`
	Status          model.OverallStatus `json:"overall_status"`
	Similarity      float64             `json:"similarity"`
}

// ReviewQueue receives probable duplicates for a human decision.
type ReviewQueue interface {
	Enqueue(ctx context.Context, p Probe, c Candidate) error
}

// Matcher finds same-type records with a similar name in the same locality.
// It is advisory: failures are logged and never block admission.
type Matcher struct {
	store     store.Store
	threshold float64
	maxScan   int
	queue     ReviewQueue
}

// NewMatcher creates a Matcher. A threshold <= 0 uses DefaultThreshold; queue
// may be nil.
func NewMatcher(s store.Store, threshold float64, queue ReviewQueue) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{store: s, threshold: threshold, maxScan: defaultMaxScan, queue: queue}
}

// Check returns up to five candidates, most similar first.
func (m *Matcher) Check(ctx context.Context, p Probe) []Candidate {
	if p.Name == "" {
		return nil
	}
	log := zap.L().With(zap.String("entity_id", p.EntityID), zap.String("entity_type", string(p.Type)))

	var out []Candidate
	for offset := 0; offset < m.maxScan; offset += scanPageSize {
		page, err := m.store.ListEntities(ctx, store.EntityFilter{Type: p.Type, Limit: scanPageSize, Offset: offset})
		if err != nil {
			log.Warn("guard: duplicate scan failed", zap.Error(err))
			break
		}
		for _, e := range page {
			if e.ID == p.EntityID || e.ExternalPlaceID == p.ExternalPlaceID || e.Fields.Name == "" {
				continue
			}
			if !SameLocality(p.Locality, e.Fields.Locality) {
				continue
			}
			sim := Similarity(p.Name, e.Fields.Name)
			if sim < m.threshold {
				continue
			}
			out = append(out, Candidate{
				EntityID:        e.ID,
				ExternalPlaceID: e.ExternalPlaceID,
				Name:            e.Fields.Name,
				Locality:        e.Fields.Locality,
				Status:          e.Status,
				Similarity:      sim,
			})
		}
		if len(page) < scanPageSize {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}

	for _, c := range out {
		log.Info("guard: probable duplicate",
			zap.String("candidate_id", c.EntityID),
			zap.String("candidate_name", c.Name),
			zap.Float64("similarity", c.Similarity),
		)
		if m.queue == nil {
			continue
		}
		if err := m.queue.Enqueue(ctx, p, c); err != nil {
			log.Warn("guard: review enqueue failed", zap.String("candidate_id", c.EntityID), zap.Error(err))
		}
	}
	return out
}
