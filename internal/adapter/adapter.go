// Package adapter wraps each external capability behind the step contract
// the orchestrator drives. Adapters read a snapshot of the entity and return
// a sparse update; they never write to the store.
package adapter

import (
	"context"
	"time"

	"github.com/sells-group/directory-cli/internal/cost"
	"github.com/sells-group/directory-cli/internal/fetcher"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/registry"
	"github.com/sells-group/directory-cli/internal/scrape"
	"github.com/sells-group/directory-cli/pkg/anthropic"
	"github.com/sells-group/directory-cli/pkg/google"
	"github.com/sells-group/directory-cli/pkg/jina"
	"github.com/sells-group/directory-cli/pkg/mediastore"
	"github.com/sells-group/directory-cli/pkg/perplexity"
)

// Adapter executes one step for one entity.
type Adapter interface {
	Execute(ctx context.Context, jc model.JobContext) (*model.PartialUpdate, model.StepMetrics, error)
}

// Conditional is implemented by adapters that only apply to some entities.
// A step whose adapter reports false is marked skipped without running.
type Conditional interface {
	Applicable(jc model.JobContext) bool
}

// Func adapts a plain function to Adapter.
type Func func(ctx context.Context, jc model.JobContext) (*model.PartialUpdate, model.StepMetrics, error)

// Execute implements Adapter.
func (f Func) Execute(ctx context.Context, jc model.JobContext) (*model.PartialUpdate, model.StepMetrics, error) {
	return f(ctx, jc)
}

// Set maps step names to adapters.
type Set map[string]Adapter

// Get returns the adapter for step.
func (s Set) Get(step string) (Adapter, bool) {
	a, ok := s[step]
	return a, ok
}

// Applicable reports whether a is applicable to jc. Adapters without a
// condition always apply.
func Applicable(a Adapter, jc model.JobContext) bool {
	if c, ok := a.(Conditional); ok {
		return c.Applicable(jc)
	}
	return true
}

// Deps holds the clients used to build the default adapter set. Optional
// clients may be nil; the adapters that need them then skip or degrade.
type Deps struct {
	Google     google.Client
	Scrape     *scrape.Chain
	Search     jina.Client
	Perplexity perplexity.Client
	Anthropic  anthropic.Client
	Fetcher    fetcher.Fetcher
	Media      mediastore.Store
	Cost       *cost.Calculator
	Taxonomy   Taxonomy

	AIModel        string
	MaxPhotos      int
	MaxReviews     int
	MaxScrapePages int
	ScoreWeights   ScoreWeights
}

// NewSet wires one adapter per registry step.
func NewSet(d Deps) Set {
	if d.Cost == nil {
		d.Cost = cost.NewCalculator(cost.DefaultRates())
	}
	if d.Taxonomy == nil {
		d.Taxonomy = DefaultTaxonomy()
	}
	ai := &aiCaller{client: d.Anthropic, model: d.AIModel, calc: d.Cost}

	return Set{
		registry.StepInitialCreation:  Noop{},
		registry.StepProviderFetch:    &ProviderFetch{Google: d.Google, Cost: d.Cost},
		registry.StepWebScrape:        &WebScrape{Chain: d.Scrape, Search: d.Search, Cost: d.Cost, MaxPages: d.MaxScrapePages},
		registry.StepReviewFetch:      &ReviewFetch{Google: d.Google, Cost: d.Cost, Max: d.MaxReviews},
		registry.StepImageExtraction:  &ImageExtraction{Google: d.Google, Fetcher: d.Fetcher, Media: d.Media, Cost: d.Cost, Max: d.MaxPhotos},
		registry.StepAISentiment:      &Sentiment{ai: ai},
		registry.StepWebResearch:      &WebResearch{Perplexity: d.Perplexity, Cost: d.Cost},
		registry.StepAIEnhancement:    &Enhancement{ai: ai},
		registry.StepCategoryMatching: &CategoryMatching{ai: ai, Taxonomy: d.Taxonomy},
		registry.StepScoreCalculation: &ScoreCalculation{Weights: d.ScoreWeights},
	}
}

// Noop completes without producing fields.
type Noop struct{}

// Execute implements Adapter.
func (Noop) Execute(context.Context, model.JobContext) (*model.PartialUpdate, model.StepMetrics, error) {
	return &model.PartialUpdate{}, model.StepMetrics{}, nil
}

func placeID(jc model.JobContext) string {
	if jc.Job.ExternalPlaceID != "" {
		return jc.Job.ExternalPlaceID
	}
	return jc.Entity.ExternalPlaceID
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
