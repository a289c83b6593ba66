// Package registry defines the ordered extraction steps for each entity type.
package registry

import (
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/directory-cli/internal/model"
)

// Stable step names. They key the progress map, so renaming one turns old
// entries into legacy records.
const (
	StepInitialCreation  = "initial_creation"
	StepProviderFetch    = "provider_fetch"
	StepWebScrape        = "web_scrape"
	StepReviewFetch      = "review_fetch"
	StepImageExtraction  = "image_extraction"
	StepAISentiment      = "ai_sentiment"
	StepWebResearch      = "web_research"
	StepAIEnhancement    = "ai_enhancement"
	StepCategoryMatching = "category_matching"
	StepScoreCalculation = "score_calculation"
)

// Rate limit buckets.
const (
	ServiceInternal   = "internal"
	ServiceGoogle     = "google"
	ServiceScrape     = "scrape"
	ServicePerplexity = "perplexity"
	ServiceAnthropic  = "anthropic"
	ServiceMedia      = "media"
)

// Step is one registry entry.
type Step struct {
	Name        string        `json:"name"`
	Critical    bool          `json:"critical"`
	MaxRetries  int           `json:"max_retries"`
	Timeout     time.Duration `json:"timeout"`
	EstCostUSD  float64       `json:"est_cost_usd"`
	EstDuration time.Duration `json:"est_duration"`
	Service     string        `json:"service"`
	Produces    []string      `json:"produces,omitempty"`
}

// Registry maps each entity type to its ordered steps. It is immutable once
// built; overrides produce a new Registry.
type Registry struct {
	byType map[model.EntityType][]Step
}

var catalog = map[string]Step{
	StepInitialCreation: {
		Name: StepInitialCreation, Critical: true, MaxRetries: 0,
		Timeout: 5 * time.Second, EstDuration: 100 * time.Millisecond, Service: ServiceInternal,
	},
	StepProviderFetch: {
		Name: StepProviderFetch, Critical: true, MaxRetries: 3,
		Timeout: 20 * time.Second, EstCostUSD: 0.017, EstDuration: 2 * time.Second, Service: ServiceGoogle,
		Produces: []string{
			model.FieldName, model.FieldAddress, model.FieldLocality, model.FieldPhone, model.FieldWebsite,
			model.FieldLocation, model.FieldRating, model.FieldReviewCount, model.FieldPriceLevel,
			model.FieldOpeningHours, model.FieldProviderTypes, model.ArtifactField(model.ArtifactPhotoRefs),
		},
	},
	StepWebScrape: {
		Name: StepWebScrape, MaxRetries: 2,
		Timeout: 45 * time.Second, EstCostUSD: 0.001, EstDuration: 8 * time.Second, Service: ServiceScrape,
		Produces: []string{
			model.ArtifactField(model.ArtifactWebContent), model.ArtifactField(model.ArtifactWebSource),
			model.ArtifactField(model.ArtifactWebImage),
		},
	},
	StepReviewFetch: {
		Name: StepReviewFetch, MaxRetries: 2,
		Timeout: 20 * time.Second, EstCostUSD: 0.02, EstDuration: 2 * time.Second, Service: ServiceGoogle,
		Produces: []string{model.FieldReviews},
	},
	StepImageExtraction: {
		Name: StepImageExtraction, MaxRetries: 2,
		Timeout: 90 * time.Second, EstCostUSD: 0.035, EstDuration: 15 * time.Second, Service: ServiceMedia,
		Produces: []string{model.FieldImages},
	},
	StepAISentiment: {
		Name: StepAISentiment, MaxRetries: 2,
		Timeout: 60 * time.Second, EstCostUSD: 0.004, EstDuration: 6 * time.Second, Service: ServiceAnthropic,
		Produces: []string{model.FieldSentiment},
	},
	StepWebResearch: {
		Name: StepWebResearch, MaxRetries: 2,
		Timeout: 60 * time.Second, EstCostUSD: 0.006, EstDuration: 10 * time.Second, Service: ServicePerplexity,
		Produces: []string{model.ArtifactField(model.ArtifactResearch)},
	},
	StepAIEnhancement: {
		Name: StepAIEnhancement, MaxRetries: 2,
		Timeout: 90 * time.Second, EstCostUSD: 0.012, EstDuration: 12 * time.Second, Service: ServiceAnthropic,
		Produces: []string{model.FieldDescription, model.FieldSummary, model.FieldHighlights, model.FieldAmenities},
	},
	StepCategoryMatching: {
		Name: StepCategoryMatching, MaxRetries: 2,
		Timeout: 30 * time.Second, EstCostUSD: 0.002, EstDuration: 3 * time.Second, Service: ServiceAnthropic,
		Produces: []string{model.FieldCategoryIDs, model.ArtifactField(model.ArtifactSuggestions)},
	},
	StepScoreCalculation: {
		Name: StepScoreCalculation, Critical: true, MaxRetries: 0,
		Timeout: 5 * time.Second, EstDuration: 50 * time.Millisecond, Service: ServiceInternal,
		Produces: []string{model.FieldScore},
	},
}

var (
	baseOrder = []string{
		StepInitialCreation, StepProviderFetch, StepWebScrape, StepReviewFetch,
		StepImageExtraction, StepAISentiment, StepAIEnhancement, StepCategoryMatching, StepScoreCalculation,
	}
	researchOrder = []string{
		StepInitialCreation, StepProviderFetch, StepWebScrape, StepReviewFetch,
		StepImageExtraction, StepAISentiment, StepWebResearch, StepAIEnhancement, StepCategoryMatching, StepScoreCalculation,
	}
	noSentimentOrder = []string{
		StepInitialCreation, StepProviderFetch, StepWebScrape, StepReviewFetch,
		StepImageExtraction, StepAIEnhancement, StepCategoryMatching, StepScoreCalculation,
	}
)

// Default returns the built-in registry.
func Default() *Registry {
	orders := map[model.EntityType][]string{
		model.EntityRestaurant:    baseOrder,
		model.EntityHotel:         researchOrder,
		model.EntityAttraction:    researchOrder,
		model.EntitySchool:        researchOrder,
		model.EntityMall:          noSentimentOrder,
		model.EntityFitnessCenter: noSentimentOrder,
	}
	r := &Registry{byType: make(map[model.EntityType][]Step, len(orders))}
	for t, names := range orders {
		steps := make([]Step, 0, len(names))
		for _, n := range names {
			steps = append(steps, catalog[n].clone())
		}
		r.byType[t] = steps
	}
	return r
}

// New builds a registry from explicit step lists and validates it.
func New(byType map[model.EntityType][]Step) (*Registry, error) {
	r := &Registry{byType: make(map[model.EntityType][]Step, len(byType))}
	for t, steps := range byType {
		cp := make([]Step, len(steps))
		for i, s := range steps {
			cp[i] = s.clone()
		}
		r.byType[t] = cp
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Steps returns a copy of the ordered steps for t.
func (r *Registry) Steps(t model.EntityType) ([]Step, error) {
	steps, ok := r.byType[t]
	if !ok {
		return nil, eris.Errorf("registry: no steps for entity type %q", t)
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s.clone()
	}
	return out, nil
}

// Names returns the ordered step names for t.
func (r *Registry) Names(t model.EntityType) []string {
	steps := r.byType[t]
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

// Step looks up a single step for t.
func (r *Registry) Step(t model.EntityType, name string) (Step, bool) {
	for _, s := range r.byType[t] {
		if s.Name == name {
			return s.clone(), true
		}
	}
	return Step{}, false
}

// Has reports whether name is a registered step for t.
func (r *Registry) Has(t model.EntityType, name string) bool {
	_, ok := r.Step(t, name)
	return ok
}

// Estimate sums estimated cost and duration over the steps of t.
func (r *Registry) Estimate(t model.EntityType) (costUSD float64, duration time.Duration) {
	for _, s := range r.byType[t] {
		costUSD += s.EstCostUSD
		duration += s.EstDuration
	}
	return costUSD, duration
}

// Validate checks structural rules: initial_creation is first, step names are
// unique per type, produced fields do not overlap, and limits are sane.
func (r *Registry) Validate() error {
	for t, steps := range r.byType {
		if !t.Valid() {
			return eris.Errorf("registry: unknown entity type %q", t)
		}
		if len(steps) == 0 || steps[0].Name != StepInitialCreation {
			return eris.Errorf("registry: %s: first step must be %s", t, StepInitialCreation)
		}
		seen := make(map[string]bool, len(steps))
		owner := make(map[string]string)
		for _, s := range steps {
			if s.Name == "" {
				return eris.Errorf("registry: %s: step with empty name", t)
			}
			if seen[s.Name] {
				return eris.Errorf("registry: %s: duplicate step %s", t, s.Name)
			}
			seen[s.Name] = true
			if s.MaxRetries < 0 {
				return eris.Errorf("registry: %s/%s: negative max_retries", t, s.Name)
			}
			if s.Timeout <= 0 {
				return eris.Errorf("registry: %s/%s: timeout must be positive", t, s.Name)
			}
			for _, f := range s.Produces {
				if !model.KnownField(f) {
					return eris.Errorf("registry: %s/%s: unknown field %q", t, s.Name, f)
				}
				if prev, ok := owner[f]; ok {
					return eris.Errorf("registry: %s: field %q produced by both %s and %s", t, f, prev, s.Name)
				}
				owner[f] = s.Name
			}
		}
	}
	return nil
}

// Types lists the entity types with a step list.
func (r *Registry) Types() []model.EntityType {
	var out []model.EntityType
	for _, t := range model.EntityTypes {
		if _, ok := r.byType[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (s Step) clone() Step {
	s.Produces = slices.Clone(s.Produces)
	return s
}
