package adapter

import (
	"context"
	"math"
	"time"

	"github.com/sells-group/directory-cli/internal/model"
)

// ScoreWeights weights the listing score dimensions. A zero value uses
// DefaultScoreWeights.
type ScoreWeights struct {
	Rating       float64 `yaml:"rating" mapstructure:"rating"`
	Popularity   float64 `yaml:"popularity" mapstructure:"popularity"`
	Completeness float64 `yaml:"completeness" mapstructure:"completeness"`
	Sentiment    float64 `yaml:"sentiment" mapstructure:"sentiment"`
}

// DefaultScoreWeights returns the built-in weights.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Rating: 0.35, Popularity: 0.2, Completeness: 0.3, Sentiment: 0.15}
}

// ScoreBreakdown holds the individual dimension scores (0..1) and the final
// score (0..100).
type ScoreBreakdown struct {
	Rating       float64 `json:"rating"`
	Popularity   float64 `json:"popularity"`
	Completeness float64 `json:"completeness"`
	Sentiment    float64 `json:"sentiment"`
	Final        float64 `json:"final"`
}

// ScoreCalculation computes the listing score from collected fields. It makes
// no external calls.
type ScoreCalculation struct {
	Weights ScoreWeights
}

// Execute implements Adapter.
func (s *ScoreCalculation) Execute(_ context.Context, jc model.JobContext) (*model.PartialUpdate, model.StepMetrics, error) {
	start := time.Now()
	b := ComputeScore(jc.Entity.Fields, s.Weights)
	return &model.PartialUpdate{Score: model.Ptr(b.Final)}, model.StepMetrics{
		Fields:    1,
		Source:    "internal",
		ElapsedMs: elapsedMs(start),
	}, nil
}

// ComputeScore combines rating, review volume, field completeness and review
// sentiment. Dimensions without data drop out and the remaining weights are
// renormalized.
func ComputeScore(f model.Fields, w ScoreWeights) ScoreBreakdown {
	if w == (ScoreWeights{}) {
		w = DefaultScoreWeights()
	}

	var b ScoreBreakdown
	var sum, total float64

	if f.ReviewCount > 0 {
		b.Rating = clamp(f.Rating/5, 0, 1)
		// 1000 reviews saturates.
		b.Popularity = clamp(math.Log10(float64(f.ReviewCount)+1)/3, 0, 1)
		sum += w.Rating*b.Rating + w.Popularity*b.Popularity
		total += w.Rating + w.Popularity
	}

	b.Completeness = completeness(f)
	sum += w.Completeness * b.Completeness
	total += w.Completeness

	if f.Sentiment != nil {
		b.Sentiment = clamp((f.Sentiment.Score+1)/2, 0, 1)
		sum += w.Sentiment * b.Sentiment
		total += w.Sentiment
	}

	if total > 0 {
		b.Final = math.Round(sum/total*1000) / 10
	}
	return b
}

func completeness(f model.Fields) float64 {
	checks := []bool{
		f.Name != "",
		f.Address != "",
		f.Phone != "",
		f.Website != "",
		f.Location != nil,
		len(f.OpeningHours) > 0,
		f.Description != "",
		len(f.Images) > 0,
		len(f.CategoryIDs) > 0,
		len(f.Highlights) > 0,
	}
	n := 0
	for _, ok := range checks {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(checks))
}
