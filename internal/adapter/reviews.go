package adapter

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/directory-cli/internal/cost"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/pkg/google"
)

const defaultMaxReviews = 5

// ReviewFetch pulls the most relevant user reviews for the place.
type ReviewFetch struct {
	Google google.Client
	Cost   *cost.Calculator
	Max    int
}

// Applicable implements Conditional.
func (r *ReviewFetch) Applicable(jc model.JobContext) bool {
	return r.Google != nil && placeID(jc) != ""
}

// Execute implements Adapter.
func (r *ReviewFetch) Execute(ctx context.Context, jc model.JobContext) (*model.PartialUpdate, model.StepMetrics, error) {
	start := time.Now()
	metrics := model.StepMetrics{Source: "google"}
	if r.Google == nil {
		return nil, metrics, model.Fatal(eris.New("review_fetch: google client not configured"))
	}

	raw, err := r.Google.Reviews(ctx, placeID(jc))
	metrics.CostUSD = r.Cost.Google(cost.GoogleReviews, 1)
	if err != nil {
		return nil, metrics, err
	}

	limit := r.Max
	if limit <= 0 {
		limit = defaultMaxReviews
	}
	reviews := make([]model.Review, 0, min(len(raw), limit))
	for _, rv := range raw {
		if len(reviews) == limit {
			break
		}
		text := ""
		if rv.Text != nil {
			text = strings.TrimSpace(rv.Text.Text)
		}
		if text == "" {
			continue
		}
		out := model.Review{
			Author: rv.AuthorAttribution.DisplayName,
			Rating: rv.Rating,
			Text:   text,
		}
		if ts, err := time.Parse(time.RFC3339, rv.PublishTime); err == nil {
			ts = ts.UTC()
			out.PublishedAt = &ts
		}
		reviews = append(reviews, out)
	}

	metrics.Items = len(reviews)
	metrics.Fields = 1
	metrics.ElapsedMs = elapsedMs(start)
	return &model.PartialUpdate{Reviews: reviews}, metrics, nil
}
