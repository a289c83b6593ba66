package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/directory-cli/internal/model"
)

const sentimentSystem = `You analyse customer reviews for a local directory listing.
Reply with a single JSON object and nothing else:
{"score": <number from -1 (very negative) to 1 (very positive)>, "label": "positive" | "mixed" | "negative", "positives": [<up to 5 short phrases>], "negatives": [<up to 5 short phrases>]}`

// Sentiment summarizes review tone with Claude.
type Sentiment struct {
	ai *aiCaller
}

type sentimentReply struct {
	Score     float64  `json:"score"`
	Label     string   `json:"label"`
	Positives []string `json:"positives"`
	Negatives []string `json:"negatives"`
}

// Applicable implements Conditional.
func (s *Sentiment) Applicable(jc model.JobContext) bool {
	return s.ai.configured() && len(jc.Entity.Fields.Reviews) > 0
}

// Execute implements Adapter.
func (s *Sentiment) Execute(ctx context.Context, jc model.JobContext) (*model.PartialUpdate, model.StepMetrics, error) {
	start := time.Now()
	f := jc.Entity.Fields

	var b strings.Builder
	fmt.Fprintf(&b, "Listing: %s (%s)\n\nReviews:\n", f.Name, jc.Entity.Type)
	for i, r := range f.Reviews {
		fmt.Fprintf(&b, "%d. [%.0f/5] %s\n", i+1, r.Rating, r.Text)
	}

	var reply sentimentReply
	metrics, err := s.ai.call(ctx, jc.Step, sentimentSystem, b.String(), &reply)
	if err != nil {
		return nil, metrics, err
	}

	out := &model.Sentiment{
		Score:     clamp(reply.Score, -1, 1),
		Label:     normalizeLabel(reply.Label, reply.Score),
		Positives: trimList(reply.Positives, 5),
		Negatives: trimList(reply.Negatives, 5),
	}
	metrics.Items = len(f.Reviews)
	metrics.Fields = 1
	metrics.ElapsedMs = elapsedMs(start)
	return &model.PartialUpdate{Sentiment: out}, metrics, nil
}

func normalizeLabel(label string, score float64) string {
	switch l := strings.ToLower(strings.TrimSpace(label)); l {
	case "positive", "mixed", "negative":
		return l
	}
	switch {
	case score >= 0.25:
		return "positive"
	case score <= -0.25:
		return "negative"
	default:
		return "mixed"
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

// trimList drops blank entries and caps the list at n.
func trimList(in []string, n int) []string {
	out := make([]string, 0, min(len(in), n))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == n {
			break
		}
	}
	return out
}
