package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/directory-cli/internal/model"
)

const enhanceSystem = `You write listing copy for a local directory. Use only facts present in the
material you are given; never invent prices, awards or opening dates.
Reply with a single JSON object and nothing else:
{"description": "<2-3 paragraphs, neutral tone>", "summary": "<one sentence under 160 characters>", "highlights": [<3-6 short phrases>], "amenities": [<amenities or facilities explicitly mentioned>]}`

const maxPromptContent = 12000

// Enhancement generates description, summary, highlights and amenities
// from everything earlier steps collected.
type Enhancement struct {
	ai *aiCaller
}

type enhanceReply struct {
	Description string   `json:"description"`
	Summary     string   `json:"summary"`
	Highlights  []string `json:"highlights"`
	Amenities   []string `json:"amenities"`
}

// Applicable implements Conditional.
func (e *Enhancement) Applicable(jc model.JobContext) bool {
	return e.ai.configured() && jc.Entity.Fields.Name != ""
}

// Execute implements Adapter.
func (e *Enhancement) Execute(ctx context.Context, jc model.JobContext) (*model.PartialUpdate, model.StepMetrics, error) {
	start := time.Now()

	var reply enhanceReply
	metrics, err := e.ai.call(ctx, jc.Step, enhanceSystem, enhancePrompt(jc), &reply)
	if err != nil {
		return nil, metrics, err
	}

	u := &model.PartialUpdate{}
	if d := strings.TrimSpace(reply.Description); d != "" {
		u.Description = model.Ptr(d)
	}
	if s := strings.TrimSpace(reply.Summary); s != "" {
		u.Summary = model.Ptr(s)
	}
	if h := trimList(reply.Highlights, 6); len(h) > 0 {
		u.Highlights = h
	}
	if a := trimList(reply.Amenities, 20); len(a) > 0 {
		u.Amenities = a
	}

	metrics.Fields = len(u.Keys())
	metrics.ElapsedMs = elapsedMs(start)
	return u, metrics, nil
}

func enhancePrompt(jc model.JobContext) string {
	f := jc.Entity.Fields
	var b strings.Builder
	fmt.Fprintf(&b, "Type: %s\nName: %s\n", jc.Entity.Type, f.Name)
	if f.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", f.Address)
	}
	if f.PriceLevel != "" {
		fmt.Fprintf(&b, "Price level: %s\n", f.PriceLevel)
	}
	if f.ReviewCount > 0 {
		fmt.Fprintf(&b, "Rating: %.1f from %d reviews\n", f.Rating, f.ReviewCount)
	}
	if len(f.OpeningHours) > 0 {
		fmt.Fprintf(&b, "Hours:\n%s\n", strings.Join(f.OpeningHours, "\n"))
	}
	if s := f.Sentiment; s != nil {
		fmt.Fprintf(&b, "Review sentiment: %s; praised for %s; criticised for %s\n",
			s.Label, strings.Join(s.Positives, ", "), strings.Join(s.Negatives, ", "))
	}

	budget := maxPromptContent
	if r := jc.Artifact(model.ArtifactResearch); r != "" {
		r = truncate(r, budget/3)
		budget -= len(r)
		fmt.Fprintf(&b, "\nResearch notes:\n%s\n", r)
	}
	if w := jc.Artifact(model.ArtifactWebContent); w != "" {
		fmt.Fprintf(&b, "\nWebsite content:\n%s\n", truncate(w, budget))
	}
	return b.String()
}
