package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/directory-cli/internal/cost"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/pkg/perplexity"
)

const maxResearch = 8000

var researchFocus = map[model.EntityType]string{
	model.EntityHotel:      "room types, notable amenities, dining on site, parking and check-in policies, recent renovations",
	model.EntityAttraction: "what visitors see or do, ticket prices, typical visit length, accessibility, seasonal hours",
	model.EntitySchool:     "grades served, curriculum or programs, enrollment size, tuition if private, notable facilities",
}

// WebResearch asks Perplexity for facts a listing page rarely states.
type WebResearch struct {
	Perplexity perplexity.Client
	Cost       *cost.Calculator
}

// Applicable implements Conditional.
func (w *WebResearch) Applicable(jc model.JobContext) bool {
	return w.Perplexity != nil && jc.Entity.Fields.Name != ""
}

// Execute implements Adapter.
func (w *WebResearch) Execute(ctx context.Context, jc model.JobContext) (*model.PartialUpdate, model.StepMetrics, error) {
	start := time.Now()
	metrics := model.StepMetrics{Source: "perplexity"}
	if w.Perplexity == nil {
		return nil, metrics, model.Fatal(eris.New("web_research: perplexity client not configured"))
	}

	f := jc.Entity.Fields
	focus := researchFocus[jc.Entity.Type]
	if focus == "" {
		focus = "what it offers, hours, prices and anything visitors should know"
	}
	prompt := fmt.Sprintf("Research the %s %q located at %s. Cover %s. Answer in concise factual bullet points and say so when something is unknown.",
		strings.ReplaceAll(string(jc.Entity.Type), "_", " "), f.Name, firstNonEmpty(f.Address, f.Locality, "an unknown address"), focus)

	resp, err := w.Perplexity.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: "You are a careful local-listings researcher. Cite only verifiable facts."},
			{Role: "user", Content: prompt},
		},
		SearchRecencyFilter: "year",
	})
	metrics.CostUSD = w.Cost.PerplexityQuery()
	if err != nil {
		return nil, metrics, err
	}

	content := strings.TrimSpace(resp.Content())
	if content == "" {
		return nil, metrics, model.Transient(eris.New("web_research: empty answer"))
	}
	sources := resp.Sources()
	if len(sources) > 0 {
		content += "\n\nSources:\n" + strings.Join(sources, "\n")
	}

	metrics.Tokens = int64(resp.Usage.Total())
	metrics.Items = len(sources)
	metrics.Fields = 1
	metrics.ElapsedMs = elapsedMs(start)
	return &model.PartialUpdate{
		Artifacts: map[string]string{model.ArtifactResearch: truncate(content, maxResearch)},
	}, metrics, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
