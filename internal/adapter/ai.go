package adapter

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/cost"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/pkg/anthropic"
)

// DefaultAIModel is used when no model is configured.
const DefaultAIModel = "claude-haiku-4-5-20251001"

const aiMaxTokens = 1024

var aiTemperature = 0.2

// aiCaller runs one JSON-returning prompt against Claude and prices it.
type aiCaller struct {
	client anthropic.Client
	model  string
	calc   *cost.Calculator
}

func (a *aiCaller) configured() bool {
	return a != nil && a.client != nil
}

// call sends system+user and decodes the JSON reply into out. A reply that
// is not valid JSON is transient: the model usually complies on retry.
func (a *aiCaller) call(ctx context.Context, step, system, user string, out any) (model.StepMetrics, error) {
	metrics := model.StepMetrics{Source: "anthropic"}
	if !a.configured() {
		return metrics, model.Fatal(eris.Errorf("%s: anthropic client not configured", step))
	}
	m := a.model
	if m == "" {
		m = DefaultAIModel
	}

	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       m,
		MaxTokens:   aiMaxTokens,
		System:      anthropic.CachedSystem(system),
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &aiTemperature,
	})
	if err != nil {
		return metrics, err
	}

	u := resp.Usage
	metrics.Tokens = u.Total()
	metrics.CostUSD = a.calc.Claude(m, cost.Tokens{
		Input:      u.InputTokens,
		Output:     u.OutputTokens,
		CacheWrite: u.CacheCreationInputTokens,
		CacheRead:  u.CacheReadInputTokens,
	})
	zap.L().Debug("adapter: claude usage",
		zap.String("step", step),
		zap.String("model", m),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("cost_usd", metrics.CostUSD),
		zap.String("stop_reason", resp.StopReason),
	)

	if err := resp.DecodeJSON(out); err != nil {
		return metrics, model.Transient(eris.Wrapf(err, "%s: model reply", step))
	}
	return metrics, nil
}
