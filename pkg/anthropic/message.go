package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// MessageRequest is a single-turn or few-turn Messages API call.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64
}

// SystemBlock is one system prompt segment.
type SystemBlock struct {
	Text         string
	CacheControl *CacheControl
}

// CacheControl marks a block for prompt caching. TTL is "5m" or "1h".
type CacheControl struct {
	TTL string
}

// Message is a user or assistant turn.
type Message struct {
	Role    string
	Content string
}

type MessageResponse struct {
	ID           string
	Model        string
	Content      []ContentBlock
	StopReason   string
	StopSequence string
	Usage        TokenUsage
}

type ContentBlock struct {
	Type string
	Text string
}

// Truncated reports whether the model ran out of output tokens.
func (r *MessageResponse) Truncated() bool {
	return r.StopReason == "max_tokens"
}

// Text joins the text blocks of the reply.
func (r *MessageResponse) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// DecodeJSON decodes the first JSON object in the reply into out, skipping
// any prose or code fence around it.
func (r *MessageResponse) DecodeJSON(out any) error {
	text := r.Text()
	start := strings.IndexByte(text, '{')
	if start < 0 {
		if r.Truncated() {
			return eris.New("anthropic: reply truncated before JSON")
		}
		return eris.New("anthropic: no JSON object in reply")
	}
	if err := json.NewDecoder(strings.NewReader(text[start:])).Decode(out); err != nil {
		return eris.Wrapf(err, "anthropic: decode JSON reply (stop reason %q)", r.StopReason)
	}
	return nil
}

// TokenUsage is the token accounting of one call. Pricing lives with the
// caller's cost calculator.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Total counts every billed token, cache traffic included.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}
