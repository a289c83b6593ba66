// Package anthropic is a narrow Messages API client for the AI extraction
// steps.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Client sends Messages API requests.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic: status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus lets resilience.Classify map the failure.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option adjusts the underlying SDK client.
type Option func(*[]option.RequestOption)

// WithBaseURL targets another API host, e.g. a test server.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithBaseURL(url))
	}
}

type sdkClient struct {
	client sdk.Client
}

// NewClient builds an SDK-backed Client. The SDK's own retries are off so
// the step retry policy is the only one in play.
func NewClient(apiKey string, opts ...Option) Client {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &sdkClient{client: sdk.NewClient(reqOpts...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  messageParams(req.Messages),
	}
	if len(req.System) > 0 {
		params.System = systemParams(req.System)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var sdkErr *sdk.Error
		if errors.As(err, &sdkErr) {
			err = &APIError{StatusCode: sdkErr.StatusCode, Message: sdkErr.Error()}
		}
		return nil, eris.Wrap(err, "anthropic: create message")
	}
	return responseOf(msg), nil
}

func messageParams(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, sdk.NewAssistantMessage(block))
			continue
		}
		out = append(out, sdk.NewUserMessage(block))
	}
	return out
}

func systemParams(blocks []SystemBlock) []sdk.TextBlockParam {
	out := make([]sdk.TextBlockParam, 0, len(blocks))
	for _, b := range blocks {
		p := sdk.TextBlockParam{Text: b.Text}
		if b.CacheControl != nil {
			p.CacheControl = sdk.NewCacheControlEphemeralParam()
			if b.CacheControl.TTL != "" {
				p.CacheControl.TTL = sdk.CacheControlEphemeralTTL(b.CacheControl.TTL)
			}
		}
		out = append(out, p)
	}
	return out
}

func responseOf(msg *sdk.Message) *MessageResponse {
	resp := &MessageResponse{
		ID:           msg.ID,
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		StopSequence: msg.StopSequence,
		Content:      make([]ContentBlock, 0, len(msg.Content)),
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
	for _, b := range msg.Content {
		resp.Content = append(resp.Content, ContentBlock{Type: b.Type, Text: b.Text})
	}
	return resp
}
