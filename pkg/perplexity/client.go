// Package perplexity calls the Perplexity chat completions API, which answers
// with live web search and citations.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL   = "https://api.perplexity.ai"
	defaultModel     = "sonar-pro"
	maxResponseBytes = 4 << 20
)

// Client performs chat completions.
type Client interface {
	ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// ChatCompletionRequest is the POST /chat/completions body. An empty Model
// takes the client default.
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	// SearchDomainFilter allows listed domains; a "-" prefix excludes one.
	SearchDomainFilter []string `json:"search_domain_filter,omitempty"`
	// SearchRecencyFilter is one of day, week, month or year.
	SearchRecencyFilter string `json:"search_recency_filter,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the completion plus the pages it drew on. Older
// models fill Citations, newer ones SearchResults.
type ChatCompletionResponse struct {
	ID            string         `json:"id"`
	Model         string         `json:"model"`
	Choices       []Choice       `json:"choices"`
	Citations     []string       `json:"citations,omitempty"`
	SearchResults []SearchResult `json:"search_results,omitempty"`
	Usage         Usage          `json:"usage"`
}

type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Date  string `json:"date,omitempty"`
}

// Content is the first choice's text, or "".
func (r *ChatCompletionResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Sources lists every cited URL once, citations first.
func (r *ChatCompletionResponse) Sources() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]bool, len(r.Citations)+len(r.SearchResults))
	var out []string
	add := func(u string) {
		if u = strings.TrimSpace(u); u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	for _, c := range r.Citations {
		add(c)
	}
	for _, s := range r.SearchResults {
		add(s.URL)
	}
	return out
}

type Choice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total is prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// APIError is a non-2xx answer. Message is taken from the error envelope
// when present, else the raw body.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("perplexity: status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus lets resilience.Classify map the failure.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

func apiError(code int, body []byte) *APIError {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		return &APIError{StatusCode: code, Type: env.Error.Type, Message: env.Error.Message}
	}
	return &APIError{StatusCode: code, Message: strings.TrimSpace(string(body))}
}

// Option configures the client.
type Option func(*httpClient)

func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithModel sets the model used when a request names none.
func WithModel(m string) Option {
	return func(c *httpClient) {
		if m != "" {
			c.model = m
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewClient returns a Client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http:    &http.Client{Timeout: 90 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: encode request")
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: build request")
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: chat completion")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, eris.Wrap(apiError(resp.StatusCode, body), "perplexity: chat completion")
	}

	var out ChatCompletionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "perplexity: decode response")
	}
	return &out, nil
}
