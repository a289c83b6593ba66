// Package firecrawl calls the Firecrawl scrape endpoint, the rendering
// fallback for sites the reader cannot handle.
package firecrawl

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
	defaultBaseURL = "https://api.firecrawl.dev/v1"
	// maxResponseBytes bounds a rendered page plus its metadata.
	maxResponseBytes = 8 << 20
)

// Client renders one page.
type Client interface {
	Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error)
}

// ScrapeRequest is the POST /scrape body. WaitFor and Timeout are in
// milliseconds.
type ScrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats,omitempty"`
	OnlyMainContent bool     `json:"onlyMainContent,omitempty"`
	ExcludeTags     []string `json:"excludeTags,omitempty"`
	WaitFor         int      `json:"waitFor,omitempty"`
	Timeout         int      `json:"timeout,omitempty"`
}

type ScrapeResponse struct {
	Success bool     `json:"success"`
	Data    PageData `json:"data"`
	Warning string   `json:"warning,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type PageData struct {
	URL      string       `json:"url"`
	Markdown string       `json:"markdown"`
	Title    string       `json:"title"`
	Links    []string     `json:"links,omitempty"`
	Metadata PageMetadata `json:"metadata"`
}

// PageMetadata is what Firecrawl lifted from the page head.
type PageMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	OGImage     string `json:"ogImage"`
	SourceURL   string `json:"sourceURL"`
	StatusCode  int    `json:"statusCode"`
}

// APIError is a non-2xx answer. Message is the API's error text when the
// body carried one, otherwise the raw body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("firecrawl: status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus lets resilience.Classify map the failure.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

type Option func(*httpClient)

func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Firecrawl client. Rendering is slow, so the default
// HTTP timeout is a minute.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Scrape renders req.URL. Markdown is requested when no format is given.
func (c *httpClient) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error) {
	if len(req.Formats) == 0 {
		req.Formats = []string{"markdown"}
	}
	var out ScrapeResponse
	if err := c.post(ctx, "/scrape", req, &out); err != nil {
		return nil, eris.Wrapf(err, "firecrawl: scrape %s", req.URL)
	}
	if !out.Success {
		reason := out.Error
		if reason == "" {
			reason = "unsuccessful"
		}
		return nil, eris.Errorf("firecrawl: scrape %s: %s", req.URL, reason)
	}
	return &out, nil
}

func (c *httpClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return eris.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return eris.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

// errorMessage pulls the "error" field out of a failure body.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
