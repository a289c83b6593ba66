// Package jina wraps the Jina AI Reader (r.jina.ai) and Search (s.jina.ai)
// endpoints used for website reads and venue discovery.
package jina

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Client reads pages and searches the web through Jina.
type Client interface {
	// Read renders targetURL as markdown.
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// ReadResponse is the Reader envelope.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

type ReadData struct {
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Content string    `json:"content"`
	Usage   ReadUsage `json:"usage"`
}

type ReadUsage struct {
	Tokens int `json:"tokens"`
}

// SearchResponse is the Search envelope. An empty Data means no hits.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// SearchOption narrows a search.
type SearchOption func(url.Values)

// WithSiteFilter restricts results to one domain.
func WithSiteFilter(domain string) SearchOption {
	return func(q url.Values) { q.Set("site", domain) }
}

// APIError carries a non-success Jina response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jina: unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus lets resilience.Classify map the failure.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL points Read at another host.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.readBase = u }
}

// WithSearchBaseURL points Search at another host.
func WithSearchBaseURL(u string) Option {
	return func(c *httpClient) { c.searchBase = u }
}

// WithHTTPClient replaces the transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRetry sets attempts per call and the first backoff, which doubles.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *httpClient) {
		c.attempts = max(attempts, 1)
		c.backoff = backoff
	}
}

type httpClient struct {
	apiKey     string
	readBase   string
	searchBase string
	http       *http.Client
	attempts   int
	backoff    time.Duration
}

// NewClient returns a Client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:     apiKey,
		readBase:   "https://r.jina.ai",
		searchBase: "https://s.jina.ai",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		attempts: 3,
		backoff:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	var out ReadResponse
	status, err := c.getJSON(ctx, c.readBase+"/"+targetURL, map[string]string{"X-Return-Format": "markdown"}, &out)
	if err != nil {
		return nil, eris.Wrapf(err, "jina: read %s", targetURL)
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("jina: read %s: status %d", targetURL, status)
	}
	return &out, nil
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	reqURL := c.searchBase + "/" + url.QueryEscape(query)
	q := url.Values{}
	for _, opt := range opts {
		opt(q)
	}
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	var out SearchResponse
	status, err := c.getJSON(ctx, reqURL, nil, &out)
	if err != nil {
		return nil, eris.Wrapf(err, "jina: search %q", query)
	}
	// 422 is Jina's answer for a query with no results.
	if status == http.StatusUnprocessableEntity {
		return &SearchResponse{Code: status}, nil
	}
	return &out, nil
}

// getJSON GETs u, retrying network errors and 429/5xx with doubling backoff,
// and decodes a 200 body into out. A 422 is returned without decoding.
func (c *httpClient) getJSON(ctx context.Context, u string, headers map[string]string, out any) (int, error) {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		status, body, err := c.get(ctx, u, headers)
		if err == nil {
			switch {
			case status == http.StatusOK:
				if err := json.Unmarshal(body, out); err != nil {
					return status, eris.Wrap(err, "decode response")
				}
				return status, nil
			case status == http.StatusUnprocessableEntity:
				return status, nil
			}
			err = &APIError{StatusCode: status, Body: string(body)}
			if !retryableStatus(status) {
				return status, err
			}
		}
		if attempt >= c.attempts {
			return status, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (c *httpClient) get(ctx context.Context, u string, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, eris.Wrap(err, "read body")
	}
	return resp.StatusCode, body, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
