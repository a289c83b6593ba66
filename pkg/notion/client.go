// Package notion reads registry overrides from, and files duplicate reviews
// into, Notion databases.
package notion

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client is the subset of the Notion API the directory uses.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// ClientOption configures the Notion client.
type ClientOption func(*notionClient)

// WithRateLimit overrides the default 3 req/s budget. rps <= 0 disables
// client-side pacing.
func WithRateLimit(rps float64) ClientOption {
	return func(c *notionClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithRetries sets how many times a throttled or 5xx call is retried.
func WithRetries(n int) ClientOption {
	return func(c *notionClient) { c.retries = max(n, 0) }
}

type notionClient struct {
	databases notionapi.DatabaseService
	pages     notionapi.PageService
	limiter   *rate.Limiter
	retries   int
	backoff   time.Duration
}

// NewClient creates a client for the integration token.
func NewClient(token string, opts ...ClientOption) Client {
	inner := notionapi.NewClient(notionapi.Token(token))
	c := &notionClient{
		databases: inner.Database,
		pages:     inner.Page,
		limiter:   rate.NewLimiter(3, 1),
		retries:   3,
		backoff:   time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *notionClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	var resp *notionapi.DatabaseQueryResponse
	err := c.do(ctx, func() error {
		var err error
		resp, err = c.databases.Query(ctx, notionapi.DatabaseID(dbID), req)
		return err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query database %s", dbID)
	}
	return resp, nil
}

func (c *notionClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	var page *notionapi.Page
	err := c.do(ctx, func() error {
		var err error
		page, err = c.pages.Create(ctx, req)
		return err
	})
	if err != nil {
		return nil, eris.Wrap(err, "notion: create page")
	}
	return page, nil
}

// do paces fn through the limiter and retries throttled or 5xx responses
// with doubling backoff.
func (c *notionClient) do(ctx context.Context, fn func() error) error {
	wait := c.backoff
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return eris.Wrap(err, "rate limit")
			}
		}
		err := fn()
		if err == nil || attempt >= c.retries || !retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func retryable(err error) bool {
	var apiErr *notionapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= http.StatusInternalServerError
}
