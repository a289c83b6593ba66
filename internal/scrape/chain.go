// Package scrape reads entity websites through a chain of scrapers: a local
// fetch first, then Jina Reader, then Firecrawl.
package scrape

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrExcluded means the URL path matches an exclusion rule.
	ErrExcluded = errors.New("scrape: url excluded")
	// ErrNoScraper means every scraper declined the URL.
	ErrNoScraper = errors.New("scrape: no scraper accepts url")
)

// Chain runs scrapers in priority order until one returns a page.
type Chain struct {
	PathMatcher *PathMatcher
	scrapers    []Scraper
}

// NewChain builds a chain. A nil matcher uses the default exclusions.
func NewChain(matcher *PathMatcher, scrapers ...Scraper) *Chain {
	if matcher == nil {
		matcher = NewPathMatcher(nil)
	}
	return &Chain{PathMatcher: matcher, scrapers: scrapers}
}

// Scrape returns the first page any scraper produces for targetURL. When
// all of them fail the error lists each scraper's failure.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	if c.PathMatcher.IsExcluded(targetURL) {
		return nil, eris.Wrap(ErrExcluded, targetURL)
	}

	var failures []error
	for _, s := range c.scrapers {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "scrape: cancelled")
		}
		if !s.Supports(targetURL) {
			continue
		}
		res, err := s.Scrape(ctx, targetURL)
		switch {
		case err != nil:
			zap.L().Debug("scrape: falling through",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.Error(err),
			)
			failures = append(failures, fmt.Errorf("%s: %w", s.Name(), err))
		case res != nil:
			return res, nil
		}
	}

	if len(failures) == 0 {
		return nil, eris.Wrap(ErrNoScraper, targetURL)
	}
	return nil, eris.Wrapf(errors.Join(failures...), "scrape: %s: all scrapers failed", targetURL)
}

// ScrapeAll scrapes urls with at most limit in flight and returns the pages
// that succeeded, in input order.
func (c *Chain) ScrapeAll(ctx context.Context, urls []string, limit int) []Result {
	pages := make([]*Result, len(urls))

	var g errgroup.Group
	g.SetLimit(max(limit, 1))
	for i, u := range urls {
		g.Go(func() error {
			res, err := c.Scrape(ctx, u)
			if err != nil {
				zap.L().Debug("scrape: page skipped", zap.String("url", u), zap.Error(err))
				return nil
			}
			pages[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Result, 0, len(urls))
	for _, p := range pages {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}
