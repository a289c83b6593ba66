package scrape

import (
	"context"
)

// Page is one fetched web page rendered to markdown or plain text.
type Page struct {
	URL        string
	Title      string
	Markdown   string
	Image      string // og:image when the source exposes it
	StatusCode int
}

// Result is a page and the scraper that produced it. Tokens is the
// reader's metered usage, zero for unmetered sources.
type Result struct {
	Page   Page
	Source string
	Tokens int64
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
