package scrape

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/pkg/firecrawl"
)

// Rendering knobs, in milliseconds. Booking widgets and menus often load
// client-side, hence the short settle wait.
const (
	firecrawlWaitMs    = 1500
	firecrawlTimeoutMs = 45000
)

var firecrawlExcludeTags = []string{"nav", "footer", "form"}

// FirecrawlAdapter is the paid last resort of the chain.
type FirecrawlAdapter struct {
	client firecrawl.Client
}

func NewFirecrawlAdapter(client firecrawl.Client) *FirecrawlAdapter {
	return &FirecrawlAdapter{client: client}
}

func (f *FirecrawlAdapter) Name() string        { return "firecrawl" }
func (f *FirecrawlAdapter) Supports(string) bool { return true }

func (f *FirecrawlAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:             targetURL,
		Formats:         []string{"markdown"},
		OnlyMainContent: true,
		ExcludeTags:     firecrawlExcludeTags,
		WaitFor:         firecrawlWaitMs,
		Timeout:         firecrawlTimeoutMs,
	})
	if err != nil {
		return nil, err
	}
	if resp.Warning != "" {
		zap.L().Debug("scrape: firecrawl warning", zap.String("url", targetURL), zap.String("warning", resp.Warning))
	}

	d := resp.Data
	if strings.TrimSpace(d.Markdown) == "" {
		return nil, eris.Errorf("firecrawl: %s rendered no content", targetURL)
	}
	page := Page{
		URL:        d.URL,
		Title:      d.Title,
		Markdown:   d.Markdown,
		Image:      d.Metadata.OGImage,
		StatusCode: d.Metadata.StatusCode,
	}
	if page.URL == "" {
		page.URL = targetURL
	}
	if page.Title == "" {
		page.Title = d.Metadata.Title
	}
	return &Result{Page: page, Source: f.Name()}, nil
}
