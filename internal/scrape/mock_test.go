package scrape

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/directory-cli/pkg/firecrawl"
	"github.com/sells-group/directory-cli/pkg/jina"
)

// mockScraper implements Scraper for testing.
type mockScraper struct {
	name     string
	supports bool
	result   *Result
	err      error
}

func (m *mockScraper) Name() string                                        { return m.name }
func (m *mockScraper) Supports(_ string) bool                              { return m.supports }
func (m *mockScraper) Scrape(_ context.Context, _ string) (*Result, error) { return m.result, m.err }

type mockJina struct {
	mock.Mock
}

func (m *mockJina) Read(ctx context.Context, targetURL string) (*jina.ReadResponse, error) {
	args := m.Called(ctx, targetURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.ReadResponse), args.Error(1)
}

func (m *mockJina) Search(ctx context.Context, query string, opts ...jina.SearchOption) (*jina.SearchResponse, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.SearchResponse), args.Error(1)
}

type mockFirecrawl struct {
	mock.Mock
}

func (m *mockFirecrawl) Scrape(ctx context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*firecrawl.ScrapeResponse), args.Error(1)
}
