package adapter

import (
	"context"
	"io"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/directory-cli/internal/fetcher"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/scrape"
	"github.com/sells-group/directory-cli/pkg/anthropic"
	"github.com/sells-group/directory-cli/pkg/perplexity"
)

type mockPerplexity struct {
	mock.Mock
}

func (m *mockPerplexity) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*perplexity.ChatCompletionResponse), args.Error(1)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) (*fetcher.Object, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fetcher.Object), args.Error(1)
}

// memStore records uploads in memory.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (s *memStore) Put(_ context.Context, key string, r io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = b
	return "https://media.example.com/" + key, nil
}

// pageScraper serves fixed pages by URL.
// pageScraper serves canned pages; source and tokens default to an
// unmetered "fake" scraper.
type pageScraper struct {
	pages  map[string]scrape.Page
	source string
	tokens int64
}

func (p *pageScraper) Name() string {
	if p.source == "" {
		return "fake"
	}
	return p.source
}
func (p *pageScraper) Supports(_ string) bool { return true }
func (p *pageScraper) Scrape(_ context.Context, u string) (*scrape.Result, error) {
	page, ok := p.pages[u]
	if !ok {
		return nil, io.EOF
	}
	page.URL = u
	return &scrape.Result{Page: page, Source: p.Name(), Tokens: p.tokens}, nil
}

func textReply(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Model:   DefaultAIModel,
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}
}

func restaurantJob() model.JobContext {
	return model.JobContext{
		Job: model.Job{
			EntityID:        "ent-1",
			EntityType:      model.EntityRestaurant,
			ExternalPlaceID: "ChIJbluedoor",
			SearchQuery:     "Blue Door Bistro Portland",
		},
		Entity: model.Entity{
			ID:              "ent-1",
			Type:            model.EntityRestaurant,
			ExternalPlaceID: "ChIJbluedoor",
			SearchQuery:     "Blue Door Bistro Portland",
			Fields: model.Fields{
				Name:     "Blue Door Bistro",
				Address:  "120 NW 23rd Ave, Portland, OR 97210, USA",
				Locality: "Portland",
				Website:  "https://bluedoorbistro.com",
			},
		},
	}
}
