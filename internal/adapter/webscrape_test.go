package adapter

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/directory-cli/internal/cost"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/scrape"
)

func newTestChain(pages map[string]scrape.Page) *scrape.Chain {
	return scrape.NewChain(nil, &pageScraper{pages: pages})
}

func TestWebScrape_CombinesPages(t *testing.T) {
	t.Parallel()
	chain := newTestChain(map[string]scrape.Page{
		"https://bluedoorbistro.com":       {Markdown: "Welcome to Blue Door Bistro.", Image: "https://bluedoorbistro.com/og.jpg"},
		"https://bluedoorbistro.com/menu":  {Markdown: "Roast chicken, wood-fired bread."},
		"https://bluedoorbistro.com/about": {Markdown: "   "},
	})

	w := &WebScrape{Chain: chain}
	u, m, err := w.Execute(context.Background(), restaurantJob())
	require.NoError(t, err)

	content := u.Artifacts[model.ArtifactWebContent]
	assert.True(t, strings.HasPrefix(content, "## https://bluedoorbistro.com\n\nWelcome"))
	assert.Contains(t, content, "## https://bluedoorbistro.com/menu\n\nRoast chicken")
	assert.NotContains(t, content, "/about")
	assert.Equal(t, "https://bluedoorbistro.com", u.Artifacts[model.ArtifactWebSource])
	assert.Equal(t, "https://bluedoorbistro.com/og.jpg", u.Artifacts[model.ArtifactWebImage])
	assert.Equal(t, 3, m.Items)
	assert.Equal(t, "fake", m.Source)
}

func TestWebScrape_PricesMeteredSources(t *testing.T) {
	t.Parallel()
	calc := cost.NewCalculator(cost.DefaultRates())
	pages := map[string]scrape.Page{
		"https://bluedoorbistro.com":      {Markdown: "Welcome to Blue Door Bistro."},
		"https://bluedoorbistro.com/menu": {Markdown: "Roast chicken, wood-fired bread."},
	}

	reader := &WebScrape{Chain: scrape.NewChain(nil, &pageScraper{pages: pages, source: "jina", tokens: 250_000}), Cost: calc}
	_, m, err := reader.Execute(context.Background(), restaurantJob())
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), m.Tokens)
	assert.InDelta(t, calc.Jina(500_000), m.CostUSD, 1e-12)

	fc := &WebScrape{Chain: scrape.NewChain(nil, &pageScraper{pages: pages, source: "firecrawl"}), Cost: calc}
	_, m, err = fc.Execute(context.Background(), restaurantJob())
	require.NoError(t, err)
	assert.Zero(t, m.Tokens)
	assert.InDelta(t, 2*calc.FirecrawlPage(), m.CostUSD, 1e-12)
}

func TestWebScrape_NoPages(t *testing.T) {
	t.Parallel()
	w := &WebScrape{Chain: newTestChain(nil)}
	_, _, err := w.Execute(context.Background(), restaurantJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pages scraped")
}

func TestWebScrape_Applicable(t *testing.T) {
	t.Parallel()
	jc := restaurantJob()

	assert.True(t, (&WebScrape{Chain: newTestChain(nil)}).Applicable(jc))
	assert.False(t, (&WebScrape{}).Applicable(jc))

	jc.Entity.Fields.Website = ""
	assert.False(t, (&WebScrape{Chain: newTestChain(nil)}).Applicable(jc))
}

func TestWebScrape_NoWebsiteWithoutSearch(t *testing.T) {
	t.Parallel()
	jc := restaurantJob()
	jc.Entity.Fields.Website = ""

	_, _, err := (&WebScrape{Chain: newTestChain(nil)}).Execute(context.Background(), jc)
	se, ok := model.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, model.KindInvalidInput, se.Kind)
}

func TestWebScrape_MaxPages(t *testing.T) {
	t.Parallel()
	chain := newTestChain(map[string]scrape.Page{
		"https://bluedoorbistro.com":      {Markdown: "home"},
		"https://bluedoorbistro.com/menu": {Markdown: "menu"},
	})
	u, m, err := (&WebScrape{Chain: chain, MaxPages: 1}).Execute(context.Background(), restaurantJob())
	require.NoError(t, err)
	assert.Equal(t, 1, m.Items)
	assert.NotContains(t, u.Artifacts[model.ArtifactWebContent], "menu")
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abc", 2))
	// "é" is two bytes; cutting inside it backs off to the rune start.
	assert.Equal(t, "a", truncate("aé", 2))
}
