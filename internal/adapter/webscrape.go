package adapter

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/cost"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/scrape"
	"github.com/sells-group/directory-cli/pkg/jina"
)

const (
	defaultScrapePages = 4
	maxWebContent      = 24000
	scrapeConcurrency  = 3
)

// WebScrape reads the entity's website (homepage plus type-specific
// subpages) and stores the combined text for the AI steps. Entities without
// a website get one discovered through search when a search client is set.
type WebScrape struct {
	Chain    *scrape.Chain
	Search   jina.Client
	Cost     *cost.Calculator
	MaxPages int
}

// Applicable implements Conditional.
func (w *WebScrape) Applicable(jc model.JobContext) bool {
	if w.Chain == nil {
		return false
	}
	return jc.Entity.Fields.Website != "" || (w.Search != nil && jc.Entity.Fields.Name != "")
}

// Execute implements Adapter.
func (w *WebScrape) Execute(ctx context.Context, jc model.JobContext) (*model.PartialUpdate, model.StepMetrics, error) {
	start := time.Now()
	metrics := model.StepMetrics{}

	site := jc.Entity.Fields.Website
	if site == "" {
		found, err := scrape.DiscoverWebsite(ctx, w.Search, jc.Entity.Fields.Name, jc.Entity.Fields.Locality)
		if err != nil {
			if errors.Is(err, scrape.ErrNoWebsite) {
				return nil, metrics, model.InvalidInput("web_scrape: no website for %q", jc.Entity.Fields.Name)
			}
			return nil, metrics, err
		}
		site = found
	}

	urls := scrape.CandidateURLs(site, jc.Entity.Type)
	if len(urls) == 0 {
		return nil, metrics, model.InvalidInput("web_scrape: invalid website %q", site)
	}
	limit := w.MaxPages
	if limit <= 0 {
		limit = defaultScrapePages
	}
	if len(urls) > limit {
		urls = urls[:limit]
	}

	results := w.Chain.ScrapeAll(ctx, urls, scrapeConcurrency)
	if err := ctx.Err(); err != nil {
		return nil, metrics, err
	}
	if len(results) == 0 {
		return nil, metrics, eris.Errorf("web_scrape: no pages scraped from %s", site)
	}

	var (
		b       strings.Builder
		sources []string
		image   string
	)
	for _, r := range results {
		text := strings.TrimSpace(r.Page.Markdown)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(r.Page.URL)
		b.WriteString("\n\n")
		b.WriteString(text)
		switch r.Source {
		case "firecrawl":
			metrics.CostUSD += w.Cost.FirecrawlPage()
		case "jina":
			metrics.CostUSD += w.Cost.Jina(r.Tokens)
			metrics.Tokens += r.Tokens
		}
		if !slices.Contains(sources, r.Source) {
			sources = append(sources, r.Source)
		}
		if image == "" && r.Page.Image != "" {
			image = r.Page.Image
		}
	}
	content := truncate(b.String(), maxWebContent)
	if content == "" {
		return nil, metrics, eris.Errorf("web_scrape: pages from %s had no text", site)
	}

	artifacts := map[string]string{
		model.ArtifactWebContent: content,
		model.ArtifactWebSource:  site,
	}
	if image != "" {
		artifacts[model.ArtifactWebImage] = image
	}

	metrics.Items = len(results)
	metrics.Source = strings.Join(sources, ",")
	metrics.Fields = len(artifacts)
	metrics.ElapsedMs = elapsedMs(start)

	zap.L().Debug("web_scrape: pages collected",
		zap.String("entity_id", jc.Entity.ID),
		zap.String("website", site),
		zap.Int("pages", len(results)),
		zap.Int("chars", len(content)),
	)
	return &model.PartialUpdate{Artifacts: artifacts}, metrics, nil
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
