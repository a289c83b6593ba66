package scrape

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/resilience"
	"github.com/sells-group/directory-cli/pkg/jina"
)

// ErrReaderUnusable marks a reader response the chain should retry with the
// next scraper.
var ErrReaderUnusable = eris.New("jina: reader content unusable")

const (
	minReaderContent = 100
	// Interstitial wording only counts against content shorter than this.
	interstitialWindow = 1000
)

// Reader markdown loses the HTML that DetectBlock keys on, so these
// phrases cover what survives the conversion.
var interstitialPhrases = []string{
	"just a moment",
	"attention required",
	"enable javascript",
	"please enable cookies",
	"403 forbidden",
}

// JinaAdapter serves pages through the Jina Reader behind its own breaker.
type JinaAdapter struct {
	client  jina.Client
	breaker *resilience.CircuitBreaker
}

// NewJinaAdapter wraps client. Three straight failures, unusable content
// included, park the reader for a minute.
func NewJinaAdapter(client jina.Client) *JinaAdapter {
	return &JinaAdapter{
		client: client,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
			Trips:            func(error) bool { return true },
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("scrape: jina reader circuit",
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		}),
	}
}

func (j *JinaAdapter) Name() string { return "jina" }

// Supports is false while the reader circuit is open.
func (j *JinaAdapter) Supports(string) bool {
	return j.breaker.State() != resilience.CircuitOpen
}

func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := resilience.ExecuteVal(ctx, j.breaker, func(ctx context.Context) (*jina.ReadResponse, error) {
		resp, err := j.client.Read(ctx, targetURL)
		if err != nil {
			return nil, err
		}
		if reason := unusableReason(resp); reason != "" {
			return nil, eris.Wrap(ErrReaderUnusable, reason)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	page := Page{
		URL:        resp.Data.URL,
		Title:      resp.Data.Title,
		Markdown:   resp.Data.Content,
		StatusCode: resp.Code,
	}
	if page.URL == "" {
		page.URL = targetURL
	}
	return &Result{Page: page, Source: j.Name(), Tokens: int64(resp.Data.Usage.Tokens)}, nil
}

// unusableReason says why a reader response cannot stand in for the page,
// or returns "" when it can.
func unusableReason(resp *jina.ReadResponse) string {
	if resp == nil {
		return "empty response"
	}
	if resp.Code != 0 && resp.Code != http.StatusOK {
		return fmt.Sprintf("reader status %d", resp.Code)
	}

	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < minReaderContent {
		return "thin content"
	}
	if len(content) >= interstitialWindow {
		return ""
	}

	lower := strings.ToLower(content)
	if bt := matchMarkers([]byte(lower)); bt != BlockNone {
		return string(bt) + " interstitial"
	}
	for _, p := range interstitialPhrases {
		if strings.Contains(lower, p) {
			return "interstitial: " + p
		}
	}
	return ""
}
