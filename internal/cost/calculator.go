// Package cost prices provider usage in USD for step metrics. A nil
// *Calculator prices everything at zero.
package cost

// Rates is the pricing table, loadable from the pricing config block.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Google     GoogleRate           `yaml:"google" mapstructure:"google"`
	Jina       JinaRate             `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
	Firecrawl  FirecrawlRate        `yaml:"firecrawl" mapstructure:"firecrawl"`
}

// ModelRate is USD per million tokens. Cache writes and reads are billed
// as multiples of the input rate.
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// GoogleRate is USD per Places API request.
type GoogleRate struct {
	TextSearch float64 `yaml:"text_search" mapstructure:"text_search"`
	Details    float64 `yaml:"details" mapstructure:"details"`
	Reviews    float64 `yaml:"reviews" mapstructure:"reviews"`
	Photo      float64 `yaml:"photo" mapstructure:"photo"`
}

type JinaRate struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

type PerplexityRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// FirecrawlRate is a flat plan; a page costs its share of the credits.
type FirecrawlRate struct {
	PlanMonthly     float64 `yaml:"plan_monthly" mapstructure:"plan_monthly"`
	CreditsIncluded float64 `yaml:"credits_included" mapstructure:"credits_included"`
}

// GoogleCall names a billed Places API request.
type GoogleCall int

const (
	GoogleTextSearch GoogleCall = iota
	GoogleDetails
	GoogleReviews
	GooglePhoto
)

func (r GoogleRate) of(call GoogleCall) float64 {
	switch call {
	case GoogleTextSearch:
		return r.TextSearch
	case GoogleDetails:
		return r.Details
	case GoogleReviews:
		return r.Reviews
	case GooglePhoto:
		return r.Photo
	}
	return 0
}

// Tokens is the billed token breakdown of one model call.
type Tokens struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

type Calculator struct {
	rates Rates
}

func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

func perMillion(n int64, usd float64) float64 {
	return float64(n) / 1e6 * usd
}

// Claude prices a call to model. Unknown models cost nothing.
func (c *Calculator) Claude(model string, t Tokens) float64 {
	if c == nil {
		return 0
	}
	r, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return perMillion(t.Input, r.Input) +
		perMillion(t.Output, r.Output) +
		perMillion(t.CacheWrite, r.Input*r.CacheWriteMul) +
		perMillion(t.CacheRead, r.Input*r.CacheReadMul)
}

// Google prices n requests of one kind.
func (c *Calculator) Google(call GoogleCall, n int) float64 {
	if c == nil {
		return 0
	}
	return c.rates.Google.of(call) * float64(n)
}

// Jina prices reader tokens.
func (c *Calculator) Jina(tokens int64) float64 {
	if c == nil {
		return 0
	}
	return perMillion(tokens, c.rates.Jina.PerMTok)
}

func (c *Calculator) PerplexityQuery() float64 {
	if c == nil {
		return 0
	}
	return c.rates.Perplexity.PerQuery
}

// FirecrawlPage is the plan cost amortised over its included credits.
func (c *Calculator) FirecrawlPage() float64 {
	if c == nil || c.rates.Firecrawl.CreditsIncluded <= 0 {
		return 0
	}
	return c.rates.Firecrawl.PlanMonthly / c.rates.Firecrawl.CreditsIncluded
}

// DefaultRates is list pricing as of early 2026.
func DefaultRates() Rates {
	cached := func(in, out float64) ModelRate {
		return ModelRate{Input: in, Output: out, CacheWriteMul: 1.25, CacheReadMul: 0.1}
	}
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  cached(0.80, 4.00),
			"claude-sonnet-4-5-20250929": cached(3.00, 15.00),
		},
		Google:     GoogleRate{TextSearch: 0.032, Details: 0.017, Reviews: 0.02, Photo: 0.007},
		Jina:       JinaRate{PerMTok: 0.02},
		Perplexity: PerplexityRate{PerQuery: 0.005},
		Firecrawl:  FirecrawlRate{PlanMonthly: 19.00, CreditsIncluded: 3000},
	}
}
