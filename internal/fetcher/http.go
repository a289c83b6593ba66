package fetcher

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultHostRate = 20
	maxFetchBackoff = 30 * time.Second
)

// Photo CDNs throttle hard; start them slower than unknown hosts.
var defaultHostRates = map[string]float64{
	"lh3.googleusercontent.com": 10,
	"lh5.googleusercontent.com": 10,
	"places.googleapis.com":     5,
}

// HTTPOptions configures the HTTP fetcher. Zero values take defaults.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// MaxRetries counts attempts per Fetch, not retries after the first.
	MaxRetries int
	// MaxBytes caps a single object; default 10 MiB.
	MaxBytes int64
	// HostRates overrides the starting requests/second for a host.
	HostRates map[string]float64
}

// AdaptiveLimiter paces one host. Successes raise the rate by 20% up to
// twice the start; a 429 halves it down to a quarter of the start.
type AdaptiveLimiter struct {
	limiter *rate.Limiter
	start   rate.Limit

	mu      sync.Mutex
	current rate.Limit
}

// NewAdaptiveLimiter starts at r events/second with the given burst.
func NewAdaptiveLimiter(r rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{limiter: rate.NewLimiter(r, burst), start: r, current: r}
}

// Wait blocks until the next event is allowed.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

func (a *AdaptiveLimiter) OnSuccess() {
	a.set(func(r rate.Limit) rate.Limit { return min(r*1.2, a.start*2) })
}

func (a *AdaptiveLimiter) OnRateLimit() {
	r := a.set(func(r rate.Limit) rate.Limit { return max(r/2, a.start/4) })
	zap.L().Warn("fetcher: host rate reduced after 429", zap.Float64("rate", float64(r)))
}

func (a *AdaptiveLimiter) set(next func(rate.Limit) rate.Limit) rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = next(a.current)
	a.limiter.SetLimit(a.current)
	return a.current
}

// Limit is the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// HTTPFetcher downloads media with per-host pacing and retries on 429 and 5xx.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
	sleep  func(ctx context.Context, attempt int)

	mu    sync.Mutex
	hosts map[string]*AdaptiveLimiter
}

// NewHTTPFetcher builds a fetcher from opts.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "directory-cli/1.0"
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:  opts,
		sleep: jitteredSleep,
		hosts: make(map[string]*AdaptiveLimiter),
	}
}

// limiter returns the host's limiter, creating it on first use.
func (f *HTTPFetcher) limiter(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.hosts[host]; ok {
		return l
	}
	r, ok := f.opts.HostRates[host]
	if !ok {
		r, ok = defaultHostRates[host]
	}
	if !ok {
		r = defaultHostRate
	}
	l := NewAdaptiveLimiter(rate.Limit(r), max(int(r), 1))
	f.hosts[host] = l
	return l
}

// Fetch downloads rawURL into memory, refusing bodies over MaxBytes.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Object, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("fetcher: invalid url %q", rawURL)
	}
	resp, err := f.get(ctx, u)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: download")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read body")
	}
	if int64(len(body)) > f.opts.MaxBytes {
		return nil, eris.Errorf("fetcher: %s exceeds %d bytes", rawURL, f.opts.MaxBytes)
	}

	ct, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	return &Object{Body: body, ContentType: strings.TrimSpace(ct)}, nil
}

// get issues the request, retrying transport errors, 429 and 5xx. Any other
// response is returned for the caller to judge.
func (f *HTTPFetcher) get(ctx context.Context, u *url.URL) (*http.Response, error) {
	lim := f.limiter(u.Host)
	var lastErr error
	for attempt := range f.opts.MaxRetries {
		if attempt > 0 {
			f.sleep(ctx, attempt-1)
		}
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "fetch cancelled")
			}
			lastErr = err
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = &StatusError{StatusCode: resp.StatusCode, URL: u.String()}
			if resp.StatusCode == http.StatusTooManyRequests {
				lim.OnRateLimit()
			}
		default:
			lim.OnSuccess()
			return resp, nil
		}
		zap.L().Debug("fetcher: attempt failed",
			zap.String("host", u.Host),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

// jitteredSleep waits 1s doubling per attempt, capped at 30s, plus up to 50%.
func jitteredSleep(ctx context.Context, attempt int) {
	d := min(time.Second<<min(attempt, 5), maxFetchBackoff)
	d += time.Duration(rand.Int64N(int64(d) / 2))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
