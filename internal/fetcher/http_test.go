package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestFetcher(attempts int) *HTTPFetcher {
	f := NewHTTPFetcher(HTTPOptions{UserAgent: "test-agent", Timeout: 5 * time.Second, MaxRetries: attempts})
	f.sleep = func(context.Context, int) {}
	return f
}

// statusSequence answers with codes in order, then 200 "ok".
func statusSequence(t *testing.T, codes ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(calls.Add(1))
		if n <= len(codes) {
			w.WriteHeader(codes[n-1])
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "image/webp; q=0.9")
		_, _ = w.Write([]byte("RIFF....WEBP"))
	}))
	defer srv.Close()

	obj, err := newTestFetcher(3).Fetch(context.Background(), srv.URL+"/lobby.webp")
	require.NoError(t, err)
	assert.Equal(t, "image/webp", obj.ContentType)
	assert.Equal(t, []byte("RIFF....WEBP"), obj.Body)
}

func TestFetch_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	f := newTestFetcher(1)
	f.opts.MaxBytes = 32
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "exceeds 32 bytes")
}

func TestFetch_InvalidURL(t *testing.T) {
	_, err := newTestFetcher(1).Fetch(context.Background(), "not a url")
	assert.ErrorContains(t, err, "invalid url")
}

func TestFetch_ClientErrorNotRetried(t *testing.T) {
	srv, calls := statusSequence(t, http.StatusNotFound)

	_, err := newTestFetcher(3).Fetch(context.Background(), srv.URL)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.HTTPStatus())
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	srv, calls := statusSequence(t, http.StatusInternalServerError, http.StatusServiceUnavailable)

	obj, err := newTestFetcher(3).Fetch(context.Background(), srv.URL+"/photo")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(obj.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_RetriesExhausted(t *testing.T) {
	srv, calls := statusSequence(t, http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway)

	_, err := newTestFetcher(2).Fetch(context.Background(), srv.URL)
	require.ErrorContains(t, err, "all retries exhausted")
	assert.Equal(t, int32(2), calls.Load())

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func TestFetch_429SlowsHost(t *testing.T) {
	srv, calls := statusSequence(t, http.StatusTooManyRequests, http.StatusTooManyRequests)
	u, _ := url.Parse(srv.URL)

	f := newTestFetcher(3)
	f.opts.HostRates = map[string]float64{u.Host: 100}

	_, err := f.Fetch(context.Background(), srv.URL+"/photo")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	// 100 -> 50 -> 25, then one success -> 30.
	assert.InDelta(t, 30.0, float64(f.limiter(u.Host).Limit()), 0.01)
}

func TestFetch_HostPacing(t *testing.T) {
	times := make(chan time.Time, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		times <- time.Now()
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	f := NewHTTPFetcher(HTTPOptions{MaxRetries: 1, HostRates: map[string]float64{u.Host: 1}})
	for range 2 {
		_, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}

	first, second := <-times, <-times
	assert.GreaterOrEqual(t, second.Sub(first), 500*time.Millisecond)
}

func TestFetch_Cancelled(t *testing.T) {
	srv, calls := statusSequence(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFetcher(3).Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.Zero(t, calls.Load())
}

func TestLimiter_HostDefaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{HostRates: map[string]float64{"cdn.example.com": 2}})

	assert.Equal(t, rate.Limit(10), f.limiter("lh3.googleusercontent.com").Limit())
	assert.Equal(t, rate.Limit(2), f.limiter("cdn.example.com").Limit())
	assert.Equal(t, rate.Limit(defaultHostRate), f.limiter("bluedoorbistro.com").Limit())
	assert.Same(t, f.limiter("bluedoorbistro.com"), f.limiter("bluedoorbistro.com"))
}

func TestAdaptiveLimiter_Bounds(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)
	lim.OnSuccess()
	assert.InDelta(t, 12.0, float64(lim.Limit()), 0.01)
	for range 20 {
		lim.OnSuccess()
	}
	assert.InDelta(t, 20.0, float64(lim.Limit()), 0.01)

	for range 10 {
		lim.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.01)
}

func TestAdaptiveLimiter_WaitCancelled(t *testing.T) {
	lim := NewAdaptiveLimiter(0.001, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, lim.Wait(ctx))
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, "directory-cli/1.0", f.opts.UserAgent)
	assert.Equal(t, 3, f.opts.MaxRetries)
	assert.Equal(t, int64(10<<20), f.opts.MaxBytes)
	assert.Equal(t, 30*time.Second, f.client.Timeout)
}
