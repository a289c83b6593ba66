package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/directory-cli/internal/config"
	"github.com/sells-group/directory-cli/internal/model"
)

// start runs c in the background and returns a func that stops it and
// waits for Run to return.
func start(t *testing.T, c *Checker) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("checker did not stop after cancel")
		}
	}
}

func TestNewChecker_DefaultInterval(t *testing.T) {
	c := NewChecker(NewCollector(&mockStore{}, nil), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, defaultCheckInterval, c.interval)

	c = NewChecker(NewCollector(&mockStore{}, nil), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{CheckIntervalSecs: 30})
	assert.Equal(t, 30*time.Second, c.interval)
}

func TestCheck_RecordsSnapshot(t *testing.T) {
	now := time.Now()
	st := &mockStore{entities: []model.Entity{
		{ID: "gym-1", Status: model.StatusCompleted, UpdatedAt: now},
		{ID: "mall-1", Status: model.StatusFailed, FailureReason: model.ReasonOrphaned, UpdatedAt: now},
	}}
	cfg := config.MonitoringConfig{LookbackWindowHours: 6}
	var hooked []MetricsSnapshot
	c := NewChecker(NewCollector(st, staticCircuits{"perplexity"}), NewAlerter(cfg), cfg,
		WithSnapshotHook(func(s MetricsSnapshot) { hooked = append(hooked, s) }))
	assert.Nil(t, c.Last())

	snap, err := c.Check(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.Orphaned)
	assert.Equal(t, 6, snap.LookbackHours)
	assert.Equal(t, []string{"perplexity"}, snap.OpenCircuits)
	assert.Same(t, snap, c.Last())
	require.Len(t, hooked, 1)
	assert.Equal(t, 2, hooked[0].Total)
}

func TestCheck_CollectError(t *testing.T) {
	cfg := config.MonitoringConfig{LookbackWindowHours: 24}
	c := NewChecker(NewCollector(&mockStore{listErr: assert.AnError}, nil), NewAlerter(cfg), cfg)

	_, err := c.Check(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, c.Last(), "a failed check keeps the previous snapshot")
}

func TestRun_AlertsOnFirstCheck(t *testing.T) {
	var posts atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	cfg := config.MonitoringConfig{
		WebhookURL:          hook.URL,
		CheckIntervalSecs:   3600,
		LookbackWindowHours: 24,
	}
	c := NewChecker(NewCollector(&mockStore{}, staticCircuits{"google"}), NewAlerter(cfg), cfg)
	stop := start(t, c)

	assert.Eventually(t, func() bool { return posts.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	stop()
	assert.Equal(t, []string{"google"}, c.Last().OpenCircuits)
}

func TestRun_StopsWhenCancelled(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackWindowHours: 24}
	c := NewChecker(NewCollector(&mockStore{}, nil), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Run(ctx)
	assert.Nil(t, c.Last(), "a cancelled run never checks")

	stop := start(t, c)
	assert.Eventually(t, func() bool { return c.Last() != nil }, 2*time.Second, 10*time.Millisecond)
	stop()
}
