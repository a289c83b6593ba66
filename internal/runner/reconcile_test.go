package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/store"
)

type activeSet map[string]bool

func (a activeSet) IsActive(id string) bool { return a[id] }

func TestReconciler_SweepFailsOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	orphan := seedProcessing(t, s, "ChIJorphan")
	running := seedProcessing(t, s, "ChIJrunning")
	done := seedProcessing(t, s, "ChIJdone")
	_, err := s.SetOverallStatus(ctx, done.ID, store.StatusChange{Status: model.StatusCompleted})
	require.NoError(t, err)

	rc := NewReconciler(s, activeSet{running.ID: true}, ReconcileConfig{OrphanTimeout: 30 * time.Minute})
	rc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	n, err := rc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetEntity(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, model.ReasonOrphaned, got.FailureReason)

	got, err = s.GetEntity(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)

	got, err = s.GetEntity(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
}

func TestReconciler_FreshRecordsAreLeftAlone(t *testing.T) {
	s := newTestStore(t)
	e := seedProcessing(t, s, "ChIJfresh")

	rc := NewReconciler(s, nil, ReconcileConfig{})
	n, err := rc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.GetEntity(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	rc := NewReconciler(s, nil, ReconcileConfig{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		rc.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}
