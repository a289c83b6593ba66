package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/directory-cli/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newRestaurant(placeID string) *model.Entity {
	return &model.Entity{
		Type:            model.EntityRestaurant,
		ExternalPlaceID: placeID,
		SearchQuery:     "cafe luna austin",
		Status:          model.StatusProcessing,
		Progress: model.Progress{
			"initial_creation": {Status: model.StepCompleted},
		},
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetEntity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		e := newRestaurant("place-1")
		require.NoError(t, s.CreateEntity(ctx, e))
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, int64(1), e.Version)

		got, err := s.GetEntity(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, model.EntityRestaurant, got.Type)
		assert.Equal(t, "place-1", got.ExternalPlaceID)
		assert.Equal(t, model.StatusProcessing, got.Status)
		assert.Equal(t, model.StepCompleted, got.Progress.Get("initial_creation").Status)
		assert.Equal(t, model.StepPending, got.Progress.Get("provider_fetch").Status)

		byExt, err := s.FindByExternalID(ctx, "place-1")
		require.NoError(t, err)
		assert.Equal(t, e.ID, byExt.ID)
	})

	t.Run("GetEntity_NotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetEntity(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.True(t, IsNotFound(err))

		_, err = s.FindByExternalID(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("CreateEntity_DuplicateExternalID", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateEntity(ctx, newRestaurant("place-dup")))
		err := s.CreateEntity(ctx, newRestaurant("place-dup"))
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("CreateEntity_Validation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		assert.Error(t, s.CreateEntity(ctx, &model.Entity{Type: "casino", ExternalPlaceID: "x"}))
		assert.Error(t, s.CreateEntity(ctx, &model.Entity{Type: model.EntityHotel}))
	})

	t.Run("MergeProgress_MonotonicTransitions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := newRestaurant("place-prog")
		require.NoError(t, s.CreateEntity(ctx, e))

		now := time.Now().UTC()
		got, err := s.MergeProgress(ctx, e.ID, map[string]model.StepState{
			"provider_fetch": {Status: model.StepRunning, StartedAt: &now},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)

		got, err = s.MergeProgress(ctx, e.ID, map[string]model.StepState{
			"provider_fetch": {Status: model.StepCompleted, StartedAt: &now, CompletedAt: &now, Metrics: &model.StepMetrics{Items: 1}},
		})
		require.NoError(t, err)
		assert.Equal(t, model.StepCompleted, got.Progress["provider_fetch"].Status)
		assert.Equal(t, 1, got.Progress["provider_fetch"].Metrics.Items)

		// completed -> running is not a legal in-run transition.
		_, err = s.MergeProgress(ctx, e.ID, map[string]model.StepState{
			"provider_fetch": {Status: model.StepRunning},
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		// pending -> completed skips running.
		_, err = s.MergeProgress(ctx, e.ID, map[string]model.StepState{
			"web_scrape": {Status: model.StepCompleted},
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		reloaded, err := s.GetEntity(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StepCompleted, reloaded.Progress["provider_fetch"].Status)
		assert.Equal(t, int64(3), reloaded.Version)
	})

	t.Run("MergeProgress_LegacyEntries", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := newRestaurant("place-legacy")
		e.Progress["old_step"] = model.StepState{Status: model.StepCompleted}
		require.NoError(t, s.CreateEntity(ctx, e))

		got, err := s.MergeProgress(ctx, e.ID, map[string]model.StepState{
			"old_step": {Status: model.StepSkipped, Legacy: true},
		})
		require.NoError(t, err)
		assert.True(t, got.Progress["old_step"].Legacy)
		assert.Equal(t, model.StepSkipped, got.Progress["old_step"].Status)
	})

	t.Run("ResetSteps", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := newRestaurant("place-reset")
		e.Progress["web_scrape"] = model.StepState{Status: model.StepFailed, Error: &model.StepError{Kind: model.KindTransient, Message: "timeout"}}
		e.Progress["gone"] = model.StepState{Status: model.StepSkipped, Legacy: true}
		require.NoError(t, s.CreateEntity(ctx, e))

		got, err := s.ResetSteps(ctx, e.ID, []string{"web_scrape", "gone"})
		require.NoError(t, err)
		assert.Equal(t, model.StepPending, got.Progress["web_scrape"].Status)
		assert.Nil(t, got.Progress["web_scrape"].Error)
		assert.True(t, got.Progress["gone"].Legacy)
		assert.Equal(t, model.StepCompleted, got.Progress["initial_creation"].Status)
	})

	t.Run("Reopen", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := newRestaurant("place-reopen")
		e.Status = model.StatusFailed
		e.FailureReason = model.ReasonCriticalStep
		e.Progress["provider_fetch"] = model.StepState{Status: model.StepCompleted}
		e.Progress["web_scrape"] = model.StepState{Status: model.StepFailed}
		require.NoError(t, s.CreateEntity(ctx, e))

		got, err := s.Reopen(ctx, e.ID, ReopenInput{SearchQuery: "cafe luna downtown"})
		require.NoError(t, err)
		assert.Equal(t, model.StatusProcessing, got.Status)
		assert.Empty(t, got.FailureReason)
		assert.Equal(t, "cafe luna downtown", got.SearchQuery)
		assert.NotNil(t, got.StartedAt)
		assert.Nil(t, got.FinishedAt)
		assert.Equal(t, model.StepCompleted, got.Progress["provider_fetch"].Status)
		assert.Equal(t, model.StepPending, got.Progress["web_scrape"].Status)
	})

	t.Run("MergeFields_NewerTimestampWins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := newRestaurant("place-fields")
		require.NoError(t, s.CreateEntity(ctx, e))

		jobStart := time.Now().UTC().Add(-time.Minute)

		// Admin edits description while the job is running.
		edited, err := s.UpdateFields(ctx, e.ID, e.Version, &model.PartialUpdate{Description: model.Ptr("hand written")})
		require.NoError(t, err)
		assert.Equal(t, "hand written", edited.Fields.Description)

		written, err := s.MergeFields(ctx, e.ID, &model.PartialUpdate{
			Description: model.Ptr("generated"),
			Summary:     model.Ptr("generated summary"),
		}, jobStart)
		require.NoError(t, err)
		assert.Equal(t, []string{model.FieldSummary}, written)

		got, err := s.GetEntity(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, "hand written", got.Fields.Description)
		assert.Equal(t, "generated summary", got.Fields.Summary)
		assert.Contains(t, got.FieldUpdatedAt, model.FieldSummary)
	})

	t.Run("MergeFields_EmptyUpdateNoWrite", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := newRestaurant("place-empty")
		require.NoError(t, s.CreateEntity(ctx, e))

		written, err := s.MergeFields(ctx, e.ID, &model.PartialUpdate{}, time.Now())
		require.NoError(t, err)
		assert.Empty(t, written)

		got, err := s.GetEntity(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("UpdateFields_StaleVersion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := newRestaurant("place-stale")
		require.NoError(t, s.CreateEntity(ctx, e))

		_, err := s.UpdateFields(ctx, e.ID, e.Version, &model.PartialUpdate{Phone: model.Ptr("555-0101")})
		require.NoError(t, err)

		_, err = s.UpdateFields(ctx, e.ID, e.Version, &model.PartialUpdate{Phone: model.Ptr("555-0102")})
		assert.ErrorIs(t, err, ErrStaleVersion)

		got, err := s.GetEntity(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, "555-0101", got.Fields.Phone)
	})

	t.Run("SetOverallStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := newRestaurant("place-status")
		require.NoError(t, s.CreateEntity(ctx, e))

		active := true
		got, err := s.SetOverallStatus(ctx, e.ID, StatusChange{Status: model.StatusCompleted, Active: &active})
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, got.Status)
		assert.True(t, got.Active)
		assert.False(t, got.Verified)
		require.NotNil(t, got.FinishedAt)

		got, err = s.SetOverallStatus(ctx, e.ID, StatusChange{Status: model.StatusFailed, Reason: model.ReasonCancelled})
		require.NoError(t, err)
		assert.Equal(t, model.ReasonCancelled, got.FailureReason)
		assert.True(t, got.Active, "active untouched when not set")
	})

	t.Run("ListEntities_Filters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r := newRestaurant("place-list-1")
		require.NoError(t, s.CreateEntity(ctx, r))
		h := newRestaurant("place-list-2")
		h.Type = model.EntityHotel
		h.Status = model.StatusCompleted
		require.NoError(t, s.CreateEntity(ctx, h))

		all, err := s.ListEntities(ctx, EntityFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		hotels, err := s.ListEntities(ctx, EntityFilter{Type: model.EntityHotel})
		require.NoError(t, err)
		require.Len(t, hotels, 1)
		assert.Equal(t, "place-list-2", hotels[0].ExternalPlaceID)

		processing, err := s.ListEntities(ctx, EntityFilter{Status: model.StatusProcessing})
		require.NoError(t, err)
		require.Len(t, processing, 1)
		assert.Equal(t, "place-list-1", processing[0].ExternalPlaceID)

		limited, err := s.ListEntities(ctx, EntityFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("ListStale", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		stale := newRestaurant("place-stale-1")
		require.NoError(t, s.CreateEntity(ctx, stale))
		done := newRestaurant("place-stale-2")
		done.Status = model.StatusCompleted
		require.NoError(t, s.CreateEntity(ctx, done))

		found, err := s.ListStale(ctx, time.Now().UTC().Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, stale.ID, found[0].ID)

		none, err := s.ListStale(ctx, time.Now().UTC().Add(-time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
