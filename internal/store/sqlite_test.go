package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/directory-cli/internal/model"
)

func TestSQLite_TimeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 4, 2, 9, 30, 15, 123456789, time.FixedZone("CDT", -5*3600))
	parsed, err := parseTime(formatTime(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))
	assert.Equal(t, time.UTC, parsed.Location())
}

func TestSQLite_TimeLexicalOrder(t *testing.T) {
	a := formatTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := formatTime(time.Date(2026, 1, 1, 0, 0, 0, 500, time.UTC))
	c := formatTime(time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC))
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestSQLite_ParseTimePtr(t *testing.T) {
	got, err := parseTimePtr(sql.NullString{})
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseTimePtr(sql.NullString{String: "yesterday", Valid: true})
	assert.Error(t, err)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestSQLite_PreservesNestedFields(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	e := newRestaurant("place-nested")
	require.NoError(t, s.CreateEntity(ctx, e))

	score := 0.82
	_, err := s.MergeFields(ctx, e.ID, &model.PartialUpdate{
		Location:  &model.Location{Lat: 30.2672, Lng: -97.7431},
		Reviews:   []model.Review{{Author: "Ana", Rating: 5, Text: "Great tacos"}},
		Sentiment: &model.Sentiment{Score: 0.9, Label: "positive"},
		Score:     &score,
		Artifacts: map[string]string{model.ArtifactWebContent: "# Menu"},
	}, time.Now().UTC())
	require.NoError(t, err)

	got, err := s.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Fields.Location)
	assert.InDelta(t, 30.2672, got.Fields.Location.Lat, 1e-9)
	require.Len(t, got.Fields.Reviews, 1)
	assert.Equal(t, "Great tacos", got.Fields.Reviews[0].Text)
	assert.Equal(t, "positive", got.Fields.Sentiment.Label)
	assert.InDelta(t, 0.82, *got.Fields.Score, 1e-9)
	assert.Equal(t, "# Menu", got.Fields.Artifacts[model.ArtifactWebContent])
}
