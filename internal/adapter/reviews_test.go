package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/directory-cli/pkg/google"
	googlemocks "github.com/sells-group/directory-cli/pkg/google/mocks"
)

func TestReviewFetch_MapsAndCaps(t *testing.T) {
	t.Parallel()
	g := googlemocks.NewMockClient(t)
	g.On("Reviews", mock.Anything, "ChIJbluedoor").Return([]google.Review{
		{Rating: 5, Text: &google.LocalizedText{Text: " Best roast chicken in town. "}, AuthorAttribution: google.AuthorAttribution{DisplayName: "Dana"}, PublishTime: "2026-03-01T18:30:00Z"},
		{Rating: 4, Text: nil},
		{Rating: 3, Text: &google.LocalizedText{Text: "Slow service on a Friday."}, PublishTime: "garbage"},
		{Rating: 5, Text: &google.LocalizedText{Text: "Lovely patio."}},
	}, nil)

	u, m, err := (&ReviewFetch{Google: g, Max: 2}).Execute(context.Background(), restaurantJob())
	require.NoError(t, err)
	require.Len(t, u.Reviews, 2)

	assert.Equal(t, "Best roast chicken in town.", u.Reviews[0].Text)
	assert.Equal(t, "Dana", u.Reviews[0].Author)
	require.NotNil(t, u.Reviews[0].PublishedAt)
	assert.Equal(t, time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC), *u.Reviews[0].PublishedAt)
	assert.Nil(t, u.Reviews[1].PublishedAt)
	assert.Equal(t, 2, m.Items)
}

func TestReviewFetch_EmptyIsDerived(t *testing.T) {
	t.Parallel()
	g := googlemocks.NewMockClient(t)
	g.On("Reviews", mock.Anything, "ChIJbluedoor").Return(nil, nil)

	u, _, err := (&ReviewFetch{Google: g}).Execute(context.Background(), restaurantJob())
	require.NoError(t, err)
	assert.NotNil(t, u.Reviews)
	assert.Empty(t, u.Reviews)
}

func TestReviewFetch_Applicable(t *testing.T) {
	t.Parallel()
	jc := restaurantJob()
	assert.True(t, (&ReviewFetch{Google: googlemocks.NewMockClient(t)}).Applicable(jc))
	assert.False(t, (&ReviewFetch{}).Applicable(jc))
}
