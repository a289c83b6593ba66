package scrape

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/pkg/jina"
)

func TestCandidateURLs(t *testing.T) {
	t.Parallel()

	got := CandidateURLs("https://bluedoorbistro.com", model.EntityRestaurant)
	assert.Equal(t, []string{
		"https://bluedoorbistro.com",
		"https://bluedoorbistro.com/menu",
		"https://bluedoorbistro.com/about",
		"https://bluedoorbistro.com/hours",
	}, got)
}

func TestCandidateURLs_DeepLinkAddsRoot(t *testing.T) {
	t.Parallel()

	got := CandidateURLs("https://grandharbor.com/hotels/boston?utm=x", model.EntityHotel)
	require.Len(t, got, 5)
	assert.Equal(t, "https://grandharbor.com/hotels/boston", got[0])
	assert.Equal(t, "https://grandharbor.com/", got[1])
	assert.Equal(t, "https://grandharbor.com/rooms", got[2])
}

func TestCandidateURLs_Invalid(t *testing.T) {
	t.Parallel()
	assert.Nil(t, CandidateURLs("", model.EntityMall))
	assert.Nil(t, CandidateURLs("not a url", model.EntityMall))
}

func TestDiscoverWebsite(t *testing.T) {
	t.Parallel()
	jc := &mockJina{}
	jc.On("Search", context.Background(), "Blue Door Bistro Portland official website").Return(&jina.SearchResponse{
		Data: []jina.SearchResult{
			{URL: "https://www.yelp.com/biz/blue-door-bistro"},
			{URL: "https://bluedoorbistro.com/"},
		},
	}, nil)

	got, err := DiscoverWebsite(context.Background(), jc, "Blue Door Bistro", "Portland")
	require.NoError(t, err)
	assert.Equal(t, "https://bluedoorbistro.com/", got)
	jc.AssertExpectations(t)
}

func TestDiscoverWebsite_OnlyAggregators(t *testing.T) {
	t.Parallel()
	jc := &mockJina{}
	jc.On("Search", context.Background(), "Blue Door Bistro official website").Return(&jina.SearchResponse{
		Data: []jina.SearchResult{{URL: "https://www.tripadvisor.com/x"}},
	}, nil)

	_, err := DiscoverWebsite(context.Background(), jc, "Blue Door Bistro", "")
	assert.ErrorIs(t, err, ErrNoWebsite)
}

func TestDiscoverWebsite_SearchError(t *testing.T) {
	t.Parallel()
	jc := &mockJina{}
	jc.On("Search", context.Background(), "Blue Door Bistro official website").Return(nil, errors.New("boom"))

	_, err := DiscoverWebsite(context.Background(), jc, "Blue Door Bistro", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discover website")
}

func TestDiscoverWebsite_QuerySpacing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, locality, want string
	}{
		{"Blue Door Bistro", "", "Blue Door Bistro official website"},
		{" Blue Door  Bistro ", "  ", "Blue Door Bistro official website"},
		{"Blue Door Bistro", " Portland\t", "Blue Door Bistro Portland official website"},
	}
	for _, tt := range tests {
		jc := &mockJina{}
		jc.On("Search", context.Background(), tt.want).Return(&jina.SearchResponse{
			Data: []jina.SearchResult{{URL: "https://bluedoorbistro.com/"}},
		}, nil)

		got, err := DiscoverWebsite(context.Background(), jc, tt.name, tt.locality)
		require.NoError(t, err, "%q / %q", tt.name, tt.locality)
		assert.Equal(t, "https://bluedoorbistro.com/", got)
		jc.AssertExpectations(t)
	}
}

func TestDiscoverWebsite_NoClient(t *testing.T) {
	t.Parallel()
	_, err := DiscoverWebsite(context.Background(), nil, "Blue Door Bistro", "")
	assert.ErrorIs(t, err, ErrNoWebsite)
}
