package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/directory-cli/internal/cost"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/pkg/google"
	googlemocks "github.com/sells-group/directory-cli/pkg/google/mocks"
)

func blueDoorPlace() *google.Place {
	return &google.Place{
		ID:               "ChIJbluedoor",
		DisplayName:      google.DisplayName{Text: "Blue Door Bistro"},
		FormattedAddress: "120 NW 23rd Ave, Portland, OR 97210, USA",
		AddressComponents: []google.AddressComponent{
			{LongText: "Portland", ShortText: "Portland", Types: []string{"locality", "political"}},
		},
		NationalPhoneNumber: "(503) 555-0142",
		WebsiteURI:          "https://bluedoorbistro.com",
		Location:            &google.LatLng{Latitude: 45.5231, Longitude: -122.6985},
		Rating:              4.6,
		UserRatingCount:     812,
		PriceLevel:          "PRICE_LEVEL_MODERATE",
		RegularOpeningHours: &google.OpeningHours{WeekdayDescriptions: []string{"Monday: Closed", "Tuesday: 5:00 – 10:00 PM"}},
		Types:               []string{"restaurant", "food"},
		Photos:              []google.Photo{{Name: "places/ChIJbluedoor/photos/a"}, {Name: "places/ChIJbluedoor/photos/b"}},
	}
}

func TestProviderFetch_MapsPlace(t *testing.T) {
	t.Parallel()
	g := googlemocks.NewMockClient(t)
	g.On("PlaceDetails", mock.Anything, "ChIJbluedoor").Return(blueDoorPlace(), nil)

	p := &ProviderFetch{Google: g, Cost: cost.NewCalculator(cost.DefaultRates())}
	u, m, err := p.Execute(context.Background(), restaurantJob())
	require.NoError(t, err)

	assert.Equal(t, "Blue Door Bistro", *u.Name)
	assert.Equal(t, "Portland", *u.Locality)
	assert.Equal(t, "(503) 555-0142", *u.Phone)
	assert.Equal(t, "$$", *u.PriceLevel)
	assert.Equal(t, 812, *u.ReviewCount)
	assert.InDelta(t, 45.5231, u.Location.Lat, 1e-9)
	assert.Len(t, u.OpeningHours, 2)
	assert.JSONEq(t, `["places/ChIJbluedoor/photos/a","places/ChIJbluedoor/photos/b"]`, u.Artifacts[model.ArtifactPhotoRefs])
	assert.Equal(t, "google", m.Source)
	assert.InDelta(t, 0.017, m.CostUSD, 1e-9)
	assert.Equal(t, len(u.Keys()), m.Fields)
}

func TestProviderFetch_SparseUpdate(t *testing.T) {
	t.Parallel()
	g := googlemocks.NewMockClient(t)
	g.On("PlaceDetails", mock.Anything, "ChIJbluedoor").Return(&google.Place{
		ID:          "ChIJbluedoor",
		DisplayName: google.DisplayName{Text: "Blue Door Bistro"},
	}, nil)

	u, _, err := (&ProviderFetch{Google: g}).Execute(context.Background(), restaurantJob())
	require.NoError(t, err)
	assert.Equal(t, []string{model.FieldName}, u.Keys())
	assert.Nil(t, u.Rating)
	assert.Nil(t, u.Website)
}

func TestProviderFetch_FallsBackToTextSearch(t *testing.T) {
	t.Parallel()
	g := googlemocks.NewMockClient(t)
	g.On("PlaceDetails", mock.Anything, "ChIJbluedoor").Return(nil, &google.APIError{StatusCode: 404, Status: "NOT_FOUND", Message: "place not found"}).Once()
	g.On("TextSearch", mock.Anything, "Blue Door Bistro Portland").Return(&google.TextSearchResponse{
		Places: []google.Place{{ID: "ChIJnewid"}},
	}, nil)
	g.On("PlaceDetails", mock.Anything, "ChIJnewid").Return(blueDoorPlace(), nil)

	u, m, err := (&ProviderFetch{Google: g, Cost: cost.NewCalculator(cost.DefaultRates())}).Execute(context.Background(), restaurantJob())
	require.NoError(t, err)
	assert.Equal(t, "Blue Door Bistro", *u.Name)
	assert.InDelta(t, 0.017*2+0.032, m.CostUSD, 1e-9)
}

func TestProviderFetch_NoSearchResults(t *testing.T) {
	t.Parallel()
	g := googlemocks.NewMockClient(t)
	g.On("PlaceDetails", mock.Anything, "ChIJbluedoor").Return(nil, &google.APIError{StatusCode: 404})
	g.On("TextSearch", mock.Anything, "Blue Door Bistro Portland").Return(&google.TextSearchResponse{}, nil)

	_, _, err := (&ProviderFetch{Google: g}).Execute(context.Background(), restaurantJob())
	require.Error(t, err)
	se, ok := model.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, model.KindInvalidInput, se.Kind)
}

func TestProviderFetch_PropagatesProviderError(t *testing.T) {
	t.Parallel()
	g := googlemocks.NewMockClient(t)
	g.On("PlaceDetails", mock.Anything, "ChIJbluedoor").Return(nil, &google.APIError{StatusCode: 429})

	_, _, err := (&ProviderFetch{Google: g}).Execute(context.Background(), restaurantJob())
	var apiErr *google.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.StatusCode)
}

func TestProviderFetch_MissingPlaceID(t *testing.T) {
	t.Parallel()
	jc := restaurantJob()
	jc.Job.ExternalPlaceID = ""
	jc.Entity.ExternalPlaceID = ""

	_, _, err := (&ProviderFetch{Google: googlemocks.NewMockClient(t)}).Execute(context.Background(), jc)
	se, ok := model.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, model.KindInvalidInput, se.Kind)
}

func TestProviderFetch_NoClientIsFatal(t *testing.T) {
	t.Parallel()
	_, _, err := (&ProviderFetch{}).Execute(context.Background(), restaurantJob())
	se, ok := model.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, model.KindFatal, se.Kind)
}

func TestPhotoRefs_Malformed(t *testing.T) {
	t.Parallel()
	jc := restaurantJob()
	jc.Entity.Fields.Artifacts = map[string]string{model.ArtifactPhotoRefs: "not json"}
	assert.Nil(t, photoRefs(jc))
}
