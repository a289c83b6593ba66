package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    EntityType
		wantErr bool
	}{
		{"restaurant", EntityRestaurant, false},
		{"Hotel", EntityHotel, false},
		{" fitness center ", EntityFitnessCenter, false},
		{"fitness-center", EntityFitnessCenter, false},
		{"school", EntitySchool, false},
		{"casino", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseEntityType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEntityClone_Independent(t *testing.T) {
	t.Parallel()

	score := 0.7
	e := Entity{
		ID:       "e1",
		Progress: Progress{"provider_fetch": {Status: StepCompleted, Metrics: &StepMetrics{Items: 1}}},
		Fields: Fields{
			Name:       "Cafe",
			Location:   &Location{Lat: 1, Lng: 2},
			Highlights: []string{"patio"},
			Score:      &score,
			Artifacts:  map[string]string{"web_content": "hello"},
			Sentiment:  &Sentiment{Score: 0.5, Positives: []string{"coffee"}},
		},
	}

	c := e.Clone()
	c.Fields.Location.Lat = 9
	c.Fields.Highlights[0] = "garden"
	*c.Fields.Score = 0.1
	c.Fields.Artifacts["web_content"] = "changed"
	c.Fields.Sentiment.Positives[0] = "tea"
	c.Progress["provider_fetch"].Metrics.Items = 5

	assert.Equal(t, 1.0, e.Fields.Location.Lat)
	assert.Equal(t, "patio", e.Fields.Highlights[0])
	assert.Equal(t, 0.7, *e.Fields.Score)
	assert.Equal(t, "hello", e.Fields.Artifacts["web_content"])
	assert.Equal(t, "coffee", e.Fields.Sentiment.Positives[0])
	assert.Equal(t, 1, e.Progress["provider_fetch"].Metrics.Items)
}
