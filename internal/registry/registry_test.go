package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/directory-cli/internal/model"
)

func TestDefault_Validates(t *testing.T) {
	t.Parallel()
	require.NoError(t, Default().Validate())
	assert.Len(t, Default().Types(), len(model.EntityTypes))
}

func TestDefault_RestaurantOrder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{
		StepInitialCreation, StepProviderFetch, StepWebScrape, StepReviewFetch,
		StepImageExtraction, StepAISentiment, StepAIEnhancement, StepCategoryMatching, StepScoreCalculation,
	}, Default().Names(model.EntityRestaurant))

	steps, err := Default().Steps(model.EntityRestaurant)
	require.NoError(t, err)
	var critical []string
	for _, s := range steps {
		if s.Critical {
			critical = append(critical, s.Name)
		}
	}
	assert.Equal(t, []string{StepInitialCreation, StepProviderFetch, StepScoreCalculation}, critical)
}

func TestDefault_TypeVariants(t *testing.T) {
	t.Parallel()

	r := Default()
	for _, typ := range []model.EntityType{model.EntityHotel, model.EntitySchool, model.EntityAttraction} {
		names := r.Names(typ)
		research := indexOf(names, StepWebResearch)
		enhance := indexOf(names, StepAIEnhancement)
		require.GreaterOrEqual(t, research, 0, typ)
		assert.Equal(t, enhance-1, research, "web_research runs right before ai_enhancement for %s", typ)
	}
	for _, typ := range []model.EntityType{model.EntityMall, model.EntityFitnessCenter} {
		assert.False(t, r.Has(typ, StepAISentiment), typ)
		assert.False(t, r.Has(typ, StepWebResearch), typ)
	}
	assert.False(t, r.Has(model.EntityRestaurant, StepWebResearch))
}

func TestSteps_UnknownType(t *testing.T) {
	t.Parallel()
	_, err := Default().Steps("casino")
	assert.Error(t, err)
}

func TestSteps_ReturnsCopy(t *testing.T) {
	t.Parallel()

	r := Default()
	steps, err := r.Steps(model.EntityRestaurant)
	require.NoError(t, err)
	steps[1].MaxRetries = 99
	steps[1].Produces[0] = "mutated"

	s, ok := r.Step(model.EntityRestaurant, StepProviderFetch)
	require.True(t, ok)
	assert.Equal(t, 3, s.MaxRetries)
	assert.Equal(t, model.FieldName, s.Produces[0])
}

func TestEstimate(t *testing.T) {
	t.Parallel()

	cost, dur := Default().Estimate(model.EntityRestaurant)
	assert.Greater(t, cost, 0.0)
	assert.Greater(t, dur, time.Duration(0))

	hotelCost, _ := Default().Estimate(model.EntityHotel)
	assert.Greater(t, hotelCost, cost, "hotels add web research")
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	ok := Step{Name: StepInitialCreation, Timeout: time.Second}
	tests := []struct {
		name  string
		steps []Step
	}{
		{"empty", nil},
		{"wrong first step", []Step{{Name: StepProviderFetch, Timeout: time.Second}}},
		{"duplicate", []Step{ok, {Name: "a", Timeout: time.Second}, {Name: "a", Timeout: time.Second}}},
		{"negative retries", []Step{ok, {Name: "a", Timeout: time.Second, MaxRetries: -1}}},
		{"zero timeout", []Step{ok, {Name: "a"}}},
		{"unknown field", []Step{ok, {Name: "a", Timeout: time.Second, Produces: []string{"revenue"}}}},
		{"overlapping fields", []Step{ok,
			{Name: "a", Timeout: time.Second, Produces: []string{model.FieldName}},
			{Name: "b", Timeout: time.Second, Produces: []string{model.FieldName}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(map[model.EntityType][]Step{model.EntityRestaurant: tt.steps})
			assert.Error(t, err)
		})
	}

	r, err := New(map[model.EntityType][]Step{model.EntityRestaurant: {ok, {Name: "a", Timeout: time.Second}}})
	require.NoError(t, err)
	assert.Equal(t, []string{StepInitialCreation, "a"}, r.Names(model.EntityRestaurant))
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
