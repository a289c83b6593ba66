package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateDuplicateReview(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("CreatePage", ctx, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		if req.Parent.DatabaseID != "db-review" {
			return false
		}
		title, ok := req.Properties["Name"].(notionapi.TitleProperty)
		if !ok || len(title.Title) != 1 || title.Title[0].Text.Content != "Blue Door Bistro (Austin)" {
			return false
		}
		sim, ok := req.Properties["Similarity"].(notionapi.NumberProperty)
		if !ok || sim.Number != 0.93 {
			return false
		}
		status, ok := req.Properties["Status"].(notionapi.StatusProperty)
		return ok && status.Status.Name == "Queued"
	})).Return(&notionapi.Page{ID: "page-1"}, nil).Once()

	page, err := CreateDuplicateReview(ctx, mc, "db-review", DuplicateReview{
		EntityID:        "e-new",
		EntityType:      "restaurant",
		Name:            "Blue Door Bistro",
		Locality:        "Austin",
		ExternalPlaceID: "ChIJ-new",
		CandidateID:     "e-old",
		CandidateName:   "Blue Door Bistró",
		Similarity:      0.93,
	})
	require.NoError(t, err)
	assert.Equal(t, notionapi.ObjectID("page-1"), page.ID)
	mc.AssertExpectations(t)
}

func TestCreateDuplicateReview_Error(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("CreatePage", ctx, mock.Anything).Return(nil, assert.AnError).Once()

	_, err := CreateDuplicateReview(ctx, mc, "db-review", DuplicateReview{EntityID: "e-1", Name: "X"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "e-1")
}

func TestReviewProperties_NoLocalityNoType(t *testing.T) {
	props := reviewProperties(DuplicateReview{Name: "Gym"})
	title := props["Name"].(notionapi.TitleProperty)
	assert.Equal(t, "Gym", title.Title[0].Text.Content)
	_, hasType := props["EntityType"]
	assert.False(t, hasType)
}
