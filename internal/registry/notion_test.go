package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/directory-cli/internal/model"
)

// stepsDB serves canned rows for one database and counts queries.
type stepsDB struct {
	id      string
	rows    []notionapi.Page
	err     error
	queries int
}

func (s *stepsDB) QueryDatabase(_ context.Context, dbID string, _ *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	s.queries++
	if s.err != nil {
		return nil, s.err
	}
	if dbID != s.id {
		return nil, errors.New("unknown database " + dbID)
	}
	return &notionapi.DatabaseQueryResponse{Results: s.rows}, nil
}

func (s *stepsDB) CreatePage(context.Context, *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	return nil, errors.New("steps database is read-only")
}

func TestLoadNotionOverrides(t *testing.T) {
	db := &stepsDB{id: "steps-db", rows: []notionapi.Page{
		makeStepPage("p1", "web_research", "Hotel", 5, 120, "optional", false),
		makeStepPage("p2", "image_extraction", "Fitness Center", 0, 0, "", true),
		makeStepPage("p3", "", "Hotel", 1, 0, "", false),
		makeStepPage("p4", "web_scrape", "Casino", 1, 0, "", false),
	}}

	o, err := LoadNotionOverrides(context.Background(), db, "steps-db")
	require.NoError(t, err)

	hotel := o.Types[model.EntityHotel]
	require.Contains(t, hotel.Steps, "web_research")
	assert.Equal(t, 5, *hotel.Steps["web_research"].MaxRetries)
	assert.Equal(t, 2*time.Minute, *hotel.Steps["web_research"].Timeout)
	assert.False(t, *hotel.Steps["web_research"].Critical)

	assert.Equal(t, []string{"image_extraction"}, o.Types[model.EntityFitnessCenter].Disabled)
	assert.Len(t, o.Types, 2, "malformed rows skipped")

	r, err := Default().Apply(o)
	require.NoError(t, err)
	assert.False(t, r.Has(model.EntityFitnessCenter, StepImageExtraction))
	assert.Equal(t, 1, db.queries)
}

func TestLoadNotionOverrides_QueryError(t *testing.T) {
	db := &stepsDB{id: "steps-db", err: assert.AnError}

	_, err := LoadNotionOverrides(context.Background(), db, "steps-db")
	assert.ErrorIs(t, err, assert.AnError)
}

func makeStepPage(id, step, entityType string, maxRetries, timeoutSecs int, criticality string, disabled bool) notionapi.Page {
	props := make(notionapi.Properties)

	props["Step"] = &notionapi.TitleProperty{
		Type:  notionapi.PropertyTypeTitle,
		Title: []notionapi.RichText{{PlainText: step}},
	}
	props["EntityType"] = &notionapi.SelectProperty{
		Type:   notionapi.PropertyTypeSelect,
		Select: notionapi.Option{Name: entityType},
	}
	props["MaxRetries"] = &notionapi.NumberProperty{
		Type:   notionapi.PropertyTypeNumber,
		Number: float64(maxRetries),
	}
	props["TimeoutSeconds"] = &notionapi.NumberProperty{
		Type:   notionapi.PropertyTypeNumber,
		Number: float64(timeoutSecs),
	}
	props["Criticality"] = &notionapi.SelectProperty{
		Type:   notionapi.PropertyTypeSelect,
		Select: notionapi.Option{Name: criticality},
	}
	props["Disabled"] = &notionapi.CheckboxProperty{
		Type:     notionapi.PropertyTypeCheckbox,
		Checkbox: disabled,
	}

	return notionapi.Page{
		ID:         notionapi.ObjectID(id),
		Properties: props,
	}
}
