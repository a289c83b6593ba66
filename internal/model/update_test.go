package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPartialUpdate_Keys(t *testing.T) {
	t.Parallel()

	var nilUpdate *PartialUpdate
	assert.True(t, nilUpdate.IsEmpty())
	assert.True(t, (&PartialUpdate{}).IsEmpty())

	u := &PartialUpdate{
		Name:       Ptr("Cafe Luna"),
		Highlights: []string{},
		Score:      Ptr(0.8),
		Artifacts:  map[string]string{"web_source": "jina", "web_content": "x"},
	}
	assert.False(t, u.IsEmpty())
	assert.Equal(t, []string{
		FieldName, FieldHighlights, FieldScore,
		"artifacts.web_content", "artifacts.web_source",
	}, u.Keys())
}

func TestPartialUpdate_MergeInto_SparseWrite(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &Entity{Fields: Fields{Name: "Old", Phone: "555-0100"}}

	u := &PartialUpdate{Name: Ptr("New"), Rating: Ptr(4.5)}
	written := u.MergeInto(e, now, now)

	assert.Equal(t, []string{FieldName, FieldRating}, written)
	assert.Equal(t, "New", e.Fields.Name)
	assert.Equal(t, 4.5, e.Fields.Rating)
	assert.Equal(t, "555-0100", e.Fields.Phone, "undeclared fields untouched")
	assert.Equal(t, now, e.FieldUpdatedAt[FieldName])
	_, stamped := e.FieldUpdatedAt[FieldPhone]
	assert.False(t, stamped)
}

func TestPartialUpdate_MergeInto_NewerFieldWins(t *testing.T) {
	t.Parallel()

	jobStart := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adminEdit := jobStart.Add(time.Minute)
	now := jobStart.Add(2 * time.Minute)

	e := &Entity{
		Fields:         Fields{Description: "edited by hand"},
		FieldUpdatedAt: map[string]time.Time{FieldDescription: adminEdit},
	}

	u := &PartialUpdate{
		Description: Ptr("generated"),
		Summary:     Ptr("short"),
		Artifacts:   map[string]string{"web_content": "page"},
	}
	written := u.MergeInto(e, jobStart, now)

	assert.Equal(t, []string{"artifacts.web_content", FieldSummary}, written)
	assert.Equal(t, "edited by hand", e.Fields.Description)
	assert.Equal(t, "short", e.Fields.Summary)
	assert.Equal(t, "page", e.Fields.Artifacts["web_content"])
	assert.Equal(t, adminEdit, e.FieldUpdatedAt[FieldDescription])
}

func TestClearFields(t *testing.T) {
	t.Parallel()

	f := Fields{
		Name:        "Keep",
		Description: "drop",
		Highlights:  []string{"a"},
		Score:       Ptr(0.3),
		Artifacts:   map[string]string{"web_content": "x", "photo_refs": "y"},
	}
	ClearFields(&f, []string{FieldDescription, FieldHighlights, FieldScore, "artifacts.web_content", "unknown"})

	assert.Equal(t, "Keep", f.Name)
	assert.Empty(t, f.Description)
	assert.Nil(t, f.Highlights)
	assert.Nil(t, f.Score)
	assert.Equal(t, map[string]string{"photo_refs": "y"}, f.Artifacts)
}

func TestKnownField(t *testing.T) {
	t.Parallel()

	assert.True(t, KnownField(FieldCategoryIDs))
	assert.True(t, KnownField("artifacts.web_research"))
	assert.False(t, KnownField("artifacts."))
	assert.False(t, KnownField("revenue"))
}
