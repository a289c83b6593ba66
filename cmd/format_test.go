package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/directory-cli/internal/bulk"
	"github.com/sells-group/directory-cli/internal/model"
)

func TestFormatEntityList(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entities := []model.Entity{
		{
			ID:              "0f8e3c2a-1111-2222-3333-444455556666",
			Type:            model.EntityRestaurant,
			ExternalPlaceID: "ChIJ-one",
			Status:          model.StatusCompleted,
			Active:          true,
			Fields:          model.Fields{Name: "Trattoria Roma"},
			UpdatedAt:       now,
		},
		{
			ID:              "short",
			Type:            model.EntityHotel,
			ExternalPlaceID: "ChIJ-two",
			Status:          model.StatusFailed,
			FailureReason:   model.ReasonOrphaned,
			UpdatedAt:       now,
		},
	}

	var buf bytes.Buffer
	formatEntityList(&buf, entities)
	out := buf.String()

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "0f8e3c2a")
	assert.NotContains(t, out, "0f8e3c2a-1111")
	assert.Contains(t, out, "Trattoria Roma")
	// Falls back to the place id when the name is not yet known.
	assert.Contains(t, out, "ChIJ-two")
	assert.Contains(t, out, "failed (orphaned)")
	assert.Contains(t, out, "2026-03-01 12:00")
}

func TestFormatEntity_StepTable(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(95 * time.Second)
	score := 72.5
	e := &model.Entity{
		ID:              "e-1",
		Type:            model.EntityRestaurant,
		ExternalPlaceID: "ChIJ-one",
		Status:          model.StatusCompleted,
		Version:         4,
		StartedAt:       &start,
		FinishedAt:      &end,
		Fields:          model.Fields{Name: "Trattoria Roma", Score: &score},
		Progress: model.Progress{
			"provider_fetch": {Status: model.StepCompleted, Metrics: &model.StepMetrics{CostUSD: 0.049, Attempts: 1}},
			"web_research": {
				Status:  model.StepFailed,
				Error:   &model.StepError{Kind: model.KindTransient, Message: "upstream 503"},
				Metrics: &model.StepMetrics{Attempts: 3},
			},
			"old_step": {Status: model.StepCompleted, Legacy: true},
		},
	}

	var buf bytes.Buffer
	formatEntity(&buf, e, []string{"provider_fetch", "web_scrape", "web_research"})
	out := buf.String()

	assert.Contains(t, out, "Trattoria Roma")
	assert.Contains(t, out, "Score:       72.5")
	assert.Contains(t, out, "Duration:    1m35s")
	assert.Contains(t, out, "transient: upstream 503")
	assert.Contains(t, out, "completed (legacy)")
	assert.Contains(t, out, "Total cost: $0.0490")

	// Registry order first, missing steps shown as pending, unknown steps last.
	fetch := strings.Index(out, "provider_fetch")
	scrape := strings.Index(out, "web_scrape")
	research := strings.Index(out, "web_research")
	legacy := strings.Index(out, "old_step")
	assert.True(t, fetch < scrape && scrape < research && research < legacy)
	assert.Contains(t, out[scrape:research], "pending")
}

func TestFormatBulkSummary(t *testing.T) {
	sum := &bulk.Summary{
		Total:      3,
		Accepted:   1,
		Conflicts:  1,
		Invalid:    1,
		EstCostUSD: 0.25,
		Results: []bulk.Result{
			{Row: 2, ExternalPlaceID: "a", Outcome: bulk.OutcomeAccepted, EntityID: "abcdef0123456789"},
			{Row: 3, ExternalPlaceID: "b", Outcome: bulk.OutcomeConflict, Error: "already in progress"},
			{Row: 4, ExternalPlaceID: "", Outcome: bulk.OutcomeInvalid, Error: "external_place_id is required"},
		},
		Interrupted: true,
	}

	var buf bytes.Buffer
	formatBulkSummary(&buf, sum)
	out := buf.String()

	assert.Contains(t, out, "abcdef01")
	assert.Contains(t, out, "already in progress")
	assert.Contains(t, out, "3 items: 1 accepted, 1 conflicts, 1 invalid, 0 errors (est. $0.25)")
	assert.Contains(t, out, "interrupted")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("1234567890"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}
