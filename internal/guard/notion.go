package guard

import (
	"context"

	"github.com/sells-group/directory-cli/pkg/notion"
)

// NotionQueue posts probable duplicates to a Notion review database.
type NotionQueue struct {
	client notion.Client
	dbID   string
}

// NewNotionQueue creates a review queue backed by the database dbID.
func NewNotionQueue(client notion.Client, dbID string) *NotionQueue {
	return &NotionQueue{client: client, dbID: dbID}
}

// Enqueue implements ReviewQueue.
func (q *NotionQueue) Enqueue(ctx context.Context, p Probe, c Candidate) error {
	_, err := notion.CreateDuplicateReview(ctx, q.client, q.dbID, notion.DuplicateReview{
		EntityID:        p.EntityID,
		EntityType:      string(p.Type),
		Name:            p.Name,
		Locality:        p.Locality,
		ExternalPlaceID: p.ExternalPlaceID,
		CandidateID:     c.EntityID,
		CandidateName:   c.Name,
		Similarity:      c.Similarity,
	})
	return err
}
