package notion

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// DuplicateReview describes a probable duplicate for a human to confirm.
type DuplicateReview struct {
	EntityID        string
	EntityType      string
	Name            string
	Locality        string
	ExternalPlaceID string
	CandidateID     string
	CandidateName   string
	Similarity      float64
}

// CreateDuplicateReview adds a Queued row to the review database.
func CreateDuplicateReview(ctx context.Context, c Client, dbID string, r DuplicateReview) (*notionapi.Page, error) {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: reviewProperties(r),
	}
	page, err := c.CreatePage(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: create duplicate review for %s", r.EntityID)
	}
	return page, nil
}

func reviewProperties(r DuplicateReview) notionapi.Properties {
	title := r.Name
	if r.Locality != "" {
		title = fmt.Sprintf("%s (%s)", r.Name, r.Locality)
	}
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(title),
		},
		"EntityID": notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(r.EntityID),
		},
		"Candidate": notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(fmt.Sprintf("%s (%s)", r.CandidateName, r.CandidateID)),
		},
		"PlaceID": notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(r.ExternalPlaceID),
		},
		"Similarity": notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: r.Similarity,
		},
		"Status": notionapi.StatusProperty{
			Type:   notionapi.PropertyTypeStatus,
			Status: notionapi.Status{Name: "Queued"},
		},
	}
	if r.EntityType != "" {
		props["EntityType"] = notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: r.EntityType},
		}
	}
	return props
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: s},
	}}
}
