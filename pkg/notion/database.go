package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// maxQueryPages caps cursor walks; registry databases hold a few dozen rows.
const maxQueryPages = 50

// QueryAll walks every result page of a database query. filter may be nil.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	req := &notionapi.DatabaseQueryRequest{}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		req.PageSize = filter.PageSize
	}

	var all []notionapi.Page
	for i := 0; i < maxQueryPages; i++ {
		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return nil, eris.Wrapf(err, "notion: query page %d", i+1)
		}
		all = append(all, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			return all, nil
		}
		next := *req
		next.StartCursor = resp.NextCursor
		req = &next
	}
	return nil, eris.Errorf("notion: database %s exceeds %d result pages", dbID, maxQueryPages)
}

// QueryByStatus returns the rows whose Status property equals status.
func QueryByStatus(ctx context.Context, c Client, dbID, status string) ([]notionapi.Page, error) {
	pages, err := QueryAll(ctx, c, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status:   &notionapi.StatusFilterCondition{Equals: status},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query %s rows", status)
	}
	return pages, nil
}
