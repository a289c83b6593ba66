// Package fetcher downloads binary media (entity photos) over HTTP with
// per-host rate limiting.
package fetcher

import (
	"context"
	"fmt"
)

// Fetcher downloads a single object.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Object, error)
}

// Object is a downloaded body with its declared content type.
type Object struct {
	Body        []byte
	ContentType string
}

// StatusError is returned for non-200 responses after retries.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetcher: unexpected status %d from %s", e.StatusCode, e.URL)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }
