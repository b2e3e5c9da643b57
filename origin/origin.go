// Package origin fetches original image bytes from a pluggable upstream:
// a plain HTTP origin or an S3-compatible object store. Both fetchers map
// their failures onto the shared fetch-error taxonomy.
package origin

import "context"

// Result carries the fetched bytes. The caller owns Data.
type Result struct {
	Data        []byte
	ContentType string
	Status      int
}

// Fetcher retrieves the original bytes for a request path.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (*Result, error)
}
