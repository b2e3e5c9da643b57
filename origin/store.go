package origin

import (
	"context"
	"net/http"
	"strings"

	"github.com/zimgx/zimgx/cache"
	apperrors "github.com/zimgx/zimgx/errors"
)

// Store fetches originals from the S3-compatible object store: the request
// path, minus its leading slash, is the object key.
type Store struct {
	store *cache.Store
}

// NewStore wraps the persistent backend pointed at the originals bucket.
func NewStore(store *cache.Store) *Store {
	return &Store{store: store}
}

func (s *Store) Fetch(ctx context.Context, path string) (*Result, error) {
	key := strings.TrimPrefix(path, "/")
	if key == "" {
		return nil, apperrors.New(apperrors.CategoryOrigin, "origin.store", apperrors.ErrNotFound)
	}
	data, ct, err := s.store.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, ContentType: ct, Status: http.StatusOK}, nil
}

var _ Fetcher = (*Store)(nil)
var _ Fetcher = (*HTTP)(nil)
