// Package cache provides the polymorphic variant cache: a no-op backend, an
// in-process byte-budget LRU, a persistent object-store backend, and the
// tiered composition the server actually mounts. Variants compose by
// ownership; there is no subclassing.
package cache

import (
	"context"
	"strings"
	"time"
)

// Entry is one cached payload. Backends own their stored copies; callers
// must not mutate the Data of a returned entry.
type Entry struct {
	Data        []byte
	ContentType string
	CreatedAt   time.Time
}

// Size is the byte cost an entry counts against a budget.
func (e *Entry) Size() int64 {
	return int64(len(e.Data)) + int64(len(e.ContentType))
}

// Cache is the capability set every backend implements.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Put(ctx context.Context, key string, e *Entry)
	Delete(ctx context.Context, key string) bool
	Clear(ctx context.Context)
	Size() int
}

// Key builds the deterministic cache key for a variant.
func Key(originPath, rawTransform, format string) string {
	return originPath + "|" + rawTransform + "|" + format
}

// StoreKey converts a cache key into an object-store key: pipes become
// slashes and runs of slashes collapse.
func StoreKey(key string) string {
	k := strings.ReplaceAll(key, "|", "/")
	for strings.Contains(k, "//") {
		k = strings.ReplaceAll(k, "//", "/")
	}
	return strings.TrimPrefix(k, "/")
}

// NoOp is the disabled-cache backend: all operations are inert.
type NoOp struct{}

func (NoOp) Get(context.Context, string) (*Entry, bool) { return nil, false }
func (NoOp) Put(context.Context, string, *Entry)        {}
func (NoOp) Delete(context.Context, string) bool        { return false }
func (NoOp) Clear(context.Context)                      {}
func (NoOp) Size() int                                  { return 0 }

var _ Cache = NoOp{}
