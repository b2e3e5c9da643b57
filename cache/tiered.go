package cache

import (
	"context"

	"github.com/alitto/pond/v2"

	"github.com/zimgx/zimgx/utils"
)

// Tiered composes a fast L1 over a persistent L2. Reads promote L2 hits into
// L1; writes land in L1 synchronously and are replayed into L2 on a bounded
// worker pool. An L2 write scheduled on the pool has no ordering guarantee
// relative to the response that triggered it.
type Tiered struct {
	l1   Cache
	l2   Cache
	pool pond.Pool
}

// NewTiered builds the composition. workers <= 0 disables the pool and L2
// writes fall back to synchronous.
func NewTiered(l1, l2 Cache, workers int) *Tiered {
	t := &Tiered{l1: l1, l2: l2}
	if workers > 0 {
		t.pool = pond.NewPool(workers)
	}
	return t
}

// Close drains the async write pool.
func (t *Tiered) Close() {
	if t.pool != nil {
		t.pool.StopAndWait()
	}
}

func (t *Tiered) Get(ctx context.Context, key string) (*Entry, bool) {
	if e, ok := t.l1.Get(ctx, key); ok {
		return e, true
	}
	e, ok := t.l2.Get(ctx, key)
	if !ok {
		return nil, false
	}
	t.l1.Put(ctx, key, e)
	return e, true
}

func (t *Tiered) Put(ctx context.Context, key string, e *Entry) {
	t.l1.Put(ctx, key, e)

	if t.pool == nil {
		t.l2.Put(ctx, key, e)
		return
	}
	// The worker outlives the request: it must own its copy of the payload,
	// never a caller-owned buffer.
	cp := &Entry{
		Data:        utils.CloneBytes(e.Data),
		ContentType: e.ContentType,
		CreatedAt:   e.CreatedAt,
	}
	k := key
	t.pool.Submit(func() {
		t.l2.Put(context.Background(), k, cp)
	})
}

func (t *Tiered) Delete(ctx context.Context, key string) bool {
	// Both layers must see the delete; never short-circuit.
	l1 := t.l1.Delete(ctx, key)
	l2 := t.l2.Delete(ctx, key)
	return l1 || l2
}

func (t *Tiered) Clear(ctx context.Context) {
	t.l1.Clear(ctx)
	t.l2.Clear(ctx)
}

// Size reports the L1 count; the persistent layer is not trackable.
func (t *Tiered) Size() int { return t.l1.Size() }

var _ Cache = (*Tiered)(nil)
