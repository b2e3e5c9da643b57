package cache_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/zimgx/zimgx/cache"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

// entry builds an Entry whose Size() is exactly n bytes (empty content type).
func entry(t *testing.T, n int) *cache.Entry {
	t.Helper()
	data := make([]byte, n)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	return &cache.Entry{Data: data}
}

// ── Unit tests ────────────────────────────────────────────────────────────────

func TestMemory_PutGet(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemory(1024)

	m.Put(ctx, "k", &cache.Entry{Data: []byte("payload"), ContentType: "image/png"})
	e, ok := m.Get(ctx, "k")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(e.Data) != "payload" || e.ContentType != "image/png" {
		t.Errorf("wrong entry: %+v", e)
	}
	if m.Size() != 1 {
		t.Errorf("Size: got %d, want 1", m.Size())
	}
}

func TestMemory_OwnsCopies(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemory(1024)

	data := []byte("payload")
	m.Put(ctx, "k", &cache.Entry{Data: data})
	data[0] = 'X'

	e, _ := m.Get(ctx, "k")
	if string(e.Data) != "payload" {
		t.Errorf("stored entry shares caller memory: %q", e.Data)
	}
}

func TestMemory_BudgetNeverExceeded(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemory(100)

	for i := 0; i < 50; i++ {
		m.Put(ctx, fmt.Sprintf("k%d", i), entry(t, 30))
		if m.UsedBytes() > 100 {
			t.Fatalf("budget exceeded: %d bytes after put %d", m.UsedBytes(), i)
		}
	}
	if m.Size() != 3 {
		t.Errorf("expected 3 resident entries, got %d", m.Size())
	}
}

func TestMemory_OversizeEntryNotStored(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemory(20)

	m.Put(ctx, "big", entry(t, 21))
	if _, ok := m.Get(ctx, "big"); ok {
		t.Error("oversize entry must not be stored")
	}
	if m.UsedBytes() != 0 {
		t.Errorf("UsedBytes: got %d, want 0", m.UsedBytes())
	}
}

// Seed case: two 6-byte entries in a 20-byte cache; a large put evicts the
// least recently used one and the untouched key misses afterwards.
func TestMemory_EvictsLRU(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemory(20)

	m.Put(ctx, "a", entry(t, 6))
	m.Put(ctx, "b", entry(t, 6))
	// Touch "a" so "b" is the LRU.
	if _, ok := m.Get(ctx, "a"); !ok {
		t.Fatal("expected hit for a")
	}

	m.Put(ctx, "big", entry(t, 12))

	if _, ok := m.Get(ctx, "b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := m.Get(ctx, "a"); !ok {
		t.Error("expected a to survive")
	}
	if _, ok := m.Get(ctx, "big"); !ok {
		t.Error("expected big to be resident")
	}
}

func TestMemory_ReplaceExistingKey(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemory(100)

	m.Put(ctx, "k", entry(t, 60))
	m.Put(ctx, "k", entry(t, 40))

	if m.Size() != 1 {
		t.Errorf("Size: got %d, want 1", m.Size())
	}
	if m.UsedBytes() != 40 {
		t.Errorf("UsedBytes: got %d, want 40", m.UsedBytes())
	}
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemory(100)

	m.Put(ctx, "k", entry(t, 10))
	if !m.Delete(ctx, "k") {
		t.Error("Delete should report true for a resident key")
	}
	if m.Delete(ctx, "k") {
		t.Error("Delete should report false for a missing key")
	}
	if m.UsedBytes() != 0 || m.Size() != 0 {
		t.Errorf("cache not empty after delete: %d bytes, %d entries", m.UsedBytes(), m.Size())
	}
}

func TestMemory_Clear(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemory(100)

	m.Put(ctx, "a", entry(t, 10))
	m.Put(ctx, "b", entry(t, 10))
	m.Clear(ctx)

	if m.Size() != 0 || m.UsedBytes() != 0 {
		t.Errorf("clear left %d entries, %d bytes", m.Size(), m.UsedBytes())
	}
}

func TestMemory_GetRefreshesRecency(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemory(30)

	m.Put(ctx, "a", entry(t, 10))
	m.Put(ctx, "b", entry(t, 10))
	m.Put(ctx, "c", entry(t, 10))

	// "a" is oldest by insertion; reading it makes "b" the eviction victim.
	m.Get(ctx, "a")
	m.Put(ctx, "d", entry(t, 10))

	if _, ok := m.Get(ctx, "b"); ok {
		t.Error("expected b evicted")
	}
	if _, ok := m.Get(ctx, "a"); !ok {
		t.Error("expected a resident")
	}
}
