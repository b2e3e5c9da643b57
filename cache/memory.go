package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/zimgx/zimgx/utils"
)

// Memory is the in-process L1: a byte-budget LRU. Every Get and Put stamps
// the entry with a monotonically increasing access counter; eviction removes
// the entry with the smallest stamp. An entry larger than the whole budget
// is silently not stored.
//
// All mutating paths take the exclusive lock — Get included, because even a
// read moves the entry in the recency order.
type Memory struct {
	mu        sync.RWMutex
	maxBytes  int64
	usedBytes int64
	clock     uint64
	items     map[string]*list.Element
	order     *list.List // front = most recent, back = least recent
}

type memEntry struct {
	key   string
	entry Entry
	stamp uint64
}

// NewMemory creates a Memory cache with the given byte budget.
func NewMemory(maxBytes int64) *Memory {
	return &Memory{
		maxBytes: maxBytes,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (m *Memory) Get(_ context.Context, key string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return nil, false
	}
	m.clock++
	me := el.Value.(*memEntry)
	me.stamp = m.clock
	m.order.MoveToFront(el)
	return &me.entry, true
}

func (m *Memory) Put(_ context.Context, key string, e *Entry) {
	size := e.Size()

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		old := el.Value.(*memEntry)
		m.usedBytes -= old.entry.Size()
		m.order.Remove(el)
		delete(m.items, key)
	}
	if size > m.maxBytes {
		return
	}
	for m.usedBytes+size > m.maxBytes && m.order.Len() > 0 {
		m.evictOldest()
	}

	m.clock++
	me := &memEntry{
		key: key,
		entry: Entry{
			Data:        utils.CloneBytes(e.Data),
			ContentType: e.ContentType,
			CreatedAt:   e.CreatedAt,
		},
		stamp: m.clock,
	}
	if me.entry.CreatedAt.IsZero() {
		me.entry.CreatedAt = time.Now()
	}
	m.items[key] = m.order.PushFront(me)
	m.usedBytes += size
}

func (m *Memory) Delete(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return false
	}
	m.usedBytes -= el.Value.(*memEntry).entry.Size()
	m.order.Remove(el)
	delete(m.items, key)
	return true
}

func (m *Memory) Clear(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*list.Element)
	m.order.Init()
	m.usedBytes = 0
}

func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// UsedBytes reports the current budget consumption.
func (m *Memory) UsedBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usedBytes
}

func (m *Memory) evictOldest() {
	el := m.order.Back()
	if el == nil {
		return
	}
	me := el.Value.(*memEntry)
	m.usedBytes -= me.entry.Size()
	m.order.Remove(el)
	delete(m.items, me.key)
}

var _ Cache = (*Memory)(nil)
