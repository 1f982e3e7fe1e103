package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	mu   sync.Mutex
	item TrackedItem
}

// Memory keeps items in a map guarded by a per-item lock. Contents are lost
// on restart.
type Memory struct {
	mu    sync.RWMutex
	items map[string]*memoryEntry
	now   func() time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]*memoryEntry), now: time.Now}
}

func (m *Memory) entry(id string) (*memoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Register adds a new item for owner.
func (m *Memory) Register(ctx context.Context, owner, url, domain string) (TrackedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := newItem(owner, url, domain, m.now().UTC())
	for _, e := range m.items {
		e.mu.Lock()
		dup := e.item.Owner == owner && e.item.URL == item.URL
		e.mu.Unlock()
		if dup {
			return TrackedItem{}, ErrAlreadyTracked
		}
	}
	m.items[item.ID] = &memoryEntry{item: item}
	return item.clone(), nil
}

// Get returns a copy of the item.
func (m *Memory) Get(ctx context.Context, id string) (TrackedItem, error) {
	e, err := m.entry(id)
	if err != nil {
		return TrackedItem{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.item.clone(), nil
}

// List returns owner's items ordered by creation.
func (m *Memory) List(ctx context.Context, owner string) ([]TrackedItem, error) {
	return m.collect(func(t TrackedItem) bool { return t.Owner == owner }), nil
}

// All returns a snapshot of every item.
func (m *Memory) All(ctx context.Context) ([]TrackedItem, error) {
	return m.collect(func(TrackedItem) bool { return true }), nil
}

func (m *Memory) collect(keep func(TrackedItem) bool) []TrackedItem {
	m.mu.RLock()
	entries := make([]*memoryEntry, 0, len(m.items))
	for _, e := range m.items {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]TrackedItem, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		item := e.item.clone()
		e.mu.Unlock()
		if keep(item) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Remove deletes the item if owner owns it.
func (m *Memory) Remove(ctx context.Context, owner, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	owned := e.item.Owner == owner
	e.mu.Unlock()
	if !owned {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

// UpsertReading applies a successful reading under the item lock.
func (m *Memory) UpsertReading(ctx context.Context, id string, reading PriceReading) (ChangeResult, error) {
	e, err := m.entry(id)
	if err != nil {
		return ChangeResult{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next, res := ApplyReading(e.item, reading)
	e.item = next
	return res, nil
}

// RecordFailure increments the failure counter.
func (m *Memory) RecordFailure(ctx context.Context, id string, at time.Time) (TrackedItem, error) {
	e, err := m.entry(id)
	if err != nil {
		return TrackedItem{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.item = ApplyFailure(e.item, at)
	return e.item.clone(), nil
}

// MarkDegraded flags the item once.
func (m *Memory) MarkDegraded(ctx context.Context, id string) (bool, error) {
	e, err := m.entry(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.item.Degraded {
		return false, nil
	}
	e.item.Degraded = true
	return true, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

var _ ItemStore = (*Memory)(nil)
