package player

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore is an in-process Store. Players become ready once loaded.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Load marks rec as ready.
func (m *MemoryStore) Load(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Data == nil {
		rec.Data = make(map[string]any)
	}
	m.records[rec.ID] = &rec
}

// Unload forgets player.
func (m *MemoryStore) Unload(player string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, player)
}

func (m *MemoryStore) Ready(_ context.Context, player string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[player]
	return ok
}

func (m *MemoryStore) Record(_ context.Context, player string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[player]
	if !ok {
		return Record{}, ErrNotReady
	}
	out := *rec
	out.Data = maps.Clone(rec.Data)
	return out, nil
}

func (m *MemoryStore) SetPath(_ context.Context, player string, path []string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[player]
	if !ok {
		return ErrNotReady
	}
	return setPath(rec.Data, path, value)
}

// Get returns the value at path, for inspection.
func (m *MemoryStore) Get(player string, path ...string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[player]
	if !ok {
		return nil, false
	}
	var cur any = rec.Data
	for _, k := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[k]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// MemoryDiscovery is an in-process Discovery.
type MemoryDiscovery struct {
	mu   sync.Mutex
	seen map[[3]string]bool
}

func NewMemoryDiscovery() *MemoryDiscovery {
	return &MemoryDiscovery{seen: make(map[[3]string]bool)}
}

func (d *MemoryDiscovery) MarkDiscovered(_ context.Context, player, crate, item string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[[3]string{player, crate, item}] = true
	return nil
}

// Discovered reports whether player found item in crate.
func (d *MemoryDiscovery) Discovered(player, crate, item string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[[3]string{player, crate, item}]
}

// MemoryCounters is an in-process Counters.
type MemoryCounters struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{counts: make(map[string]int64)}
}

func (c *MemoryCounters) Increment(_ context.Context, item string, delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[item] += delta
	return nil
}

// Count returns the counter of item.
func (c *MemoryCounters) Count(item string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[item]
}
