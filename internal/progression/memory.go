package progression

import (
	"context"
	"sync"

	"github.com/xtding233/loot-roller/internal/gacha"
)

type key struct{ player, crate string }

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	states  map[key]State
	history map[string][]Roll
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:  make(map[key]State),
		history: make(map[string][]Roll),
	}
}

func (m *MemoryStore) Ensure(_ context.Context, player, crate string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{player, crate}
	if _, ok := m.states[k]; !ok {
		m.states[k] = State{Snapshot: gacha.Snapshot{}}
	}
	return nil
}

func (m *MemoryStore) Snapshot(_ context.Context, player, crate string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[key{player, crate}]
	return State{Snapshot: st.Snapshot.Clone(), Version: st.Version}, nil
}

func (m *MemoryStore) RecordRoll(_ context.Context, player string, roll Roll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := append(m.history[player], roll)
	if len(h) > HistoryLimit {
		h = h[len(h)-HistoryLimit:]
	}
	m.history[player] = h
	return nil
}

func (m *MemoryStore) Commit(_ context.Context, player, crate string, baseVersion int64, next gacha.Snapshot) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{player, crate}
	st := m.states[k]
	if st.Version != baseVersion {
		return st.Version, ErrConflict
	}
	st = State{Snapshot: next.Clone(), Version: baseVersion + 1}
	m.states[k] = st
	return st.Version, nil
}

// History returns the recorded rolls of player, oldest first.
func (m *MemoryStore) History(player string) []Roll {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Roll(nil), m.history[player]...)
}
