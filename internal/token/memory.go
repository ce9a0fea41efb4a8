package token

import (
	"context"
	"sync"
	"time"
)

type tokenKey struct{ player, requestID string }

type entry struct {
	md      Metadata
	expires time.Time
}

// MemoryStore is an in-process token Consumer and Issuer.
type MemoryStore struct {
	mu     sync.Mutex
	now    func() time.Time
	tokens map[tokenKey]entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, tokens: make(map[tokenKey]entry)}
}

func (m *MemoryStore) Issue(_ context.Context, player, requestID string, md Metadata, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{md: md}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.tokens[tokenKey{player, requestID}] = e
	return nil
}

func (m *MemoryStore) Consume(_ context.Context, player, requestID string) (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tokenKey{player, requestID}
	e, ok := m.tokens[k]
	if !ok {
		return Metadata{}, ErrNotFound
	}
	delete(m.tokens, k)
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		return Metadata{}, ErrNotFound
	}
	return e.md, nil
}

// MemorySlots is an in-process Slots implementation.
type MemorySlots struct {
	mu     sync.Mutex
	active map[string]string // player -> requestID
}

func NewMemorySlots() *MemorySlots {
	return &MemorySlots{active: make(map[string]string)}
}

func (s *MemorySlots) Begin(_ context.Context, player, requestID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[player]; busy {
		return false, nil
	}
	s.active[player] = requestID
	return true, nil
}

func (s *MemorySlots) Finish(_ context.Context, player, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[player] == requestID {
		delete(s.active, player)
	}
	return nil
}

// Active reports whether player currently holds a slot.
func (s *MemorySlots) Active(player string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[player]
	return ok
}
