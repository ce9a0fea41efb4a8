// Package player holds the player-record, discovery and global-counter
// collaborators used by the roll service.
package player

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotReady is returned for players whose record is not loaded.
var ErrNotReady = errors.New("player record not ready")

// Record is a loaded player.
type Record struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	Data      map[string]any `json:"data,omitempty"`
}

// AccountAge returns how long ago the account was created; a zero
// CreatedAt counts as an old account.
func (r Record) AccountAge(now time.Time) time.Duration {
	if r.CreatedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(r.CreatedAt)
}

// DisplayName returns Name, or ID when the record has no name.
func (r Record) DisplayName() string {
	if r.Name == "" {
		return r.ID
	}
	return r.Name
}

// Store is the player record store.
type Store interface {
	Ready(ctx context.Context, player string) bool
	Record(ctx context.Context, player string) (Record, error)
	SetPath(ctx context.Context, player string, path []string, value any) error
}

// Discovery marks items as discovered per player and crate.
type Discovery interface {
	MarkDiscovered(ctx context.Context, player, crate, item string) error
}

// Counters keeps global per-item counters.
type Counters interface {
	Increment(ctx context.Context, item string, delta int64) error
}

// setPath writes value at path inside data, creating intermediate maps.
func setPath(data map[string]any, path []string, value any) error {
	if len(path) == 0 {
		return errors.New("empty path")
	}
	cur := data
	for i, key := range path[:len(path)-1] {
		next, ok := cur[key]
		if !ok || next == nil {
			m := make(map[string]any)
			cur[key] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("path %v: element %d is not an object", path, i)
		}
		cur = m
	}
	cur[path[len(path)-1]] = value
	return nil
}
