// Package progression stores per-player, per-crate pity state.
package progression

import (
	"context"
	"errors"
	"time"

	"github.com/xtding233/loot-roller/internal/gacha"
)

// ErrConflict is returned by Commit when the stored version moved since the
// snapshot the caller based its update on.
var ErrConflict = errors.New("pity version conflict")

// State is a pity snapshot together with the version it was read at.
type State struct {
	Snapshot gacha.Snapshot
	Version  int64
}

// Roll is one resolved roll kept in the player's history.
type Roll struct {
	RequestID string    `json:"request_id"`
	Crate     string    `json:"crate"`
	Item      string    `json:"item"`
	Rank      int       `json:"rank"`
	At        time.Time `json:"at"`
}

// Store persists pity state. Implementations must apply Commit atomically
// per (player, crate) key: a commit against a stale version fails with
// ErrConflict and leaves the stored state untouched.
type Store interface {
	Ensure(ctx context.Context, player, crate string) error
	Snapshot(ctx context.Context, player, crate string) (State, error)
	RecordRoll(ctx context.Context, player string, roll Roll) error
	Commit(ctx context.Context, player, crate string, baseVersion int64, next gacha.Snapshot) (int64, error)
}

// HistoryLimit bounds the roll history kept per player.
const HistoryLimit = 100
