package roll

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xtding233/loot-roller/internal/catalog"
	"github.com/xtding233/loot-roller/internal/gacha"
	"github.com/xtding233/loot-roller/internal/jobs"
	"github.com/xtding233/loot-roller/internal/player"
)

// Instance is one awarded copy of an item.
type Instance struct {
	ID             string    `json:"id"`
	Item           string    `json:"item"`
	Rarity         string    `json:"rarity"`
	StatMultiplier float64   `json:"stat_multiplier"`
	Crate          string    `json:"crate"`
	RolledAt       time.Time `json:"rolled_at"`
}

// Awarder persists won items into the player's inventory and schedules the
// discovery and counter updates.
type Awarder struct {
	players   player.Store
	discovery player.Discovery
	counters  player.Counters
	stats     func(ctx context.Context, name string) catalog.StatRange
	jobs      *jobs.Pool
	rng       gacha.RandomSource
	now       func() time.Time
	log       zerolog.Logger
}

func NewAwarder(players player.Store, discovery player.Discovery, counters player.Counters,
	stats func(ctx context.Context, name string) catalog.StatRange, pool *jobs.Pool,
	rng gacha.RandomSource, now func() time.Time, log zerolog.Logger) *Awarder {
	if now == nil {
		now = time.Now
	}
	return &Awarder{
		players:   players,
		discovery: discovery,
		counters:  counters,
		stats:     stats,
		jobs:      pool,
		rng:       rng,
		now:       now,
		log:       log.With().Str("component", "award").Logger(),
	}
}

// Award creates an instance of it at inventory.<id>. Discovery and the
// global counter run as background jobs and never fail the award.
func (a *Awarder) Award(ctx context.Context, playerID, crate string, it catalog.Item) (Instance, error) {
	r := catalog.StatRange{Min: 1, Max: 1}
	if a.stats != nil {
		r = a.stats(ctx, it.Name)
	}
	inst := Instance{
		ID:             uuid.NewString(),
		Item:           it.Name,
		Rarity:         it.Rarity,
		StatMultiplier: gacha.Between(a.rng, r.Min, r.Max),
		Crate:          crate,
		RolledAt:       a.now().UTC(),
	}
	if err := a.players.SetPath(ctx, playerID, []string{"inventory", inst.ID}, inst); err != nil {
		return Instance{}, fmt.Errorf("store instance: %w", err)
	}

	if a.jobs != nil {
		if a.discovery != nil {
			a.jobs.Go("discovery", func(ctx context.Context) error {
				return a.discovery.MarkDiscovered(ctx, playerID, crate, it.Name)
			})
		}
		if a.counters != nil {
			a.jobs.Go("item_counter", func(ctx context.Context) error {
				return a.counters.Increment(ctx, it.Name, 1)
			})
		}
	}
	return inst, nil
}
