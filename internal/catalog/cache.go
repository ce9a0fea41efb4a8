package catalog

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"github.com/xtding233/loot-roller/internal/gacha"
	"github.com/xtding233/loot-roller/internal/metrics"
)

// DefaultWeightTTL is how long base weights and crate values stay cached.
const DefaultWeightTTL = 60 * time.Second

// Options configures a Cache.
type Options struct {
	Provider Provider
	Crates   CrateProvider // optional
	TTL      time.Duration // <= 0 means DefaultWeightTTL
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Cache memoizes catalog and crate lookups so a roll never pays provider cost
// per item. Every lookup degrades to a default instead of failing.
//
// The item pool lives for the process; rarity ranks are memoized forever;
// weights, environment luck and crate values share a TTL and are cleared
// wholesale when it elapses.
type Cache struct {
	provider Provider
	crates   CrateProvider
	env      EnvironmentLuck
	now      func() time.Time
	log      zerolog.Logger

	group singleflight.Group

	poolMu sync.RWMutex
	pool   []Item
	loaded bool

	rankMu sync.RWMutex
	ranks  map[string]int

	weights   *ttlMap[string, float64]
	envLuck   *ttlMap[string, float64]
	crateVals *ttlMap[string, float64]
	pity      *ttlMap[string, gacha.Rules]
}

// NewCache builds a cache over o.Provider. If the provider also implements
// EnvironmentLuck it is used for environment lookups; otherwise every
// environment is neutral.
func NewCache(o Options) *Cache {
	ttl := o.TTL
	if ttl <= 0 {
		ttl = DefaultWeightTTL
	}
	now := o.Now
	if now == nil {
		now = time.Now
	}
	var env EnvironmentLuck = NoEnvironment{}
	if e, ok := o.Provider.(EnvironmentLuck); ok {
		env = e
	}
	return &Cache{
		provider:  o.Provider,
		crates:    o.Crates,
		env:       env,
		now:       now,
		log:       o.Logger.With().Str("component", "catalog").Logger(),
		ranks:     make(map[string]int),
		weights:   newTTLMap[string, float64](ttl, now),
		envLuck:   newTTLMap[string, float64](ttl, now),
		crateVals: newTTLMap[string, float64](ttl, now),
		pity:      newTTLMap[string, gacha.Rules](ttl, now),
	}
}

func (c *Cache) fallback(op string, err error) {
	metrics.CatalogFallbacks.WithLabelValues(op).Inc()
	c.log.Warn().Err(err).Str("op", op).Msg("catalog lookup failed, using default")
}

// GetPool returns the full item pool sorted by rarity rank descending, then
// name ascending. The slice is shared and must not be modified.
func (c *Cache) GetPool(ctx context.Context) []Item {
	c.poolMu.RLock()
	if c.loaded {
		pool := c.pool
		c.poolMu.RUnlock()
		return pool
	}
	c.poolMu.RUnlock()

	v, _, _ := c.group.Do("pool", func() (any, error) {
		c.poolMu.RLock()
		if c.loaded {
			defer c.poolMu.RUnlock()
			return c.pool, nil
		}
		c.poolMu.RUnlock()

		pool, ok := c.buildPool(ctx)
		if ok {
			c.poolMu.Lock()
			c.pool, c.loaded = pool, true
			c.poolMu.Unlock()
		}
		return pool, nil
	})
	return v.([]Item)
}

// buildPool lists the catalog, falling back to raw metadata. ok is false when
// neither call succeeded, in which case the empty result is not memoized.
func (c *Cache) buildPool(ctx context.Context) ([]Item, bool) {
	items, err := c.provider.ListItems(ctx)
	if err != nil {
		c.fallback("list items", err)
		raw, rerr := c.provider.RawItems(ctx)
		if rerr != nil {
			c.fallback("raw items", rerr)
			return []Item{}, false
		}
		items = lo.MapToSlice(raw, func(name string, m ItemMeta) Item {
			it := Item{Name: name, DisplayName: m.DisplayName, Rarity: m.Rarity}
			if it.DisplayName == "" {
				it.DisplayName = name
			}
			return it
		})
	}

	ranks := make(map[string]int, len(items))
	for _, it := range items {
		if _, ok := ranks[it.Rarity]; !ok {
			ranks[it.Rarity] = c.GetRarityRank(ctx, it.Rarity)
		}
	}
	out := append([]Item(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := ranks[out[i].Rarity], ranks[out[j].Rarity]
		if ri != rj {
			return ri > rj
		}
		return out[i].Name < out[j].Name
	})
	return out, true
}

// GetRarityRank returns the rank of rarity, or 1 when it cannot be resolved.
// A missing rarity must never abort a roll.
func (c *Cache) GetRarityRank(ctx context.Context, rarity string) int {
	c.rankMu.RLock()
	r, ok := c.ranks[rarity]
	c.rankMu.RUnlock()
	if ok {
		return r
	}
	if rarity == "" {
		return 1
	}

	rank, err := c.provider.RarityRank(ctx, rarity)
	if err != nil {
		c.fallback("rarity rank", err)
		return 1
	}
	if rank < 1 {
		rank = 1
	}
	c.rankMu.Lock()
	c.ranks[rarity] = rank
	c.rankMu.Unlock()
	return rank
}

// GetBaseWeight returns the base weight of name, or 0 when the lookup fails
// or yields a non-positive value.
func (c *Cache) GetBaseWeight(ctx context.Context, name string) float64 {
	if w, ok := c.weights.get(name); ok {
		return w
	}
	w, err := c.provider.BaseWeight(ctx, name)
	if err != nil {
		c.fallback("base weight", err)
		return 0
	}
	if !(w > 0) || math.IsInf(w, 0) {
		w = 0
	}
	c.weights.put(name, w)
	return w
}

// EnvironmentLuck returns the luck multiplier of envID, 1 when unknown.
func (c *Cache) EnvironmentLuck(ctx context.Context, envID string) float64 {
	if envID == "" {
		return 1
	}
	if v, ok := c.envLuck.get(envID); ok {
		return v
	}
	v, err := c.env.EnvironmentLuck(ctx, envID)
	if err != nil {
		c.fallback("environment luck", err)
		return 1
	}
	if !(v > 0) || math.IsInf(v, 0) {
		v = 1
	}
	c.envLuck.put(envID, v)
	return v
}

// CrateModifiers resolves the crate luck and the rank multiplier for rank.
func (c *Cache) CrateModifiers(ctx context.Context, crate string, rank int) gacha.CrateModifiers {
	return gacha.CrateModifiers{
		Luck:           c.crateValue(ctx, "crate luck", crate+"|luck", func() (float64, error) { return c.crates.CrateLuck(ctx, crate) }),
		RankMultiplier: c.crateValue(ctx, "rank multiplier", crate+"|rank|"+strconv.Itoa(rank), func() (float64, error) { return c.crates.RankMultiplier(ctx, crate, rank) }),
	}
}

func (c *Cache) crateValue(ctx context.Context, op, key string, fetch func() (float64, error)) float64 {
	if c.crates == nil {
		return 1
	}
	if v, ok := c.crateVals.get(key); ok {
		return v
	}
	v, err := fetch()
	if err != nil {
		c.fallback(op, err)
		return 1
	}
	if !(v > 0) || math.IsInf(v, 0) {
		v = 1
	}
	c.crateVals.put(key, v)
	return v
}

// PityRules returns the validated pity rules of crate; no rules on failure.
func (c *Cache) PityRules(ctx context.Context, crate string) gacha.Rules {
	if c.crates == nil {
		return gacha.Rules{}
	}
	if r, ok := c.pity.get(crate); ok {
		return r
	}
	raw, err := c.crates.PityRules(ctx, crate)
	if err != nil {
		c.fallback("pity rules", err)
		return gacha.Rules{}
	}
	rules, err := gacha.NewRules(raw)
	if err != nil {
		c.fallback("pity rules", err)
		return gacha.Rules{}
	}
	c.pity.put(crate, rules)
	return rules
}

// StatRange returns the stat multiplier range of name, 1..1 on failure.
func (c *Cache) StatRange(ctx context.Context, name string) StatRange {
	r, err := c.provider.StatRange(ctx, name)
	if err != nil {
		c.fallback("stat range", err)
		return StatRange{Min: 1, Max: 1}
	}
	if !(r.Min > 0) || r.Max < r.Min {
		return StatRange{Min: 1, Max: 1}
	}
	return r
}

// OddsDenominator returns the "1 in N" odds of name, 0 when unknown.
func (c *Cache) OddsDenominator(ctx context.Context, name string) float64 {
	v, err := c.provider.OddsDenominator(ctx, name)
	if err != nil {
		c.fallback("odds", err)
		return 0
	}
	if !(v > 0) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Invalidate drops every TTL-bound value and memoized rank. The item pool is
// kept: it is only rebuilt on restart.
func (c *Cache) Invalidate() {
	c.weights.clear()
	c.envLuck.clear()
	c.crateVals.clear()
	c.pity.clear()
	c.rankMu.Lock()
	c.ranks = make(map[string]int)
	c.rankMu.Unlock()
}

// ttlMap is a map cleared wholesale once its window elapses.
type ttlMap[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	expires time.Time
	m       map[K]V
}

func newTTLMap[K comparable, V any](ttl time.Duration, now func() time.Time) *ttlMap[K, V] {
	return &ttlMap[K, V]{ttl: ttl, now: now, m: make(map[K]V)}
}

// sweep must be called with mu held.
func (t *ttlMap[K, V]) sweep() {
	now := t.now()
	if t.expires.IsZero() || !now.Before(t.expires) {
		if len(t.m) > 0 {
			t.m = make(map[K]V)
		}
		t.expires = now.Add(t.ttl)
	}
}

func (t *ttlMap[K, V]) get(k K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweep()
	v, ok := t.m[k]
	return v, ok
}

func (t *ttlMap[K, V]) put(k K, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweep()
	t.m[k] = v
}

func (t *ttlMap[K, V]) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m = make(map[K]V)
	t.expires = time.Time{}
}
