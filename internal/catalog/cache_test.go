package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/xtding233/loot-roller/internal/gacha"
)

var errDown = errors.New("provider down")

type fakeProvider struct {
	mu        sync.Mutex
	listErr   error
	rawErr    error
	items     []Item
	raw       map[string]ItemMeta
	ranks     map[string]int
	weights   map[string]float64
	weightErr error
	calls     map[string]int
}

func (f *fakeProvider) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
}

func (f *fakeProvider) ListItems(context.Context) ([]Item, error) {
	f.count("list")
	if f.listErr != nil {
		return nil, &UnavailableError{Op: "list items", Err: f.listErr}
	}
	return f.items, nil
}

func (f *fakeProvider) RawItems(context.Context) (map[string]ItemMeta, error) {
	f.count("raw")
	if f.rawErr != nil {
		return nil, f.rawErr
	}
	return f.raw, nil
}

func (f *fakeProvider) RarityRank(_ context.Context, rarity string) (int, error) {
	f.count("rank")
	r, ok := f.ranks[rarity]
	if !ok {
		return 0, ErrUnknown
	}
	return r, nil
}

func (f *fakeProvider) BaseWeight(_ context.Context, name string) (float64, error) {
	f.count("weight")
	if f.weightErr != nil {
		return 0, f.weightErr
	}
	return f.weights[name], nil
}

func (f *fakeProvider) StatRange(context.Context, string) (StatRange, error) {
	return StatRange{}, errDown
}

func (f *fakeProvider) OddsDenominator(context.Context, string) (float64, error) {
	return 0, errDown
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestCache(p Provider, crates CrateProvider, clock *fakeClock) *Cache {
	return NewCache(Options{Provider: p, Crates: crates, TTL: time.Minute, Now: clock.now, Logger: zerolog.Nop()})
}

func TestGetPoolSorted(t *testing.T) {
	p := &fakeProvider{
		items: []Item{
			{Name: "b", Rarity: "common"},
			{Name: "z", Rarity: "mythic"},
			{Name: "a", Rarity: "common"},
			{Name: "m", Rarity: "epic"},
			{Name: "c", Rarity: "unknown"},
		},
		ranks: map[string]int{"common": 1, "epic": 5, "mythic": 10},
	}
	c := newTestCache(p, nil, &fakeClock{t: time.Unix(0, 0)})
	pool := c.GetPool(context.Background())
	var names []string
	for _, it := range pool {
		names = append(names, it.Name)
	}
	want := []string{"z", "m", "a", "b", "c"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got order %v want %v", names, want)
		}
	}
	c.GetPool(context.Background())
	if p.calls["list"] != 1 {
		t.Fatalf("pool should be built once, list calls=%d", p.calls["list"])
	}
}

func TestGetPoolFallsBackToRawItems(t *testing.T) {
	p := &fakeProvider{
		listErr: errDown,
		raw: map[string]ItemMeta{
			"gem":    {DisplayName: "Gem", Rarity: "epic"},
			"pebble": {},
		},
		ranks: map[string]int{"epic": 5},
	}
	c := newTestCache(p, nil, &fakeClock{t: time.Unix(0, 0)})
	pool := c.GetPool(context.Background())
	if len(pool) != 2 {
		t.Fatalf("expected 2 items, got %v", pool)
	}
	if pool[0].Name != "gem" || pool[1].Name != "pebble" {
		t.Fatalf("unexpected order %v", pool)
	}
	if pool[1].DisplayName != "pebble" {
		t.Fatalf("missing display name should default to name, got %q", pool[1].DisplayName)
	}
	if got := c.GetRarityRank(context.Background(), pool[1].Rarity); got != 1 {
		t.Fatalf("missing rarity should rank 1, got %d", got)
	}
}

func TestGetPoolUnavailableNotMemoized(t *testing.T) {
	p := &fakeProvider{listErr: errDown, rawErr: errDown}
	c := newTestCache(p, nil, &fakeClock{t: time.Unix(0, 0)})
	if pool := c.GetPool(context.Background()); len(pool) != 0 {
		t.Fatalf("expected empty pool, got %v", pool)
	}
	p.listErr = nil
	p.items = []Item{{Name: "late", Rarity: "common"}}
	if pool := c.GetPool(context.Background()); len(pool) != 1 {
		t.Fatalf("pool should be rebuilt once the provider recovers, got %v", pool)
	}
}

func TestGetPoolConcurrentBuildOnce(t *testing.T) {
	p := &fakeProvider{items: []Item{{Name: "x", Rarity: "common"}}, ranks: map[string]int{"common": 1}}
	c := newTestCache(p, nil, &fakeClock{t: time.Unix(0, 0)})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if len(c.GetPool(context.Background())) != 1 {
				t.Error("unexpected pool")
			}
		}()
	}
	wg.Wait()
	if p.calls["list"] > 2 {
		t.Fatalf("pool rebuilt %d times", p.calls["list"])
	}
}

func TestGetBaseWeightTTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p := &fakeProvider{weights: map[string]float64{"a": 4, "neg": -3}}
	c := newTestCache(p, nil, clock)
	ctx := context.Background()

	if w := c.GetBaseWeight(ctx, "a"); w != 4 {
		t.Fatalf("got %v", w)
	}
	p.weights["a"] = 8
	clock.t = clock.t.Add(30 * time.Second)
	if w := c.GetBaseWeight(ctx, "a"); w != 4 {
		t.Fatalf("cached weight expected before TTL, got %v", w)
	}
	clock.t = clock.t.Add(31 * time.Second)
	if w := c.GetBaseWeight(ctx, "a"); w != 8 {
		t.Fatalf("weight should refresh after TTL, got %v", w)
	}
	if w := c.GetBaseWeight(ctx, "neg"); w != 0 {
		t.Fatalf("non-positive weight should become 0, got %v", w)
	}

	p.weightErr = errDown
	if w := c.GetBaseWeight(ctx, "missing"); w != 0 {
		t.Fatalf("failed lookup should become 0, got %v", w)
	}
}

func TestGetRarityRankMemoized(t *testing.T) {
	p := &fakeProvider{ranks: map[string]int{"epic": 5}}
	c := newTestCache(p, nil, &fakeClock{t: time.Unix(0, 0)})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if r := c.GetRarityRank(ctx, "epic"); r != 5 {
			t.Fatalf("got %d", r)
		}
	}
	if p.calls["rank"] != 1 {
		t.Fatalf("rank should be memoized, calls=%d", p.calls["rank"])
	}
	if r := c.GetRarityRank(ctx, "ghost"); r != 1 {
		t.Fatalf("unknown rarity should be 1, got %d", r)
	}
}

func TestEnvironmentLuckCapability(t *testing.T) {
	// fakeProvider does not implement EnvironmentLuck.
	c := newTestCache(&fakeProvider{}, nil, &fakeClock{t: time.Unix(0, 0)})
	if v := c.EnvironmentLuck(context.Background(), "storm"); v != 1 {
		t.Fatalf("missing capability should be neutral, got %v", v)
	}

	fp := NewFileProvider(NewLoader(writeTestCatalog(t)))
	c = newTestCache(fp, fp, &fakeClock{t: time.Unix(0, 0)})
	if v := c.EnvironmentLuck(context.Background(), "storm"); v != 1.5 {
		t.Fatalf("storm luck should be 1.5, got %v", v)
	}
	if v := c.EnvironmentLuck(context.Background(), "calm"); v != 1 {
		t.Fatalf("unknown environment should be 1, got %v", v)
	}
}

func TestCacheOverFileProvider(t *testing.T) {
	fp := NewFileProvider(NewLoader(writeTestCatalog(t)))
	c := newTestCache(fp, fp, &fakeClock{t: time.Unix(0, 0)})
	ctx := context.Background()

	pool := c.GetPool(ctx)
	if len(pool) != 3 || pool[0].Name != "crown" || pool[2].Name != "stick" {
		t.Fatalf("unexpected pool %v", pool)
	}
	if pool[1].DisplayName != "blade" {
		t.Fatalf("display name should default to name, got %q", pool[1].DisplayName)
	}

	mods := c.CrateModifiers(ctx, "Premium", 10)
	if mods.Luck != 1.5 || mods.RankMultiplier != 2 {
		t.Fatalf("unexpected premium modifiers %+v", mods)
	}
	if mods := c.CrateModifiers(ctx, "Premium", 1); mods.RankMultiplier != 1 {
		t.Fatalf("unspecified rank multiplier should be 1, got %+v", mods)
	}

	rules := c.PityRules(ctx, "Premium")
	if got := rules.HardMinOrder(gacha.Snapshot{10: 79}); got != 10 {
		t.Fatalf("premium pity should floor rank 10 at 80, got %d", got)
	}

	if r := c.StatRange(ctx, "blade"); r.Min != 0.8 || r.Max != 1.2 {
		t.Fatalf("unexpected stat range %+v", r)
	}
	if r := c.StatRange(ctx, "stick"); r.Min != 1 || r.Max != 1 {
		t.Fatalf("default stat range expected, got %+v", r)
	}
	if o := c.OddsDenominator(ctx, "crown"); o != 5000 {
		t.Fatalf("declared odds expected, got %v", o)
	}
	if o := c.OddsDenominator(ctx, "blade"); o != 11 {
		t.Fatalf("derived odds 100/9 rounds to 11, got %v", o)
	}
}

func TestCrateFallbacks(t *testing.T) {
	c := newTestCache(&fakeProvider{}, nil, &fakeClock{t: time.Unix(0, 0)})
	mods := c.CrateModifiers(context.Background(), "Default", 7)
	if mods.Luck != 1 || mods.RankMultiplier != 1 {
		t.Fatalf("missing crate provider should be neutral, got %+v", mods)
	}
	if !c.PityRules(context.Background(), "Default").Empty() {
		t.Fatal("missing crate provider should have no pity rules")
	}
	if r := c.StatRange(context.Background(), "x"); r.Min != 1 || r.Max != 1 {
		t.Fatalf("failed stat lookup should be 1..1, got %+v", r)
	}
}
