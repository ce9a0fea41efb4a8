package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/xtding233/loot-roller/internal/gacha"
)

// ErrUnknown is wrapped by lookups for names the provider does not know.
var ErrUnknown = errors.New("unknown catalog entry")

// UnavailableError is the typed result of a failed provider lookup.
// Callers substitute a default when they see it.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("catalog %s unavailable: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func unavailable(op string, err error) error {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}

// Provider is the catalog of items and their static metadata.
type Provider interface {
	ListItems(ctx context.Context) ([]Item, error)
	RawItems(ctx context.Context) (map[string]ItemMeta, error)
	RarityRank(ctx context.Context, rarity string) (int, error)
	BaseWeight(ctx context.Context, name string) (float64, error)
	StatRange(ctx context.Context, name string) (StatRange, error)
	OddsDenominator(ctx context.Context, name string) (float64, error)
}

// CrateProvider exposes per-crate modifiers.
type CrateProvider interface {
	CrateLuck(ctx context.Context, crate string) (float64, error)
	RankMultiplier(ctx context.Context, crate string, rank int) (float64, error)
	PityRules(ctx context.Context, crate string) ([]gacha.Rule, error)
}

// EnvironmentLuck resolves the luck multiplier of an environment id
// (weather, event, zone). Providers that cannot do so simply do not
// implement it.
type EnvironmentLuck interface {
	EnvironmentLuck(ctx context.Context, envID string) (float64, error)
}

// NoEnvironment is the default EnvironmentLuck: every environment is neutral.
type NoEnvironment struct{}

func (NoEnvironment) EnvironmentLuck(context.Context, string) (float64, error) { return 1, nil }

// FileProvider serves Provider, CrateProvider and EnvironmentLuck from YAML files.
type FileProvider struct {
	loader *Loader
}

// NewFileProvider wraps a loader.
func NewFileProvider(l *Loader) *FileProvider {
	return &FileProvider{loader: l}
}

func (p *FileProvider) catalog(op string) (RawCatalog, error) {
	cfg, err := p.loader.LoadCatalog()
	if err != nil {
		return RawCatalog{}, unavailable(op, err)
	}
	return cfg, nil
}

func (p *FileProvider) item(op, name string) (ItemDef, RawCatalog, error) {
	cfg, err := p.catalog(op)
	if err != nil {
		return ItemDef{}, RawCatalog{}, err
	}
	for _, it := range cfg.Items {
		if it.Name == name {
			return it, cfg, nil
		}
	}
	return ItemDef{}, RawCatalog{}, unavailable(op, fmt.Errorf("%w: item %q", ErrUnknown, name))
}

func (p *FileProvider) ListItems(ctx context.Context) ([]Item, error) {
	cfg, err := p.catalog("list items")
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(cfg.Items))
	for _, it := range cfg.Items {
		name := it.DisplayName
		if name == "" {
			name = it.Name
		}
		out = append(out, Item{Name: it.Name, DisplayName: name, Rarity: it.Rarity})
	}
	return out, nil
}

func (p *FileProvider) RawItems(ctx context.Context) (map[string]ItemMeta, error) {
	cfg, err := p.catalog("raw items")
	if err != nil {
		return nil, err
	}
	out := make(map[string]ItemMeta, len(cfg.Items))
	for _, it := range cfg.Items {
		out[it.Name] = ItemMeta{DisplayName: it.DisplayName, Rarity: it.Rarity}
	}
	return out, nil
}

func (p *FileProvider) RarityRank(ctx context.Context, rarity string) (int, error) {
	cfg, err := p.catalog("rarity rank")
	if err != nil {
		return 0, err
	}
	for _, r := range cfg.Rarities {
		if r.ID == rarity {
			return r.Rank, nil
		}
	}
	return 0, unavailable("rarity rank", fmt.Errorf("%w: rarity %q", ErrUnknown, rarity))
}

func (p *FileProvider) BaseWeight(ctx context.Context, name string) (float64, error) {
	it, _, err := p.item("base weight", name)
	if err != nil {
		return 0, err
	}
	return it.Weight, nil
}

func (p *FileProvider) StatRange(ctx context.Context, name string) (StatRange, error) {
	it, _, err := p.item("stat range", name)
	if err != nil {
		return StatRange{}, err
	}
	if it.Stats == nil {
		return StatRange{Min: 1, Max: 1}, nil
	}
	return *it.Stats, nil
}

// OddsDenominator returns the configured "1 in N" odds of an item, or derives
// N from base weights when the item does not declare one.
func (p *FileProvider) OddsDenominator(ctx context.Context, name string) (float64, error) {
	it, cfg, err := p.item("odds", name)
	if err != nil {
		return 0, err
	}
	if it.Odds > 0 {
		return it.Odds, nil
	}
	if it.Weight <= 0 {
		return 0, nil
	}
	total := 0.0
	for _, other := range cfg.Items {
		if other.Weight > 0 {
			total += other.Weight
		}
	}
	return math.Round(total / it.Weight), nil
}

func (p *FileProvider) crate(op, crate string) (RawCrate, error) {
	cfg, err := p.loader.LoadCrate(crate)
	if err != nil {
		return RawCrate{}, unavailable(op, err)
	}
	return cfg, nil
}

func (p *FileProvider) CrateLuck(ctx context.Context, crate string) (float64, error) {
	cfg, err := p.crate("crate luck", crate)
	if err != nil {
		return 0, err
	}
	if cfg.Luck == nil {
		return 1, nil
	}
	return *cfg.Luck, nil
}

func (p *FileProvider) RankMultiplier(ctx context.Context, crate string, rank int) (float64, error) {
	cfg, err := p.crate("rank multiplier", crate)
	if err != nil {
		return 0, err
	}
	if m, ok := cfg.RankMultipliers[rank]; ok {
		return m, nil
	}
	return 1, nil
}

func (p *FileProvider) PityRules(ctx context.Context, crate string) ([]gacha.Rule, error) {
	cfg, err := p.crate("pity rules", crate)
	if err != nil {
		return nil, err
	}
	return cfg.Pity, nil
}

func (p *FileProvider) EnvironmentLuck(ctx context.Context, envID string) (float64, error) {
	cfg, err := p.catalog("environment luck")
	if err != nil {
		return 0, err
	}
	if v, ok := cfg.Environments[envID]; ok {
		return v, nil
	}
	return 1, nil
}
