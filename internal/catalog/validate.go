package catalog

import (
	"fmt"
	"strings"

	"github.com/xtding233/loot-roller/internal/gacha"
)

// ValidateCatalog checks semantic constraints of a RawCatalog.
func ValidateCatalog(cfg RawCatalog) error {
	var errs []string

	ranks := make(map[string]bool, len(cfg.Rarities))
	for i, r := range cfg.Rarities {
		if r.ID == "" {
			errs = append(errs, fmt.Sprintf("rarities[%d].id is required", i))
			continue
		}
		if ranks[r.ID] {
			errs = append(errs, fmt.Sprintf("rarities[%d]: duplicate id %q", i, r.ID))
		}
		ranks[r.ID] = true
		if r.Rank < 1 {
			errs = append(errs, fmt.Sprintf("rarities[%d].rank must be >= 1", i))
		}
	}

	names := make(map[string]bool, len(cfg.Items))
	for i, it := range cfg.Items {
		if it.Name == "" {
			errs = append(errs, fmt.Sprintf("items[%d].name is required", i))
			continue
		}
		if names[it.Name] {
			errs = append(errs, fmt.Sprintf("items[%d]: duplicate name %q", i, it.Name))
		}
		names[it.Name] = true
		if it.Rarity != "" && !ranks[it.Rarity] {
			errs = append(errs, fmt.Sprintf("items[%d].rarity %q is not a known rarity", i, it.Rarity))
		}
		if err := gacha.ValidateWeight(it.Weight); err != nil {
			errs = append(errs, fmt.Sprintf("items[%d].weight: %v", i, err))
		}
		if it.Odds < 0 {
			errs = append(errs, fmt.Sprintf("items[%d].odds must be >= 0", i))
		}
		if it.Stats != nil && (it.Stats.Min <= 0 || it.Stats.Max < it.Stats.Min) {
			errs = append(errs, fmt.Sprintf("items[%d].stats must satisfy 0 < min <= max", i))
		}
	}

	for id, v := range cfg.Environments {
		if !(v > 0) {
			errs = append(errs, fmt.Sprintf("environments.%s must be > 0", id))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("catalog validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateCrate checks semantic constraints of a merged RawCrate.
func ValidateCrate(cfg RawCrate) error {
	var errs []string

	if cfg.Luck != nil && *cfg.Luck <= 0 {
		errs = append(errs, "luck must be > 0")
	}
	for rank, m := range cfg.RankMultipliers {
		if rank < 1 {
			errs = append(errs, fmt.Sprintf("rank_multipliers: rank %d must be >= 1", rank))
		}
		if !(m > 0) {
			errs = append(errs, fmt.Sprintf("rank_multipliers.%d must be > 0", rank))
		}
	}
	if _, err := gacha.NewRules(cfg.Pity); err != nil {
		errs = append(errs, "pity: "+err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("crate validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
