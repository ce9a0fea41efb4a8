// types.go
package catalog

import "github.com/xtding233/loot-roller/internal/gacha"

// Item is one entry of the reward pool. Immutable once loaded.
type Item struct {
	Name        string `json:"Name"`
	DisplayName string `json:"DisplayName"`
	Rarity      string `json:"Rarity"`
}

// ItemMeta is the raw per-item metadata a provider may expose when its
// bulk listing is unavailable. Empty fields fall back to defaults.
type ItemMeta struct {
	DisplayName string
	Rarity      string
}

// StatRange bounds the stat multiplier rolled for an awarded instance.
type StatRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Raw catalog loaded from catalog.yaml.
type RawCatalog struct {
	Version      string             `yaml:"version"`
	Rarities     []RarityDef        `yaml:"rarities"`
	Items        []ItemDef          `yaml:"items"`
	Environments map[string]float64 `yaml:"environments,omitempty"`
	Notes        string             `yaml:"notes,omitempty"`
}

type RarityDef struct {
	ID   string `yaml:"id"`
	Rank int    `yaml:"rank"`
}

type ItemDef struct {
	Name        string     `yaml:"name"`
	DisplayName string     `yaml:"display_name,omitempty"`
	Rarity      string     `yaml:"rarity"`
	Weight      float64    `yaml:"weight"`
	Odds        float64    `yaml:"odds,omitempty"` // odds denominator; derived when 0
	Stats       *StatRange `yaml:"stats,omitempty"`
}

// Raw crate config loaded from crates/default.yaml and crates/<crate>.yaml.
type RawCrate struct {
	Version         string          `yaml:"version,omitempty"`
	Luck            *float64        `yaml:"luck,omitempty"`
	RankMultipliers map[int]float64 `yaml:"rank_multipliers,omitempty"`
	Pity            []gacha.Rule    `yaml:"pity,omitempty"`
	Notes           string          `yaml:"notes,omitempty"`
}
