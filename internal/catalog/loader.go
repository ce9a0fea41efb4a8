package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultCrate is the crate type used when a token does not name one.
const DefaultCrate = "Default"

// Paths helper for catalog/crate files.
type Paths struct {
	BaseDir string // base directory, e.g., /opt/app/catalog
}

func (p Paths) CatalogPath() string {
	return filepath.Join(p.BaseDir, "catalog.yaml")
}
func (p Paths) DefaultCratePath() string {
	return filepath.Join(p.BaseDir, "crates", "default.yaml")
}
func (p Paths) CratePath(crate string) string {
	return filepath.Join(p.BaseDir, "crates", crate+".yaml")
}

// Loader reads YAML files and merges default crate → crate.
type Loader struct {
	paths Paths

	mu      sync.RWMutex
	catalog *RawCatalog
	crates  map[string]RawCrate // key: crate type
}

// NewLoader creates a loader with the given base directory.
func NewLoader(baseDir string) *Loader {
	return &Loader{
		paths:  Paths{BaseDir: baseDir},
		crates: make(map[string]RawCrate),
	}
}

// Paths returns the files the loader reads from.
func (l *Loader) Paths() Paths { return l.paths }

// LoadCatalog reads and validates catalog.yaml. The result is cached until Invalidate.
func (l *Loader) LoadCatalog() (RawCatalog, error) {
	l.mu.RLock()
	if l.catalog != nil {
		cfg := *l.catalog
		l.mu.RUnlock()
		return cfg, nil
	}
	l.mu.RUnlock()

	var cfg RawCatalog
	found, err := readYAML(l.paths.CatalogPath(), &cfg)
	if err != nil {
		return RawCatalog{}, fmt.Errorf("read catalog: %w", err)
	}
	if !found {
		return RawCatalog{}, fmt.Errorf("read catalog: %w", os.ErrNotExist)
	}
	if err := ValidateCatalog(cfg); err != nil {
		return RawCatalog{}, err
	}

	l.mu.Lock()
	l.catalog = &cfg
	l.mu.Unlock()
	return cfg, nil
}

// LoadCrate loads and merges default → crate (crate file optional).
func (l *Loader) LoadCrate(crate string) (RawCrate, error) {
	if crate == "" {
		crate = DefaultCrate
	}
	l.mu.RLock()
	if cfg, ok := l.crates[crate]; ok {
		l.mu.RUnlock()
		return cfg, nil
	}
	l.mu.RUnlock()

	var defCfg, crateCfg RawCrate
	if _, err := readYAML(l.paths.DefaultCratePath(), &defCfg); err != nil {
		return RawCrate{}, fmt.Errorf("read default crate: %w", err)
	}
	if crate != DefaultCrate {
		if _, err := readYAML(l.paths.CratePath(crate), &crateCfg); err != nil {
			return RawCrate{}, fmt.Errorf("read crate %s: %w", crate, err)
		}
	}

	// Merge: default <- crate
	merged := mergeCrate(defCfg, crateCfg)
	if err := ValidateCrate(merged); err != nil {
		return RawCrate{}, fmt.Errorf("crate %s: %w", crate, err)
	}

	l.mu.Lock()
	l.crates[crate] = merged
	l.mu.Unlock()
	return merged, nil
}

// Invalidate clears loader's cache. Call after hot-reload detects changes.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.catalog = nil
	l.crates = make(map[string]RawCrate)
}

// readYAML loads a YAML file into out. Missing files report found=false, no error.
func readYAML(path string, out any) (found bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	return true, nil
}

// mergeCrate performs a deep merge: 'b' overrides 'a' where set.
// Rank multipliers merge per key; a non-empty pity list replaces a's.
func mergeCrate(a, b RawCrate) RawCrate {
	out := a

	if b.Version != "" {
		out.Version = b.Version
	}
	if b.Notes != "" {
		out.Notes = b.Notes
	}
	if b.Luck != nil {
		v := *b.Luck
		out.Luck = &v
	}
	if len(b.RankMultipliers) > 0 {
		m := make(map[int]float64, len(a.RankMultipliers)+len(b.RankMultipliers))
		for k, v := range a.RankMultipliers {
			m[k] = v
		}
		for k, v := range b.RankMultipliers {
			m[k] = v
		}
		out.RankMultipliers = m
	}
	if len(b.Pity) > 0 {
		out.Pity = append(out.Pity[:0:0], b.Pity...)
	}
	return out
}
