// Command simulate runs Monte Carlo trials against a catalog directory and
// prints per-item win rates and dry-streak percentiles for one crate.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"github.com/xtding233/loot-roller/internal/catalog"
	"github.com/xtding233/loot-roller/internal/gacha"
)

func main() {
	dir := flag.String("dir", "configs/catalog", "catalog directory")
	crate := flag.String("crate", catalog.DefaultCrate, "crate type")
	draws := flag.Int("draws", 100000, "winner draws for the win-rate table")
	trials := flag.Int("trials", 10000, "dry-streak trials")
	target := flag.Int("target", 10, "dry-streak target rank")
	luck := flag.Float64("luck", 1, "effective luck of the simulated player")
	seed := flag.Uint64("seed", 0, "RNG seed; 0 uses crypto randomness")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if err := run(*dir, *crate, *draws, *trials, *target, *luck, *seed, log); err != nil {
		log.Fatal().Err(err).Msg("simulation failed")
	}
}

func run(dir, crate string, draws, trials, target int, luck float64, seed uint64, log zerolog.Logger) error {
	ctx := context.Background()
	loader := catalog.NewLoader(dir)
	if _, err := loader.LoadCatalog(); err != nil {
		return err
	}
	provider := catalog.NewFileProvider(loader)
	cache := catalog.NewCache(catalog.Options{Provider: provider, Crates: provider, Logger: log})

	items := cache.GetPool(ctx)
	pool := make([]gacha.SimItem, 0, len(items))
	for _, it := range items {
		pool = append(pool, gacha.SimItem{
			Name:       it.Name,
			Rank:       cache.GetRarityRank(ctx, it.Rarity),
			BaseWeight: cache.GetBaseWeight(ctx, it.Name),
		})
	}

	rng := gacha.DefaultRNG()
	if seed != 0 {
		rng = gacha.NewSeededRNG(seed)
	}
	p := gacha.SimParams{
		Pool:       pool,
		Weight:     gacha.DefaultWeightParams(),
		Rules:      cache.PityRules(ctx, crate),
		Luck:       luck,
		Crate:      func(rank int) gacha.CrateModifiers { return cache.CrateModifiers(ctx, crate, rank) },
		TargetRank: target,
	}

	wins := gacha.SimulateWinners(p, draws, rng)
	sort.SliceStable(pool, func(i, j int) bool { return wins[pool[i].Name] > wins[pool[j].Name] })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "crate %s, %d draws, luck %.2f\n", crate, draws, luck)
	fmt.Fprintln(w, "item\trank\twins\trate\t1 in")
	for _, it := range pool {
		n := wins[it.Name]
		rate := float64(n) / float64(draws)
		oneIn := "-"
		if n > 0 {
			oneIn = fmt.Sprintf("%.1f", 1/rate)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%.5f\t%s\n", it.Name, it.Rank, n, rate, oneIn)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	stats, err := gacha.RunMonteCarlo(p, trials, rng)
	if err != nil {
		return fmt.Errorf("dry streak to rank %d: %w", target, err)
	}
	fmt.Printf("\ndraws until rank >= %d over %d trials: mean %.2f sd %.2f p50 %.0f p90 %.0f p99 %.0f\n",
		target, trials, stats.Mean, stats.StdDev, stats.P50, stats.P90, stats.P99)
	return nil
}
