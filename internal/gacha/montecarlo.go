package gacha

import (
	"errors"
	"math"
	"sort"
)

// ErrUnreachable is returned when a dry-streak trial never reaches its target rank.
var ErrUnreachable = errors.New("target rank unreachable within draw limit")

// SimItem is one pool entry as seen by the simulator.
type SimItem struct {
	Name       string
	Rank       int
	BaseWeight float64
}

// SimParams describes the mechanics for one simulation run.
type SimParams struct {
	Pool   []SimItem
	Weight WeightParams
	Rules  Rules
	Luck   float64                       // effective luck of the simulated player
	Crate  func(rank int) CrateModifiers // optional; nil means no crate modifiers

	TargetRank int // dry-streak goal: draws until a win of rank >= TargetRank
	MaxDraws   int // per-trial cap; <= 0 means 1e6
}

// Stats summarizes simulation results.
type Stats struct {
	Mean   float64
	Var    float64
	StdDev float64
	P50    float64
	P90    float64
	P99    float64
	// Optional: raw samples if caller needs histograms/exports
	Samples []int `json:"-"`
}

// calcStats computes mean/variance/percentiles for integer samples.
func calcStats(xs []int) Stats {
	n := len(xs)
	if n == 0 {
		return Stats{}
	}
	// mean
	var sum float64
	for _, v := range xs {
		sum += float64(v)
	}
	mean := sum / float64(n)

	// variance (population)
	var acc float64
	for _, v := range xs {
		d := float64(v) - mean
		acc += d * d
	}
	variance := acc / float64(n)

	// percentiles
	cp := append([]int(nil), xs...)
	sort.Ints(cp)
	percentile := func(p float64) float64 {
		if n == 1 || p <= 0 {
			return float64(cp[0])
		}
		if p >= 1 {
			return float64(cp[n-1])
		}
		pos := p * float64(n-1)
		i := int(math.Floor(pos))
		f := pos - float64(i)
		if i+1 >= n {
			return float64(cp[i])
		}
		return float64(cp[i])*(1-f) + float64(cp[i+1])*f
	}

	return Stats{
		Mean:    mean,
		Var:     variance,
		StdDev:  math.Sqrt(variance),
		P50:     percentile(0.50),
		P90:     percentile(0.90),
		P99:     percentile(0.99),
		Samples: xs,
	}
}

func (p SimParams) crate(rank int) CrateModifiers {
	if p.Crate == nil {
		return CrateModifiers{}
	}
	return p.Crate(rank)
}

// winner draws one authoritative winner for snap, honoring the hard floor.
func (p SimParams) winner(snap Snapshot, rng RandomSource) (SimItem, bool) {
	eligible := Eligible(p.Pool, func(it SimItem) int { return it.Rank }, p.Rules.HardMinOrder(snap))
	return Draw(eligible, func(it SimItem) float64 {
		return p.Weight.Compose(it.BaseWeight, it.Rank, p.crate(it.Rank), p.Luck, p.Rules.SoftPityMultiplier(it.Rank, snap))
	}, rng)
}

// SimulateWinners runs n consecutive winner draws for a single simulated
// player, carrying pity between draws, and returns wins per item name.
func SimulateWinners(p SimParams, n int, rng RandomSource) map[string]int {
	counts := make(map[string]int, len(p.Pool))
	snap := p.Rules.Fill(nil)
	for i := 0; i < n; i++ {
		it, ok := p.winner(snap, rng)
		if !ok {
			break
		}
		counts[it.Name]++
		snap = ComputeNewPity(snap, it.Rank)
	}
	return counts
}

// simulateOne returns the number of draws until the first win of rank >= TargetRank.
func simulateOne(p SimParams, rng RandomSource) (int, error) {
	limit := p.MaxDraws
	if limit <= 0 {
		limit = 1_000_000
	}
	snap := p.Rules.Fill(nil)
	for draws := 1; draws <= limit; draws++ {
		it, ok := p.winner(snap, rng)
		if !ok {
			return 0, ErrUnreachable
		}
		if it.Rank >= p.TargetRank {
			return draws, nil
		}
		snap = ComputeNewPity(snap, it.Rank)
	}
	return 0, ErrUnreachable
}

// RunMonteCarlo repeats dry-streak trials and returns summary stats.
func RunMonteCarlo(p SimParams, trials int, rng RandomSource) (Stats, error) {
	if trials <= 0 {
		return Stats{}, nil
	}
	if rng == nil {
		rng = DefaultRNG()
	}
	samples := make([]int, trials)
	for i := 0; i < trials; i++ {
		v, err := simulateOne(p, rng)
		if err != nil {
			return Stats{}, err
		}
		samples[i] = v
	}
	return calcStats(samples), nil
}
