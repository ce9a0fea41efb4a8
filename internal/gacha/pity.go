package gacha

import (
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/samber/lo"
)

// Snapshot maps a tracked rarity rank to the number of consecutive rolls
// since the player last won an item at or above that rank.
// A snapshot is read-only while a roll is weighted; use ComputeNewPity to
// derive the next one.
type Snapshot map[int]int

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return maps.Clone(s)
}

// Ranks returns the tracked ranks in ascending order.
func (s Snapshot) Ranks() []int {
	return slices.Sorted(maps.Keys(s))
}

// ComputeNewPity derives the snapshot after a win of wonRank: counters of
// every tracked rank <= wonRank reset to 0, all higher ranks grow by one.
func ComputeNewPity(old Snapshot, wonRank int) Snapshot {
	next := make(Snapshot, len(old))
	for rank, count := range old {
		if rank <= wonRank {
			next[rank] = 0
		} else {
			next[rank] = count + 1
		}
	}
	return next
}

// Rules is the pity configuration of one crate, ordered by rank.
type Rules struct {
	rules []Rule
}

// NewRules validates rules; duplicate ranks are rejected.
func NewRules(rules []Rule) (Rules, error) {
	out := make([]Rule, 0, len(rules))
	seen := make(map[int]bool, len(rules))
	for _, r := range rules {
		if err := r.normalize(); err != nil {
			return Rules{}, err
		}
		if seen[r.Rank] {
			return Rules{}, fmt.Errorf("%w: duplicate rank %d", ErrPityRule, r.Rank)
		}
		seen[r.Rank] = true
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return Rules{rules: out}, nil
}

// Empty reports whether no rank is tracked.
func (r Rules) Empty() bool { return len(r.rules) == 0 }

// Fill returns a copy of snap that tracks every configured rank.
func (r Rules) Fill(snap Snapshot) Snapshot {
	out := snap.Clone()
	for _, rule := range r.rules {
		if _, ok := out[rule.Rank]; !ok {
			out[rule.Rank] = 0
		}
	}
	return out
}

// SoftPityMultiplier returns the multiplier (>= 1) for an item of rank.
// An item of rank R ends the dry streak of every tracked rank <= R, so the
// strongest of those ramps applies.
func (r Rules) SoftPityMultiplier(rank int, snap Snapshot) float64 {
	m := 1.0
	for _, rule := range r.rules {
		if rule.Rank > rank {
			break
		}
		if v := rule.multiplier(snap[rule.Rank]); v > m {
			m = v
		}
	}
	return m
}

// Eligible narrows pool to entries ranked at or above floor. A floor of 0
// or one that no entry reaches leaves the whole pool eligible.
func Eligible[T any](pool []T, rank func(T) int, floor int) []T {
	if floor <= 0 {
		return pool
	}
	if f := lo.Filter(pool, func(e T, _ int) bool { return rank(e) >= floor }); len(f) > 0 {
		return f
	}
	return pool
}

// HardMinOrder returns the highest rank whose hard threshold is reached by
// the upcoming roll, or 0 when no floor applies.
func (r Rules) HardMinOrder(snap Snapshot) int {
	floor := 0
	for _, rule := range r.rules {
		if rule.hard(snap[rule.Rank]) {
			floor = rule.Rank
		}
	}
	return floor
}
