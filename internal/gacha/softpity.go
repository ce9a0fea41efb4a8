package gacha

import (
	"errors"
	"fmt"
)

// Easing specifies how the soft-pity multiplier ramps up as we approach hard pity.
type Easing string

const (
	EaseLinear     Easing = "linear"
	EaseOutQuad    Easing = "easeOutQuad"
	EaseInOutCubic Easing = "easeInOutCubic"
)

var ErrPityRule = errors.New("invalid pity rule")

// Rule defines dry-streak tracking for one rarity rank.
// Example: Rank=8, SoftStart=60, HardAt=90, MaxMultiplier=4 → from the 61st dry
// roll the weight of rank>=8 items ramps up to x4 at the 90th roll, and the
// 90th roll is forced to rank >= 8.
type Rule struct {
	Rank          int     `yaml:"rank"`
	SoftStart     int     `yaml:"soft_start"`     // dry count where the ramp begins
	HardAt        int     `yaml:"hard_at"`        // roll number that forces the floor
	MaxMultiplier float64 `yaml:"max_multiplier"` // multiplier reached at HardAt-1; <= 1 disables soft pity
	Easing        Easing  `yaml:"easing,omitempty"`
}

// normalize validates and fills defaults; returns error if invalid.
func (r *Rule) normalize() error {
	if r.Rank < 1 {
		return fmt.Errorf("%w: rank %d must be >= 1", ErrPityRule, r.Rank)
	}
	if r.HardAt <= 1 {
		return fmt.Errorf("%w: rank %d: hard_at must be > 1", ErrPityRule, r.Rank)
	}
	if r.SoftStart < 0 {
		r.SoftStart = 0
	}
	if r.MaxMultiplier == 0 {
		r.MaxMultiplier = 1
	}
	if r.MaxMultiplier < 1 {
		return fmt.Errorf("%w: rank %d: max_multiplier must be >= 1", ErrPityRule, r.Rank)
	}
	// Ramp ends at (HardAt-1). SoftStart must leave room to ramp.
	if r.MaxMultiplier > 1 && r.SoftStart >= r.HardAt-1 {
		return fmt.Errorf("%w: rank %d: soft_start must be < hard_at-1", ErrPityRule, r.Rank)
	}
	switch r.Easing {
	case "":
		r.Easing = EaseLinear
	case EaseLinear, EaseOutQuad, EaseInOutCubic:
	default:
		return fmt.Errorf("%w: rank %d: unknown easing %q", ErrPityRule, r.Rank, r.Easing)
	}
	return nil
}

// multiplier is 1 before SoftStart and ramps to MaxMultiplier at HardAt-1.
// It is non-decreasing in count.
func (r Rule) multiplier(count int) float64 {
	if r.MaxMultiplier <= 1 || count < r.SoftStart {
		return 1
	}
	end := r.HardAt - 1
	length := float64(end - r.SoftStart)
	if length <= 0 {
		return r.MaxMultiplier
	}
	t := clamp(float64(count-r.SoftStart)/length, 0, 1)
	return 1 + (r.MaxMultiplier-1)*ease(r.Easing, t)
}

// hard reports whether the next roll reaches the hard threshold.
func (r Rule) hard(count int) bool {
	return r.HardAt > 0 && count+1 >= r.HardAt
}

// ease maps progress t in [0,1] onto the configured curve.
func ease(e Easing, t float64) float64 {
	switch e {
	case EaseOutQuad:
		// f(t) = 1 - (1 - t)^2
		return 1 - (1-t)*(1-t)
	case EaseInOutCubic:
		// smoother curve: accelerate then decelerate
		if t < 0.5 {
			return 4 * t * t * t
		}
		return 1 - (-2*t+2)*(-2*t+2)*(-2*t+2)/2
	default:
		return t
	}
}
