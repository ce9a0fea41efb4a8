package gacha

import (
	"math"
	"time"
)

// LuckPolicy applies standing luck boosts that belong to the player rather
// than to a single roll. It is the only place such boosts are applied.
type LuckPolicy struct {
	NewAccountBoost  float64       // multiplier for young accounts; <= 1 disables
	NewAccountWindow time.Duration // age under which an account counts as new
}

// ApplyEffectiveLuck multiplies baseLuck by every boost the player qualifies for.
// Non-finite or non-positive base luck is treated as 1.
func (p LuckPolicy) ApplyEffectiveLuck(accountAge time.Duration, baseLuck float64) float64 {
	if !(baseLuck > 0) || math.IsInf(baseLuck, 0) {
		baseLuck = 1
	}
	if p.NewAccountBoost > 1 && p.NewAccountWindow > 0 && accountAge >= 0 && accountAge < p.NewAccountWindow {
		baseLuck *= p.NewAccountBoost
	}
	return baseLuck
}
