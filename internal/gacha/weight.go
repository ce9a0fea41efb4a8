package gacha

import "math"

// WeightParams holds the tunables of weight composition.
type WeightParams struct {
	LuckExponentPerRank float64 // luck power gained per rank above 1
	BoostMin            float64 // lower clamp of the luck boost
	BoostMax            float64 // upper clamp of the luck boost
	WeightMin           float64 // floor for any live (base > 0) item
	LuckMin             float64 // clamp applied to incoming effective luck
	LuckMax             float64
}

// DefaultWeightParams returns the production defaults.
func DefaultWeightParams() WeightParams {
	return WeightParams{
		LuckExponentPerRank: 0.35,
		BoostMin:            0.90,
		BoostMax:            7.50,
		WeightMin:           1e-12,
		LuckMin:             0,
		LuckMax:             1000,
	}
}

// CrateModifiers are the crate-specific factors resolved for one item rank.
// Zero values mean "unspecified" and behave as 1.
type CrateModifiers struct {
	Luck           float64
	RankMultiplier float64
}

// Compose returns the final weight of an item.
//
// The result is 0 when baseWeight <= 0, otherwise it is at least WeightMin.
// Rank 1 items ignore luck entirely; higher ranks gain
// effectiveLuck^((rank-1)*LuckExponentPerRank), clamped to [BoostMin, BoostMax].
func (p WeightParams) Compose(baseWeight float64, rank int, crate CrateModifiers, effectiveLuck, pityMultiplier float64) float64 {
	if !(baseWeight > 0) {
		return 0
	}

	crateLuck := orOne(crate.Luck)
	rankMult := orOne(crate.RankMultiplier)
	if !(pityMultiplier > 0) || math.IsInf(pityMultiplier, 0) {
		pityMultiplier = 1
	}

	luck := math.Max(1, p.clampLuck(effectiveLuck)*math.Max(1, crateLuck))

	boost := 1.0
	power := math.Max(0, float64(rank-1)) * p.LuckExponentPerRank
	if power > 0 {
		boost = clamp(math.Pow(luck, power), p.BoostMin, p.BoostMax)
	}

	w := baseWeight * rankMult * boost * pityMultiplier
	if math.IsNaN(w) || w < p.WeightMin {
		return p.WeightMin
	}
	return w
}

func (p WeightParams) clampLuck(l float64) float64 {
	if math.IsNaN(l) {
		return 1
	}
	hi := p.LuckMax
	if hi <= 0 {
		hi = math.MaxFloat64
	}
	return clamp(l, p.LuckMin, hi)
}

func orOne(v float64) float64 {
	if !(v > 0) || math.IsInf(v, 0) {
		return 1
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
