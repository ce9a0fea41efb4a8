package gacha

// Draw performs one inverse-CDF weighted draw over pool.
//
// Every weight is computed once. When the total is <= 0 the draw falls back
// to a uniform pick, so a non-empty pool always yields an element. ok is
// false only for an empty pool.
func Draw[T any](pool []T, weight func(T) float64, rng RandomSource) (item T, ok bool) {
	if len(pool) == 0 {
		return item, false
	}
	if rng == nil {
		rng = DefaultRNG()
	}

	ws := make([]float64, len(pool))
	total := 0.0
	for i, it := range pool {
		w := weight(it)
		if !(w > 0) { // NaN and negatives count as 0
			w = 0
		}
		ws[i] = w
		total += w
	}
	if !(total > 0) {
		return Uniform(pool, rng)
	}

	r := rng.Float64() * total
	cum := 0.0
	last := -1
	for i, w := range ws {
		if w == 0 {
			continue
		}
		cum += w
		last = i
		if cum >= r {
			return pool[i], true
		}
	}
	// accumulated sum fell marginally short of r
	return pool[last], true
}

// FillerDraw draws a cosmetic slot using base weights only, so filler
// keeps baseline odds regardless of the player's luck or pity.
func FillerDraw[T any](pool []T, baseWeight func(T) float64, rng RandomSource) (T, bool) {
	return Draw(pool, baseWeight, rng)
}

// Uniform picks any pool element with equal probability.
func Uniform[T any](pool []T, rng RandomSource) (item T, ok bool) {
	if len(pool) == 0 {
		return item, false
	}
	return pool[Intn(rng, len(pool))], true
}
