package gacha

import (
	"errors"
	"math"
)

var ErrInvalidWeight = errors.New("invalid weight; must be finite and >= 0")

// ValidateWeight rejects NaN, infinities and negative weights.
func ValidateWeight(w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return ErrInvalidWeight
	}
	if w < 0 {
		return ErrInvalidWeight
	}
	return nil
}
