package gacha

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// RandomSource abstract

type RandomSource interface {
	Float64() float64 // [0, 1)
}

// crypto random : default generation method
type cryptoRNG struct{}

func (cryptoRNG) Float64() float64 {
	// Read 53bit random => [0, 1)
	var buf [8]byte
	if _, err := cryptoRand.Read(buf[:]); err != nil {
		// backto math / rand/ v2
		return rand.Float64()
	}

	// max 53
	u := binary.BigEndian.Uint64(buf[:]) >> 11 // 53 bits
	return float64(u) / (1 << 53)
}

func DefaultRNG() RandomSource { return cryptoRNG{} }

// Replicable RNG (e.g. Monte Carlo). Safe for concurrent use so a single
// seeded source can back a whole service in tests.
type seededRNG struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewSeededRNG(seed uint64) RandomSource {
	return &seededRNG{r: rand.New(rand.NewPCG(seed, 0))}
}

func (s *seededRNG) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// Intn returns a uniform index in [0, n) drawn from rng. n must be > 0.
func Intn(rng RandomSource, n int) int {
	if rng == nil {
		rng = DefaultRNG()
	}
	i := int(rng.Float64() * float64(n))
	if i >= n { // Float64 of a misbehaving source
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

// Between returns a uniform real in [lo, hi]. Swapped bounds are tolerated.
func Between(rng RandomSource, lo, hi float64) float64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi == lo {
		return lo
	}
	if rng == nil {
		rng = DefaultRNG()
	}
	return lo + (hi-lo)*rng.Float64()
}
