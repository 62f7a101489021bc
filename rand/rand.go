package rand

import (
	"math"

	"github.com/pkg/errors"
	"github.com/seehuhn/mt19937"
)

// A Generator wraps a Mersenne twister. A Generator is not safe for
// concurrent use: every chain owns its own.
type Generator struct {
	mt       *mt19937.MT19937
	hasSpare bool
	spare    float64
}

// NewGeneratorSlice seeds a new generator from a key using the canonical MT
// initialization by array.
func NewGeneratorSlice(key []uint64) (*Generator, error) {
	if len(key) < 1 {
		return nil, errors.Errorf("Empty seed key for PRNG")
	}

	mt := mt19937.New()
	mt.SeedFromSlice(key)
	return &Generator{mt: mt}, nil
}

// NewChainGenerator returns the generator for one chain of a run. Chains of
// the same run get distinct, reproducible streams.
func NewChainGenerator(seed uint64, chain int) (*Generator, error) {
	if chain < 0 {
		return nil, errors.Errorf("Invalid chain index %d", chain)
	}
	return NewGeneratorSlice([]uint64{seed, uint64(chain)})
}

// Int63 provides the same interface as Go's math/rand
func (g *Generator) Int63() int64 {
	return g.mt.Int63()
}

// Float64 uses the commented, simpler implmentation since we don't have the
// same support requirements for users
func (g *Generator) Float64() float64 {
	// See the Go lang comments for Rand Float64 implementation for details
	return float64(g.Int63()>>10) / (1 << 53)
}

// Uniform returns a value in [lo, hi).
func (g *Generator) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*g.Float64()
}

// NormFloat64 returns a standard normal value (Marsaglia polar method, the
// second value of each pair is kept for the next call).
func (g *Generator) NormFloat64() float64 {
	if g.hasSpare {
		g.hasSpare = false
		return g.spare
	}

	for {
		u := 2*g.Float64() - 1
		v := 2*g.Float64() - 1
		s := u*u + v*v
		if s >= 1 || s == 0 {
			continue
		}

		f := math.Sqrt(-2 * math.Log(s) / s)
		g.spare = v * f
		g.hasSpare = true
		return u * f
	}
}
