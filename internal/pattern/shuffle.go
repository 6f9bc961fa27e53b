package pattern

import (
	"math/bits"
	"math/rand/v2"
)

// Permutation is a seeded bijection on [0, n): i maps to (a*i + b) mod n
// with gcd(a, n) = 1. It is fully determined by n and the seed, so a
// shuffled enumeration resumes at a position rather than a candidate.
type Permutation struct {
	n, a, b uint64
}

// NewPermutation derives the permutation of [0, n) for seed.
func NewPermutation(n, seed uint64) Permutation {
	if n <= 1 {
		return Permutation{n: n, a: 1}
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	a := rng.Uint64N(n-1) + 1
	for gcd(a, n) != 1 {
		a = rng.Uint64N(n-1) + 1
	}
	return Permutation{n: n, a: a, b: rng.Uint64N(n)}
}

// At returns the image of i, which must be below n.
func (p Permutation) At(i uint64) uint64 {
	if p.n <= 1 {
		return 0
	}
	// a, i < n, so the high word of a*i is below n and Div64 cannot panic.
	hi, lo := bits.Mul64(p.a, i)
	_, r := bits.Div64(hi, lo, p.n)
	if r >= p.n-p.b {
		return r - (p.n - p.b)
	}
	return r + p.b
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// NewShuffledGenerator returns a generator that visits every candidate of p
// exactly once in the order fixed by seed, positioned at offset. Ordinals it
// reports are positions in that order.
func NewShuffledGenerator(p *Pattern, offset, seed uint64) (*Generator, error) {
	g, err := NewGenerator(p, offset)
	if err != nil {
		return nil, err
	}
	perm := NewPermutation(p.size, seed)
	g.perm = &perm
	return g, nil
}
