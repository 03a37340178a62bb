// Package cyclic implements the IPv4 address permutation: a bijection
// over {1,...,2^32-1} built from iterated multiplication in the
// multiplicative group mod p, p = 2^32+15 (the smallest prime above
// 2^32). Every address is visited exactly once before the sequence
// returns to its starting point.
package cyclic

import (
	"fmt"
	"math/bits"

	"github.com/cvsouth/tscan/aesrand"
)

const (
	prime           uint64 = 4294967311 // 2^32 + 15
	knownGenerator  uint64 = 3
	addrSpaceExtent uint64 = 1 << 32
)

// primeFactorsOfPMinus1 is the fixed factorization of p-1.
var primeFactorsOfPMinus1 = [...]uint64{2, 3, 5, 131, 364289}

// Cyclic holds the permutation state: a generator of the group and the
// current position in the sequence.
type Cyclic struct {
	generator uint64
	current   uint64
}

// New builds a fresh Cyclic: draws a starting point and a generator of
// the multiplicative group mod p from an AES-CTR word source keyed per
// seed (0 means OS randomness; see aesrand.NewWordSource).
func New(seed uint64) (*Cyclic, error) {
	words, err := aesrand.NewWordSource(seed)
	if err != nil {
		return nil, fmt.Errorf("cyclic: %w", err)
	}

	current := nextCandidate(words)
	for current == 0 {
		current = nextCandidate(words)
	}

	generator, err := findGenerator(words)
	if err != nil {
		return nil, fmt.Errorf("cyclic: %w", err)
	}

	return &Cyclic{generator: generator, current: current}, nil
}

// NewFrom builds a Cyclic with an explicit (generator, current) pair,
// bypassing the RNG search. Used by tests.
func NewFrom(generator, current uint64) *Cyclic {
	return &Cyclic{generator: generator, current: current}
}

func nextCandidate(words *aesrand.WordSource) uint64 {
	_, lo := words.Next()
	return lo & 0xFFFF
}

// isCoprimeToPMinus1 rejects k that shares a factor with p-1.
func isCoprimeToPMinus1(k uint64) bool {
	for _, f := range primeFactorsOfPMinus1 {
		switch {
		case f == k:
			return false
		case f != 0 && k != 0 && f < k && k%f == 0:
			return false
		case f != 0 && k != 0 && k < f && f%k == 0:
			return false
		}
	}
	return true
}

func findGenerator(words *aesrand.WordSource) (uint64, error) {
	const maxAttempts = 1 << 20
	for attempt := 0; attempt < maxAttempts; attempt++ {
		k := nextCandidate(words)
		if k == 0 || !isCoprimeToPMinus1(k) {
			continue
		}
		g := modpow(knownGenerator, k, prime)
		if g < addrSpaceExtent {
			return g, nil
		}
	}
	return 0, fmt.Errorf("failed to find a generator within %d attempts", maxAttempts)
}

// modpow computes base^exp mod m.
func modpow(base, exp, m uint64) uint64 {
	result := uint64(1)
	base %= m
	for exp > 0 {
		if exp&1 == 1 {
			result = mulmod(result, base, m)
		}
		exp >>= 1
		base = mulmod(base, base, m)
	}
	return result
}

// mulmod computes a*b mod m without overflow: a*b can exceed 2^64 when
// both operands approach p (~2^32), so the 128-bit product is formed
// via math/bits and reduced with a single division.
func mulmod(a, b, m uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	_, rem := bits.Div64(hi, lo, m)
	return rem
}

// NextIP advances the permutation and returns the next address as a
// host-byte-order uint32. 0.0.0.0 is never produced. It panics if no
// value below 2^32 turns up within p steps, which only an invalid
// generator or state can cause.
func (c *Cyclic) NextIP() uint32 {
	for step := uint64(0); step < prime; step++ {
		c.current = mulmod(c.current, c.generator, prime)
		if c.current < addrSpaceExtent {
			return uint32(c.current)
		}
	}
	panic("cyclic: NextIP found no address below 2^32 within p steps; permutation state is invalid")
}

// CurrentIP returns the current position without advancing.
func (c *Cyclic) CurrentIP() uint32 {
	return uint32(c.current)
}

// Generator returns the group generator in use, exposed for tests and
// for NewSharded's coset derivation.
func (c *Cyclic) Generator() uint64 {
	return c.generator
}

// NewSharded builds `threads` independent Cyclic walkers, each owning a
// disjoint coset of the permutation, eliminating the need for a shared
// mutex across sender threads: thread i starts at c0 * g^i
// and steps by g^threads instead of g, so thread i
// visits exactly the addresses congruent to i mod threads in the
// original sequence's order, and the union of all threads' outputs is
// the full permutation partitioned without overlap.
func NewSharded(base *Cyclic, threads int) []*Cyclic {
	if threads <= 1 {
		return []*Cyclic{base}
	}
	stride := modpow(base.generator, uint64(threads), prime)
	out := make([]*Cyclic, threads)
	start := base.current
	for i := 0; i < threads; i++ {
		out[i] = &Cyclic{generator: stride, current: start}
		start = mulmod(start, base.generator, prime)
	}
	return out
}
