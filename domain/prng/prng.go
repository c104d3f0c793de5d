// Package prng implements the deterministic, seed-reproducible randomness
// source the rules engine draws dice values from. It is a pure function of
// its seed: two PRNGs constructed with the same seed produce the same
// sequence of values forever, which is what makes action-log replay exact.
package prng

import (
	"fmt"
	"hash/fnv"

	"github.com/lowroll/dicehall/domain/dice"
)

// PRNG is a 32-bit multiply-xor generator of the mulberry32 family, chosen
// for a small, auditable state (a single uint32) and a long-enough period
// for a single dice roll's worth of draws.
type PRNG struct {
	state uint32
}

// New creates a PRNG seeded from an arbitrary string. The string is hashed
// to a uint32 seed with FNV-1a so any seed representation (session ID,
// "{base}-{rollIndex}") is accepted.
func New(seed string) *PRNG {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	s := h.Sum32()
	if s == 0 {
		s = 0x9e3779b9 // avoid a degenerate all-zero state
	}
	return &PRNG{state: s}
}

// RollSeed builds the per-roll seed convention required by spec.md §4.2:
// "{base}-{rollIndex}".
func RollSeed(base string, rollIndex int) string {
	return fmt.Sprintf("%s-%d", base, rollIndex)
}

// NextUint32 advances the generator and returns the next value.
func (p *PRNG) NextUint32() uint32 {
	p.state += 0x6D2B79F5
	x := p.state
	x = (x ^ (x >> 15)) * (x | 1)
	x ^= x + (x^(x>>7))*(x|61)
	return x ^ (x >> 14)
}

// Roll produces a uniformly distributed face value for kind, in [1, maxFace].
func (p *PRNG) Roll(kind dice.Kind) int {
	max := dice.MaxFace(kind)
	if max <= 0 {
		return 0
	}
	return int(p.NextUint32()%uint32(max)) + 1
}

// RollPool assigns a value to every die in pool in order, using one draw
// per die. It does not mutate pool; it returns the rolled dice.
func RollPool(p *PRNG, pool []dice.Die) []dice.Die {
	out := make([]dice.Die, len(pool))
	for i, d := range pool {
		d.Value = p.Roll(d.Kind)
		out[i] = d
	}
	return out
}
