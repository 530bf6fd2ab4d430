// Package prng provides a splittable random state for reproducible runs.
package prng

import (
	"fmt"
	"math/rand"
)

// RandomState is an immutable seed pair.
// Splitting a state never mutates it; the same state split the same way
// always yields the same children.
type RandomState struct {
	Hi uint64
	Lo uint64
}

// New returns the root state for a seed.
func New(seed int64) RandomState {
	s := uint64(seed)
	return RandomState{Hi: mix(s), Lo: mix(s ^ 0x9e3779b97f4a7c15)}
}

// Split derives n independent child states.
func (r RandomState) Split(n int) []RandomState {
	out := make([]RandomState, n)
	for i := range out {
		out[i] = r.Fold(uint64(i))
	}
	return out
}

// Fold derives a child state keyed by data.
func (r RandomState) Fold(data uint64) RandomState {
	hi := mix(r.Hi ^ mix(data+1))
	lo := mix(r.Lo + hi + data)
	return RandomState{Hi: hi, Lo: lo}
}

// Seed collapses the state into an int64 seed.
func (r RandomState) Seed() int64 {
	return int64(mix(r.Hi ^ r.Lo))
}

// Rand returns a generator seeded from the state.
// Each call returns a fresh generator positioned at the start of the stream.
func (r RandomState) Rand() *rand.Rand {
	return rand.New(rand.NewSource(r.Seed()))
}

func (r RandomState) String() string {
	return fmt.Sprintf("%016x%016x", r.Hi, r.Lo)
}

// mix is the splitmix64 finalizer.
func mix(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
