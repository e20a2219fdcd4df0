// Package engine implements the context-triggered intervention pipeline:
// evaluation, synthesis, timing, validation, delivery coordination,
// effectiveness tracking, and habituation monitoring.
package engine

import (
	"math/rand/v2"
	"time"
)

// Clock abstracts time so evaluation is reproducible in tests.
type Clock interface {
	Now() time.Time
}

// realClock reads the system clock.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewRealClock returns a Clock backed by the system clock.
func NewRealClock() Clock { return realClock{} }

// RNG is the randomness surface the engine needs. *rand.Rand from
// math/rand/v2 satisfies it.
type RNG interface {
	IntN(n int) int
}

// NewDefaultRNG returns a seeded PCG-backed RNG.
func NewDefaultRNG() RNG {
	return rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
}
