// Package randutil derives reproducible random sources for shoes and rooms.
package randutil

import (
	rand "math/rand/v2"
	"sync"
	"time"
)

const (
	goldenRatio64 = 0x9e3779b97f4a7c15
)

// New returns a *rand.Rand seeded deterministically from the provided int64.
// The helper centralises how we derive the two 64-bit seeds required by rand/v2
// so that all call sites get reproducible sequences.
func New(seed int64) *rand.Rand {
	u := uint64(seed)
	return rand.New(rand.NewPCG(mix(u), mix(u+goldenRatio64)))
}

// Source hands out independent child generators, one per room, from a single
// root seed. Rooms are created concurrently, so access is serialized.
type Source struct {
	mu   sync.Mutex
	seed int64
	root *rand.Rand
}

// NewSource creates a Source. A zero seed means "seed from the wall clock".
func NewSource(seed int64) *Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Source{seed: seed, root: New(seed)}
}

// Seed returns the root seed, for logging so a run can be replayed.
func (s *Source) Seed() int64 {
	return s.seed
}

// Child returns a new generator whose sequence depends only on the root seed
// and the number of children handed out before it.
func (s *Source) Child() *rand.Rand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return New(s.root.Int64())
}

func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
