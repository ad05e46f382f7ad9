package core

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
)

// RNG is a small seedable-randomness seam for the gossip engine's peer
// selection and tick jitter, so tests can make them reproducible.
// Push-gossip relay targets are drawn by PeerManager.Sample, which does not
// use this seam.
type RNG interface {
	// Intn returns a pseudo-random number in [0, n).
	Intn(n int) int
	// Shuffle randomizes the order of a slice of length n via swap(i, j).
	Shuffle(n int, swap func(i, j int))
}

// mathRNG wraps *math/rand.Rand to satisfy RNG.
type mathRNG struct {
	r *mrand.Rand
}

// NewRNG returns a deterministic RNG seeded with seed, for reproducible
// tests.
func NewRNG(seed int64) RNG {
	return &mathRNG{r: mrand.New(mrand.NewSource(seed))}
}

// NewSystemRNG returns an RNG seeded from a cryptographically random
// source, for production use.
func NewSystemRNG() RNG {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	seed := int64(binary.LittleEndian.Uint64(buf[:]))
	return NewRNG(seed)
}

func (m *mathRNG) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return m.r.Intn(n)
}

func (m *mathRNG) Shuffle(n int, swap func(i, j int)) {
	m.r.Shuffle(n, swap)
}

// sampleNodeIDs returns up to n distinct elements of ids in random order,
// using rng for both the shuffle and (when n < len(ids)) the truncation.
func sampleNodeIDs(rng RNG, ids []NodeID, n int) []NodeID {
	cp := make([]NodeID, len(ids))
	copy(cp, ids)
	rng.Shuffle(len(cp), func(i, j int) { cp[i], cp[j] = cp[j], cp[i] })
	if n >= 0 && n < len(cp) {
		cp = cp[:n]
	}
	return cp
}
