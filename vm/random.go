package vm

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/rand/v2"
)

// RandomStream is a deterministic random stream seeded from a string.
// Equal seeds always produce equal streams, which is what makes entity
// behavior reproducible across load/store cycles: the seed round-trips
// through entity metadata.
type RandomStream struct {
	seed string
	rng  *rand.Rand
}

// NewRandomStream creates a stream from a seed string.
func NewRandomStream(seed string) RandomStream {
	h := sha256.Sum256([]byte(seed))
	a := binary.LittleEndian.Uint64(h[0:8])
	b := binary.LittleEndian.Uint64(h[8:16])
	return RandomStream{seed: seed, rng: rand.New(rand.NewPCG(a, b))}
}

// Seed returns the seed string the stream was created from.
func (r *RandomStream) Seed() string {
	return r.seed
}

// Rand returns the next value in [0, 1).
func (r *RandomStream) Rand() float64 {
	return r.rng.Float64()
}

// RandUint64 returns the next raw 64-bit value.
func (r *RandomStream) RandUint64() uint64 {
	return r.rng.Uint64()
}

// RandIntN returns a value in [0, n).
func (r *RandomStream) RandIntN(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.rng.Uint64N(uint64(n)))
}

// CreateOtherStreamStateViaString derives a child seed string from this
// stream's current state and a discriminator, advancing this stream.
// Contained entities get their seeds this way so sibling entities do not
// share streams.
func (r *RandomStream) CreateOtherStreamStateViaString(s string) string {
	var state [8]byte
	binary.LittleEndian.PutUint64(state[:], r.rng.Uint64())
	h := sha256.New()
	h.Write(state[:])
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// CreateOtherStreamViaString derives an independent child stream without
// advancing this one.
func (r *RandomStream) CreateOtherStreamViaString(s string) RandomStream {
	return NewRandomStream(r.seed + "\x00" + s)
}
