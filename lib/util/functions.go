package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/spaolacci/murmur3"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for internal hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// fall back to the clock, only if the system rng is unavailable
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// HashOwner hashes an owner address with a seed.
// Addresses are usually aligned, so the low bits alone would put most owners
// into a few buckets. murmur3 spreads them over the whole 64 bit range.
func HashOwner(owner uintptr, seed uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(owner))
	return murmur3.Sum64WithSeed(b[:], uint32(seed)^uint32(seed>>32))
}

// BucketIndex maps a hash onto a table of 1<<bits buckets.
// The upper bits are used because they are the best mixed ones.
func BucketIndex(hash uint64, bits uint) uint64 {
	if bits == 0 {
		return 0
	}
	return hash >> (64 - bits)
}
