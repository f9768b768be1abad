// Package bloomfilter provides a probabilistic membership filter over int64
// keys, sized by a bits-per-entry budget rather than a target false-positive
// rate. It is a thin adapter over github.com/bits-and-blooms/bloom/v3; the
// hashing scheme itself is treated as a black-box oracle and is never
// reimplemented here.
package bloomfilter

import (
	"encoding/binary"
	"math"

	"github.com/bits-and-blooms/bloom/v3"
)

// Filter is a deterministic (for the lifetime of the process), one-sided-
// error membership set: if IsSet returns false, the key was never Set.
type Filter struct {
	bf *bloom.BloomFilter
}

// New allocates a filter sized for the given entry count at bitsPerEntry
// bits per entry, rounded up to at least one bit.
func New(entries int, bitsPerEntry float64) *Filter {
	m := uint(math.Ceil(float64(entries) * bitsPerEntry))
	if m < 1 {
		m = 1
	}

	k := uint(math.Round(bitsPerEntry * math.Ln2))
	if k < 1 {
		k = 1
	}

	return &Filter{bf: bloom.New(m, k)}
}

// Set records key as a member.
func (f *Filter) Set(key int64) {
	f.bf.Add(keyBytes(key))
}

// IsSet reports whether key may be a member. A false return is conclusive;
// a true return is not.
func (f *Filter) IsSet(key int64) bool {
	return f.bf.Test(keyBytes(key))
}

func keyBytes(key int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(key))
	return b[:]
}
