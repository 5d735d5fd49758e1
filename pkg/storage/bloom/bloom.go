// Package bloom implements a fixed-size Bloom filter seeded by xxhash,
// used by each immutable CSR segment to short-circuit point lookups for
// keys it cannot possibly contain (spec.md §4.4, §4.5) without a
// row_ptr binary search.
//
// This mirrors the per-SSTable bloom filter guycipher/k4 builds while
// flushing a memtable (one filter holding every key about to be
// written, serialized alongside the table) — here the filter is built
// once per segment instead of per SSTable and is seeded with xxhash
// instead of a bespoke hash.
package bloom

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Filter is a fixed-bit-array Bloom filter with k independent hash
// probes derived from two xxhash digests via Kirsch-Mitzenmacher double
// hashing, avoiding k separate hash computations per key.
type Filter struct {
	bits []uint64
	m    uint64 // number of bits
	k    uint32 // number of hash probes
}

// New sizes a filter for n expected entries at the given false-positive
// rate p (0 < p < 1), using the standard optimal-m/optimal-k formulas.
func New(n int, p float64) *Filter {
	if n <= 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m := optimalBits(n, p)
	k := optimalHashes(m, n)
	words := (m + 63) / 64
	return &Filter{bits: make([]uint64, words), m: uint64(words * 64), k: k}
}

func optimalBits(n int, p float64) int {
	m := -1 * float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	if m < 64 {
		m = 64
	}
	return int(math.Ceil(m))
}

func optimalHashes(m int, n int) uint32 {
	k := float64(m) / float64(n) * math.Ln2
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return uint32(math.Round(k))
}

func (f *Filter) probes(key []byte) (h1, h2 uint64) {
	h1 = xxhash.Sum64(key)
	// Second independent-enough digest: hash the first digest's bytes.
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h1)
	h2 = xxhash.Sum64(buf[:])
	return h1, h2
}

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	h1, h2 := f.probes(key)
	for i := uint32(0); i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.m
		f.bits[bit/64] |= 1 << (bit % 64)
	}
}

// MayContain reports whether key might be present. false is authoritative
// (key is definitely absent); true requires checking the segment.
func (f *Filter) MayContain(key []byte) bool {
	h1, h2 := f.probes(key)
	for i := uint32(0); i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.m
		if f.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Serialize writes the filter to its flat on-disk form: m, k, then the
// bit words, little-endian throughout — stored as a segment footer
// block (spec.md §4.4).
func (f *Filter) Serialize() []byte {
	out := make([]byte, 0, 16+len(f.bits)*8)
	out = binary.LittleEndian.AppendUint64(out, f.m)
	out = binary.LittleEndian.AppendUint32(out, f.k)
	out = binary.LittleEndian.AppendUint32(out, 0) // reserved/padding
	for _, w := range f.bits {
		out = binary.LittleEndian.AppendUint64(out, w)
	}
	return out
}

// Deserialize reconstructs a Filter from Serialize's output.
func Deserialize(data []byte) (*Filter, error) {
	if len(data) < 16 {
		return nil, errTruncated("bloom: truncated header")
	}
	m := binary.LittleEndian.Uint64(data)
	k := binary.LittleEndian.Uint32(data[8:])
	data = data[16:]
	words := m / 64
	if uint64(len(data)) < words*8 {
		return nil, errTruncated("bloom: truncated bit array")
	}
	bits := make([]uint64, words)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	return &Filter{bits: bits, m: m, k: k}, nil
}

type errTruncated string

func (e errTruncated) Error() string { return string(e) }
