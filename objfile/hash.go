package objfile

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
)

// hasher computes the keyed or unkeyed hash used for hash-table
// lookups, selected by the file header's flags.
type hasher interface {
	Hash(b []byte) uint64
}

type keyedSipHasher struct {
	k0, k1 uint64
}

func newSipHasher(key [16]byte) keyedSipHasher {
	return keyedSipHasher{
		k0: binary.LittleEndian.Uint64(key[0:8]),
		k1: binary.LittleEndian.Uint64(key[8:16]),
	}
}

func (h keyedSipHasher) Hash(b []byte) uint64 { return sipHash13(h.k0, h.k1, b) }

type xxh3Hasher struct{}

func (xxh3Hasher) Hash(b []byte) uint64 { return xxh3.Hash(b) }

type xxhash64Hasher struct{}

func (xxhash64Hasher) Hash(b []byte) uint64 { return xxhash.Sum64(b) }

func hasherFor(h *Header) hasher {
	if h.KeyedHash() {
		return newSipHasher(h.HashKey)
	}
	switch h.HashVariant() {
	case HashXXHash64:
		return xxhash64Hasher{}
	default:
		return xxh3Hasher{}
	}
}

// sipHash13 implements SipHash-1-3 (1 compression round, 3 finalization
// rounds) over b with 128-bit key (k0, k1). This variant is not
// provided by any dependency in the module's dependency set; it is
// mandated by the wire format for keyed-hash journal files and is
// small enough to implement directly against the reference algorithm.
func sipHash13(k0, k1 uint64, data []byte) uint64 {
	v0 := k0 ^ 0x736f6d6570736575
	v1 := k1 ^ 0x646f72616e646f6d
	v2 := k0 ^ 0x6c7967656e657261
	v3 := k1 ^ 0x7465646279746573

	round := func() {
		v0 += v1
		v1 = rotl64(v1, 13)
		v1 ^= v0
		v0 = rotl64(v0, 32)
		v2 += v3
		v3 = rotl64(v3, 16)
		v3 ^= v2
		v0 += v3
		v3 = rotl64(v3, 21)
		v3 ^= v0
		v2 += v1
		v1 = rotl64(v1, 17)
		v1 ^= v2
		v2 = rotl64(v2, 32)
	}

	n := len(data)
	end := n - (n % 8)
	var i int
	for i = 0; i < end; i += 8 {
		m := binary.LittleEndian.Uint64(data[i : i+8])
		v3 ^= m
		round() // c = 1 compression round
		v0 ^= m
	}

	var last uint64 = uint64(n&0xff) << 56
	rem := data[end:]
	for j := 0; j < len(rem); j++ {
		last |= uint64(rem[j]) << (8 * uint(j))
	}

	v3 ^= last
	round()
	v0 ^= last

	v2 ^= 0xff
	round() // d = 3 finalization rounds
	round()
	round()

	return v0 ^ v1 ^ v2 ^ v3
}

func rotl64(x uint64, b uint) uint64 {
	return (x << b) | (x >> (64 - b))
}
