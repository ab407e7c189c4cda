package xsort

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
)

// BloomFilter is a space-efficient probabilistic set over keys, built
// alongside a sort by wiring it in as a DistinctSink: every key the
// internal-sort stage decides survives unification is Observe'd here, so
// the set is complete once the sort finishes without a second pass over
// the output.
//
// Grounded on common.BloomFilter (entreya-csvquery), generalized from a
// string-keyed filter to any K via a caller-supplied KeyBytes encoding;
// the double-hash (CRC32 of the key, CRC32 of the reversed key plus a
// salt) and bit-array layout are carried over unchanged.
type BloomFilter[K any] struct {
	keyBytes  func(K) []byte
	bits      []byte
	size      int
	hashCount int
	count     int
}

// NewBloomFilter creates a filter sized for n expected elements at the
// given false-positive rate (0.01 = 1%), encoding keys via keyBytes.
func NewBloomFilter[K any](n int, fpRate float64, keyBytes func(K) []byte) *BloomFilter[K] {
	if n < 1 {
		n = 1
	}
	if fpRate <= 0 {
		fpRate = 0.01
	}

	// m = -n * ln(p) / ln(2)^2
	m := int(-float64(n) * math.Log(fpRate) / 0.4804)
	if m < 1024 {
		m = 1024
	}
	m = ((m + 7) / 8) * 8

	// k = (m/n) * ln(2)
	k := int(float64(m) / float64(n) * 0.693)
	if k < 1 {
		k = 1
	}
	if k > 10 {
		k = 10
	}

	return &BloomFilter[K]{
		keyBytes:  keyBytes,
		bits:      make([]byte, m/8),
		size:      m,
		hashCount: k,
	}
}

func (bf *BloomFilter[K]) positions(key K) (h1, h2 uint32) {
	kb := bf.keyBytes(key)
	h1 = crc32.ChecksumIEEE(kb)

	var buf [256]byte
	reversed := appendReversed(buf[:0], kb)
	reversed = append(reversed, "salt"...)
	h2 = crc32.ChecksumIEEE(reversed)
	return h1, h2
}

// Observe adds key to the filter, implementing DistinctSink[K].
func (bf *BloomFilter[K]) Observe(key K) {
	h1, h2 := bf.positions(key)
	for i := 0; i < bf.hashCount; i++ {
		combined := int(h1) + i*int(h2)
		if combined < 0 {
			combined = -combined
		}
		pos := combined % bf.size
		bf.bits[pos/8] |= 1 << uint(pos%8)
	}
	bf.count++
}

// MightContain reports whether key may be in the set: false means
// definitely absent, true means possibly present.
func (bf *BloomFilter[K]) MightContain(key K) bool {
	h1, h2 := bf.positions(key)
	for i := 0; i < bf.hashCount; i++ {
		combined := int(h1) + i*int(h2)
		if combined < 0 {
			combined = -combined
		}
		pos := combined % bf.size
		if bf.bits[pos/8]&(1<<uint(pos%8)) == 0 {
			return false
		}
	}
	return true
}

// Serialize encodes the filter as a 24-byte header (size, hashCount,
// count, all big-endian uint64) followed by the bit array.
func (bf *BloomFilter[K]) Serialize() []byte {
	header := make([]byte, 24)
	binary.BigEndian.PutUint64(header[0:8], uint64(bf.size))
	binary.BigEndian.PutUint64(header[8:16], uint64(bf.hashCount))
	binary.BigEndian.PutUint64(header[16:24], uint64(bf.count))
	return append(header, bf.bits...)
}

// DeserializeBloomFilter reconstructs a filter from Serialize's output.
// keyBytes must match the encoding used when the filter was built.
func DeserializeBloomFilter[K any](data []byte, keyBytes func(K) []byte) (*BloomFilter[K], error) {
	if len(data) < 24 {
		return nil, fmt.Errorf("xsort: bloom filter data too short")
	}
	return &BloomFilter[K]{
		keyBytes:  keyBytes,
		size:      int(binary.BigEndian.Uint64(data[0:8])),
		hashCount: int(binary.BigEndian.Uint64(data[8:16])),
		count:     int(binary.BigEndian.Uint64(data[16:24])),
		bits:      data[24:],
	}, nil
}

// Stats reports the filter's bit-array size, hash count, and number of
// elements added.
func (bf *BloomFilter[K]) Stats() (size, hashCount, count int) {
	return bf.size, bf.hashCount, bf.count
}

func appendReversed(dst, s []byte) []byte {
	start := len(dst)
	dst = append(dst, s...)
	for i, j := start, len(dst)-1; i < j; i, j = i+1, j-1 {
		dst[i], dst[j] = dst[j], dst[i]
	}
	return dst
}
