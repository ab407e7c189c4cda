package xsort

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func u64KeyBytes(k uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], k)
	return b[:]
}

func TestBloomFilterNeverMissesAnObservedKey(t *testing.T) {
	bf := NewBloomFilter[uint64](2000, 0.01, u64KeyBytes)
	for i := uint64(0); i < 2000; i++ {
		bf.Observe(i * 7)
	}
	for i := uint64(0); i < 2000; i++ {
		require.True(t, bf.MightContain(i*7), "missing observed key %d", i*7)
	}
}

func TestBloomFilterFalsePositiveRateIsReasonable(t *testing.T) {
	const n = 5000
	bf := NewBloomFilter[uint64](n, 0.01, u64KeyBytes)
	for i := uint64(0); i < n; i++ {
		bf.Observe(i)
	}

	falsePositives := 0
	const probes = 20000
	for i := uint64(n); i < n+probes; i++ {
		if bf.MightContain(i) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(probes)
	// Configured for 1%; allow generous slack since this is a fixed,
	// non-random probe set rather than a statistical sampling run.
	require.Less(t, rate, 0.05)
}

func TestBloomFilterSerializeRoundTrip(t *testing.T) {
	bf := NewBloomFilter[uint64](500, 0.02, u64KeyBytes)
	for i := uint64(0); i < 500; i++ {
		bf.Observe(i * 3)
	}

	data := bf.Serialize()
	restored, err := DeserializeBloomFilter[uint64](data, u64KeyBytes)
	require.NoError(t, err)

	wantSize, wantHashCount, wantCount := bf.Stats()
	gotSize, gotHashCount, gotCount := restored.Stats()
	require.Equal(t, wantSize, gotSize)
	require.Equal(t, wantHashCount, gotHashCount)
	require.Equal(t, wantCount, gotCount)

	for i := uint64(0); i < 500; i++ {
		require.True(t, restored.MightContain(i*3))
	}
}

func TestDeserializeBloomFilterRejectsShortData(t *testing.T) {
	_, err := DeserializeBloomFilter[uint64](make([]byte, 10), u64KeyBytes)
	require.Error(t, err)
}

func TestBloomFilterStatsReflectsObserveCount(t *testing.T) {
	bf := NewBloomFilter[uint64](100, 0.01, u64KeyBytes)
	for i := uint64(0); i < 42; i++ {
		bf.Observe(i)
	}
	_, _, count := bf.Stats()
	require.Equal(t, 42, count)
}
