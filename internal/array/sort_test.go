package array

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CZ-NIC/xsort/internal/wp"
)

type intAdapter struct{}

func (intAdapter) Compare(a, b int) int { return a - b }

type monotoneHasher struct{ bits int }

func (h monotoneHasher) Hash(key int) uint64 { return uint64(key) }
func (h monotoneHasher) HashBits() int       { return h.bits }

func makeEntries(n int, seed int64) []Entry[int] {
	r := rand.New(rand.NewSource(seed))
	entries := make([]Entry[int], n)
	for i := range entries {
		v := r.Intn(1 << 20)
		entries[i] = Entry[int]{Key: v, Hash: uint64(v)}
	}
	return entries
}

func isSorted(entries []Entry[int]) bool {
	return sort.SliceIsSorted(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}

func TestQuicksortSortsSmallBatch(t *testing.T) {
	c := &Context[int]{Adapter: intAdapter{}, ElemSize: 16}
	entries := makeEntries(37, 1)
	quicksort(c, entries)
	require.True(t, isSorted(entries))
}

func TestRadixSortMatchesQuicksort(t *testing.T) {
	c := &Context[int]{
		Adapter:             intAdapter{},
		Hasher:              monotoneHasher{bits: 20},
		RadixThresholdBytes: 1,
		RadixBits:           4,
		MinRadixBits:        1,
		MaxRadixBits:        16,
		ElemSize:            16,
	}
	entries := makeEntries(5000, 2)
	dst := make([]Entry[int], len(entries))
	radixSort(c, entries, dst, 20)
	require.True(t, isSorted(dst))
}

func TestSortDispatchesBySize(t *testing.T) {
	c := &Context[int]{
		Adapter:              intAdapter{},
		Hasher:               monotoneHasher{bits: 20},
		RadixThresholdBytes:  1 << 10,
		RadixBits:            4,
		MinRadixBits:         1,
		MaxRadixBits:         16,
		ThreadThresholdBytes: 1 << 20,
		ElemSize:             16,
	}

	small := makeEntries(10, 3)
	Sort(c, small)
	require.True(t, isSorted(small))

	large := makeEntries(20000, 4)
	Sort(c, large)
	require.True(t, isSorted(large))
}

func TestParallelSortMatchesSequential(t *testing.T) {
	pool := wp.New(4)
	defer pool.Close()
	c := &Context[int]{
		Adapter:              intAdapter{},
		Hasher:               monotoneHasher{bits: 20},
		RadixThresholdBytes:  16,
		RadixBits:            4,
		MinRadixBits:         1,
		MaxRadixBits:         16,
		ThreadThresholdBytes: 16,
		ElemSize:             16,
		Pool:                 pool,
	}
	entries := makeEntries(20000, 5)
	Sort(c, entries)
	require.True(t, isSorted(entries))

	c.Hasher = nil // force the parallel-quicksort path
	entries2 := makeEntries(20000, 6)
	Sort(c, entries2)
	require.True(t, isSorted(entries2))
}
