package xsort

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// u64Adapter is a fixed-width 8-byte-key/8-byte-tail CCA used across this
// file's tests; the tail holds the key again so round-tripped content is
// trivial to assert on.
type u64Adapter struct{}

func (u64Adapter) Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (u64Adapter) ReadKey(r io.Reader) (uint64, bool, error) {
	var buf [8]byte
	_, err := io.ReadFull(r, buf[:])
	if err == io.EOF {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return binary.BigEndian.Uint64(buf[:]), true, nil
}

func (u64Adapter) WriteRecord(src io.Reader, dst io.Writer, key uint64) error {
	var tail [8]byte
	if _, err := io.ReadFull(src, tail[:]); err != nil {
		return err
	}
	var kb [8]byte
	binary.BigEndian.PutUint64(kb[:], key)
	if _, err := dst.Write(kb[:]); err != nil {
		return err
	}
	_, err := dst.Write(tail[:])
	return err
}

func (u64Adapter) FetchRecord(r io.Reader, key uint64, limit int) ([]byte, bool, error) {
	if limit < 8 {
		return nil, false, nil
	}
	tail := make([]byte, 8)
	if _, err := io.ReadFull(r, tail); err != nil {
		return nil, false, err
	}
	return tail, true, nil
}

func (u64Adapter) StoreRecord(w io.Writer, key uint64, tail []byte) error {
	var kb [8]byte
	binary.BigEndian.PutUint64(kb[:], key)
	if _, err := w.Write(kb[:]); err != nil {
		return err
	}
	_, err := w.Write(tail)
	return err
}

func (u64Adapter) KeySize() int { return 8 }

type identityHasher struct{ bits int }

func (h identityHasher) Hash(key uint64) uint64 { return key }
func (h identityHasher) HashBits() int          { return h.bits }

// countingUnifier collapses equal keys by summing an 8-byte big-endian
// count carried in the tail, exercising both Unifier.Merge (in-memory) and
// Unifier.MergeStreaming (disk-backed, mid external-merge).
type countingUnifier struct{ u64Adapter }

func (countingUnifier) Merge(aKey uint64, aTail []byte, bKey uint64, bTail []byte) (uint64, []byte, bool) {
	sum := binary.BigEndian.Uint64(aTail) + binary.BigEndian.Uint64(bTail)
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, sum)
	return aKey, out, true
}

func (c countingUnifier) MergeStreaming(src1, src2 io.Reader, dst io.Writer, k1, k2 uint64) error {
	var t1, t2 [8]byte
	if _, err := io.ReadFull(src1, t1[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(src2, t2[:]); err != nil {
		return err
	}
	sum := binary.BigEndian.Uint64(t1[:]) + binary.BigEndian.Uint64(t2[:])
	var kb, sb [8]byte
	binary.BigEndian.PutUint64(kb[:], k1)
	binary.BigEndian.PutUint64(sb[:], sum)
	if _, err := dst.Write(kb[:]); err != nil {
		return err
	}
	_, err := dst.Write(sb[:])
	return err
}

func encodeRecord(key uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], key)
	binary.BigEndian.PutUint64(buf[8:16], key)
	return buf
}

func decodeRecords(t *testing.T, data []byte) []uint64 {
	t.Helper()
	require.Zero(t, len(data)%16)
	out := make([]uint64, 0, len(data)/16)
	for i := 0; i < len(data); i += 16 {
		out = append(out, binary.BigEndian.Uint64(data[i:i+8]))
	}
	return out
}

func smallSortConfig() Config {
	cfg := Default()
	cfg.SortBufferBytes = 1024 // force multiple internal-sort batches/merges
	cfg.StreamBufferBytes = 512
	cfg.MaxOpenFiles = 16
	return cfg
}

func TestSortProducesAscendingOrder(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	keys := make([]uint64, 5000)
	for i := range keys {
		keys[i] = uint64(r.Intn(1 << 20))
	}

	var in bytes.Buffer
	for _, k := range keys {
		in.Write(encodeRecord(k))
	}
	var out bytes.Buffer

	require.NoError(t, Sort[uint64](&in, &out, u64Adapter{}, smallSortConfig()))

	got := decodeRecords(t, out.Bytes())
	want := append([]uint64(nil), keys...)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sorted output mismatch (-want +got):\n%s", diff)
	}
}

func TestSortIsIdempotentOnAlreadySortedInput(t *testing.T) {
	keys := make([]uint64, 1000)
	for i := range keys {
		keys[i] = uint64(i)
	}
	var in bytes.Buffer
	for _, k := range keys {
		in.Write(encodeRecord(k))
	}
	var out bytes.Buffer

	require.NoError(t, Sort[uint64](&in, &out, u64Adapter{}, smallSortConfig()))
	require.True(t, cmp.Equal(keys, decodeRecords(t, out.Bytes())))
}

func TestSortWithHasherTakesRadixPath(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	keys := make([]uint64, 8000)
	for i := range keys {
		keys[i] = uint64(r.Intn(1 << 20))
	}
	var in bytes.Buffer
	for _, k := range keys {
		in.Write(encodeRecord(k))
	}
	var out bytes.Buffer

	adapter := hashedAdapter{u64Adapter{}, identityHasher{bits: 24}}
	cfg := smallSortConfig()
	cfg.RadixThresholdBytes = 1
	cfg.MinRadixBits = 1
	cfg.MaxRadixBits = 4

	require.NoError(t, Sort[uint64](&in, &out, adapter, cfg))

	got := decodeRecords(t, out.Bytes())
	require.Len(t, got, len(keys))
	require.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }))
}

// hashedAdapter layers MonotoneHasher onto u64Adapter so the optional
// capability is detected by Sort's type assertion.
type hashedAdapter struct {
	u64Adapter
	h identityHasher
}

func (a hashedAdapter) Hash(key uint64) uint64 { return a.h.Hash(key) }
func (a hashedAdapter) HashBits() int          { return a.h.HashBits() }

func TestSortUnifiesDuplicateKeys(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	counts := map[uint64]uint64{}
	var in bytes.Buffer
	for i := 0; i < 3000; i++ {
		k := uint64(r.Intn(200)) // heavy collisions
		var rec [16]byte
		binary.BigEndian.PutUint64(rec[0:8], k)
		binary.BigEndian.PutUint64(rec[8:16], 1)
		in.Write(rec[:])
		counts[k]++
	}
	var out bytes.Buffer

	require.NoError(t, Sort[uint64](&in, &out, countingUnifier{}, smallSortConfig()))

	data := out.Bytes()
	require.Zero(t, len(data)%16)
	got := map[uint64]uint64{}
	var prev uint64
	for i := 0; i < len(data); i += 16 {
		k := binary.BigEndian.Uint64(data[i : i+8])
		v := binary.BigEndian.Uint64(data[i+8 : i+16])
		if i > 0 {
			require.GreaterOrEqual(t, k, prev)
		}
		prev = k
		got[k] = v
	}
	require.Equal(t, counts, got)
}

func TestSortWithBloomDistinctSinkObservesEveryKey(t *testing.T) {
	r := rand.New(rand.NewSource(13))
	keys := make([]uint64, 1500)
	seen := map[uint64]bool{}
	var in bytes.Buffer
	for i := range keys {
		k := uint64(r.Intn(1 << 16))
		keys[i] = k
		seen[k] = true
		in.Write(encodeRecord(k))
	}
	var out bytes.Buffer

	bf := NewBloomFilter(len(seen), 0.01, func(k uint64) []byte {
		var kb [8]byte
		binary.BigEndian.PutUint64(kb[:], k)
		return kb[:]
	})
	adapter := sinkAdapter{u64Adapter{}, bf}

	require.NoError(t, Sort[uint64](&in, &out, adapter, smallSortConfig()))

	for k := range seen {
		require.True(t, bf.MightContain(k), "bloom filter missing observed key %d", k)
	}
}

// sinkAdapter layers DistinctSink onto u64Adapter.
type sinkAdapter struct {
	u64Adapter
	bf *BloomFilter[uint64]
}

func (a sinkAdapter) Observe(key uint64) { a.bf.Observe(key) }

func TestSortRequiresPresorterCapableAdapter(t *testing.T) {
	var notPresorter Adapter[uint64] = minimalAdapter{}
	var in, out bytes.Buffer
	err := Sort[uint64](&in, &out, notPresorter, Default())
	require.Error(t, err)
	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	require.Equal(t, KindConfigInvalid, xerr.Kind)
}

// minimalAdapter implements only Adapter's three methods, deliberately
// omitting FetchRecord/StoreRecord so it does not satisfy Presorter.
type minimalAdapter struct{}

func (minimalAdapter) Compare(a, b uint64) int { return u64Adapter{}.Compare(a, b) }

func (minimalAdapter) ReadKey(r io.Reader) (uint64, bool, error) { return u64Adapter{}.ReadKey(r) }

func (minimalAdapter) WriteRecord(src io.Reader, dst io.Writer, key uint64) error {
	return u64Adapter{}.WriteRecord(src, dst, key)
}

func (minimalAdapter) KeySize() int { return 8 }
