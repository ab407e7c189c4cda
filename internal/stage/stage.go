// Package stage implements the internal-sort, external-merge, and
// radix-split stages: the three record-moving operations the scheduler
// drives over the bucket store.
//
// The interfaces below mirror the root package's Adapter/Presorter/
// Unifier/MonotoneHasher shapes exactly (structurally, not by import) so
// that any xsort.Adapter implementation satisfies them without this
// package needing to import xsort — internal/stage sits below the root
// package in the dependency graph.
package stage

import "io"

// Adapter is the full CCA contract the internal-sort stage needs:
// ordering, key decoding, and in-memory record fetch/store. Reordering
// records requires holding them in memory, so — unlike the root
// package's split between Adapter and the optional Presorter — every
// stage in this package treats record fetch/store as mandatory.
type Adapter[K any] interface {
	Compare(a, b K) int
	ReadKey(r io.Reader) (key K, ok bool, err error)
	WriteRecord(src io.Reader, dst io.Writer, key K) error
	FetchRecord(r io.Reader, key K, limit int) (tail []byte, ok bool, err error)
	StoreRecord(w io.Writer, key K, tail []byte) error
	KeySize() int
}

// Unifier collapses equal-keyed records, in memory (Merge) or streaming
// from two disk-backed sources mid-merge (MergeStreaming).
type Unifier[K any] interface {
	Merge(aKey K, aTail []byte, bKey K, bTail []byte) (key K, tail []byte, ok bool)
	MergeStreaming(src1, src2 io.Reader, dst io.Writer, k1, k2 K) error
}

// Hasher provides a monotone hash over keys, unlocking radix sort and
// radix split.
type Hasher[K any] interface {
	Hash(key K) uint64
	HashBits() int
}

// DistinctSink receives a notification for each key the internal-sort
// stage writes out (after unification, when a Unifier is set), including
// keys RunHashSplit passes through; a key that occurs in several batches,
// or repeatedly without a Unifier, is reported each time. It is a generic
// hook any caller can wire a bloom filter, counter, or other key artifact
// into.
type DistinctSink[K any] interface {
	Observe(key K)
}
