package xsort

import "io"

// Adapter is the comparator & codec adapter (CCA) the caller supplies to
// Sort. K is the in-memory key type; it should be small and cheap to copy
// (a fixed-size array, a small struct, an integer) since the array sorter
// moves keys by value.
//
// Adapter is the minimum contract every sort needs. Sort also requires
// the adapter to implement Presorter, since the internal-sort stage holds
// full records in memory; there is no sort path that streams each
// record's data tail straight from input to output. Callers that want
// equal keys collapsed implement Unifier; callers whose key carries an order-preserving hash
// implement MonotoneHasher to unlock radix sorting and radix splitting.
type Adapter[K any] interface {
	// Compare returns a negative number, zero, or a positive number as a
	// compares less than, equal to, or greater than b.
	Compare(a, b K) int

	// ReadKey decodes the next key from r and reports whether one was
	// read. A false result with a nil error means clean EOF at a record
	// boundary. A false result with a non-nil error means the stream
	// ended (or failed) mid-record, which Sort reports as
	// KindTruncatedInput. ReadKey must be deterministic: calling it twice
	// on the same bytes must yield the same key.
	ReadKey(r io.Reader) (key K, ok bool, err error)

	// WriteRecord copies the data tail belonging to key — already
	// consumed from src by ReadKey or Presorter.FetchRecord — from src to
	// dst, writing the key's own encoding as well. After WriteRecord
	// returns, src's read position must sit exactly at the start of the
	// next record.
	WriteRecord(src io.Reader, dst io.Writer, key K) error

	// KeySize bounds, in bytes, the encoded size of any key this Adapter
	// produces. It is used only for sort-buffer budgeting; it need not be
	// exact, but must not under-count.
	KeySize() int
}

// Presorter lets the internal-sort stage hold whole records (key + data
// tail) in memory, instead of merely streaming each tail straight through.
// Sort requires every adapter to implement it and rejects one that does
// not with KindConfigInvalid.
type Presorter[K any] interface {
	Adapter[K]

	// FetchRecord reads the data tail immediately following key (already
	// consumed by ReadKey) into memory, up to limit bytes. It returns the
	// tail bytes and true on success, or ok=false if the tail does not
	// fit in limit bytes — the caller then falls back to streaming the
	// oversized record straight through instead of buffering it.
	FetchRecord(r io.Reader, key K, limit int) (tail []byte, ok bool, err error)

	// StoreRecord writes a fully in-memory record (key + tail, both
	// already held by the caller) to w.
	StoreRecord(w io.Writer, key K, tail []byte) error
}

// Unifier lets the sorter collapse records with equal keys, either from an
// in-memory batch (Merge, used by the internal-sort stage) or across two
// disk-backed streams mid-merge (MergeStreaming, used by every
// external-merge pass when the adapter implements Unifier).
type Unifier[K any] interface {
	// Merge is called on two in-memory records with equal keys. It
	// returns the surviving record (key + tail) and true, or ok=false to
	// drop both records entirely.
	Merge(aKey K, aTail []byte, bKey K, bTail []byte) (key K, tail []byte, ok bool)

	// MergeStreaming is the streaming equivalent, invoked during external
	// merge for equal-keyed records still on disk. src1 and src2 are
	// positioned immediately after k1 and k2 respectively; MergeStreaming
	// must consume exactly one record's worth of tail from each and write
	// the consolidated record (key + tail) to dst.
	MergeStreaming(src1, src2 io.Reader, dst io.Writer, k1, k2 K) error
}

// DistinctSink receives a notification for each key the internal-sort
// stage writes out (after unification, when the adapter implements
// Unifier), including keys an inline hash split passes through; a key
// that occurs in several batches, or repeatedly without a Unifier, is
// reported each time (see BloomFilter,
// which implements this to build a set-membership artifact alongside the
// sort rather than in a separate pass).
type DistinctSink[K any] interface {
	Observe(key K)
}

// MonotoneHasher provides a hash function over keys that preserves key
// order: k1 < k2 implies Hash(k1) <= Hash(k2). This unlocks radix sorting
// in the array sorter and radix splitting in the scheduler. A hash that is
// not order-preserving will silently corrupt the sort if used here.
type MonotoneHasher[K any] interface {
	// Hash returns a value in [0, 2^HashBits()).
	Hash(key K) uint64
	// HashBits reports the fixed width H of the hash codomain.
	HashBits() int
}
