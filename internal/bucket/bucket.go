// Package bucket implements the bucket store: the logical container that
// owns a contiguous sub-sequence of records, backed by either a temporary
// file, the caller's input stream, or the caller's output stream.
//
// A bucket's sorted runs are modeled as a list of independently
// compressed segment files — one temp file per run — rather than as
// value-detected boundaries inside a single physical stream: each flushed
// run is already its own temp file, and segment boundaries are run
// boundaries by construction, so no boundary-detection bookkeeping is
// needed when reopening a bucket's runs for a later merge pass. See
// DESIGN.md for the full rationale.
package bucket

import (
	"fmt"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/CZ-NIC/xsort/internal/fastbuf"
	"github.com/CZ-NIC/xsort/internal/metrics"
)

// Kind distinguishes the three ways a bucket's storage can be backed.
type Kind int

const (
	// KindTemp buckets are backed by zero or more on-disk run segments.
	KindTemp Kind = iota
	// KindSource wraps the caller's own input stream. runs is always 0:
	// a source bucket is, by definition, never internally sorted.
	KindSource
	// KindFinal wraps the caller's own output stream. Never unlinked by
	// Drop; holds exactly one run once the sort completes.
	KindFinal
)

// segment is one run: an independently compressed temp file. file is nil
// when the segment's descriptor has been closed (either because the run
// finished writing, or because the store swapped it out under FD
// pressure); it is reopened on demand.
type segment struct {
	path      string
	sizeBytes int64
	checksum  uint64

	file   *fastbuf.File
	pinned bool
	lru    *lruNode
}

// Bucket is one logical, possibly on-disk container for a contiguous
// sub-sequence of records.
type Bucket struct {
	id    uint64
	kind  Kind
	store *Store

	mu       sync.Mutex
	segments []*segment

	sourceStream io.Reader
	finalStream  io.Writer

	// bufBytesOverride, when nonzero, replaces the store's default
	// per-stream buffer size for every run segment this bucket opens.
	// Set by Store.OpenPair so a two-way merge's pair of concurrently
	// open destination buckets together cost no more buffer memory than
	// one ordinary bucket would.
	bufBytesOverride int

	writing *segment

	hashBitsRemaining int
	destroyed         bool
}

// ID returns the bucket's identity, stable for its lifetime.
func (b *Bucket) ID() uint64 { return b.id }

// Kind reports how the bucket is backed.
func (b *Bucket) Kind() Kind { return b.kind }

// Runs reports the number of sorted runs currently held: 0 for an
// unsorted source, 1 for a fully sorted bucket, >1 pending further merge.
func (b *Bucket) Runs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.kind {
	case KindSource:
		return 0
	case KindFinal:
		if len(b.segments) > 0 {
			return 1
		}
		return 0
	default:
		return len(b.segments)
	}
}

// SizeBytes reports the total logical bytes held across all runs.
func (b *Bucket) SizeBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total int64
	for _, seg := range b.segments {
		total += seg.sizeBytes
	}
	return total
}

// HashBitsRemaining reports how many bits of a monotone hash still
// discriminate records within this bucket, as last recorded by
// SetHashBitsRemaining; a bucket it was never called on reports 0.
func (b *Bucket) HashBitsRemaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hashBitsRemaining
}

// SetHashBitsRemaining records the hash-bit budget left after a radix
// split produced this bucket as a child.
func (b *Bucket) SetHashBitsRemaining(n int) {
	b.mu.Lock()
	b.hashBitsRemaining = n
	b.mu.Unlock()
}

// BeginRun opens a fresh run for writing. Only one run may be open for
// writing on a bucket at a time. For a KindFinal bucket this simply hands
// back the wrapped output stream (a final bucket never needs to be
// reopened for reading, so it carries no segment bookkeeping); for
// KindTemp it allocates a new backing temp file through the owning store.
func (b *Bucket) BeginRun() (io.Writer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return nil, fmt.Errorf("bucket: BeginRun on destroyed bucket")
	}
	if b.writing != nil {
		return nil, fmt.Errorf("bucket: a run is already open for writing")
	}
	switch b.kind {
	case KindFinal:
		if b.finalStream == nil {
			return nil, fmt.Errorf("bucket: final bucket has no output stream")
		}
		seg := &segment{checksum: 0}
		b.writing = seg
		return &hashingWriter{w: b.finalStream, h: xxhash.New(), m: b.store.metrics}, nil
	case KindSource:
		return nil, fmt.Errorf("bucket: source bucket cannot be written to")
	default:
		f, path, err := b.store.createSegmentFile(b.bufBytesOverride)
		if err != nil {
			return nil, err
		}
		seg := &segment{path: path, file: f, pinned: true}
		b.store.trackOpen(seg)
		b.writing = seg
		return &hashingWriter{w: f, h: xxhash.New(), m: b.store.metrics}, nil
	}
}

// EndRun closes out the run opened by BeginRun, recording its size and
// checksum, and increments the bucket's run count.
func (b *Bucket) EndRun(w io.Writer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writing == nil {
		return fmt.Errorf("bucket: EndRun with no run open")
	}
	hw, ok := w.(*hashingWriter)
	if !ok {
		return fmt.Errorf("bucket: EndRun called with a foreign writer")
	}
	seg := b.writing
	b.writing = nil
	seg.checksum = hw.h.Sum64()

	switch b.kind {
	case KindFinal:
		seg.sizeBytes = hw.n
		b.segments = append(b.segments, seg)
		return nil
	default:
		seg.sizeBytes = seg.file.Size()
		if err := seg.file.Close(); err != nil {
			return fmt.Errorf("bucket: closing run: %w", err)
		}
		b.store.untrackOpen(seg)
		seg.file = nil
		seg.pinned = false
		b.segments = append(b.segments, seg)
		return nil
	}
}

// OpenRun returns a reader positioned at the start of run idx, suitable
// for external-merge input. For a KindSource bucket idx must be 0 and the
// wrapped input stream is returned directly (it has no run structure: a
// source is, by construction, run 0 = the whole unsorted input).
func (b *Bucket) OpenRun(idx int) (io.Reader, error) {
	b.mu.Lock()
	if b.kind == KindSource {
		b.mu.Unlock()
		if idx != 0 {
			return nil, fmt.Errorf("bucket: source bucket has only run 0")
		}
		return &meteredReader{r: b.sourceStream, m: b.store.metrics}, nil
	}
	if idx < 0 || idx >= len(b.segments) {
		b.mu.Unlock()
		return nil, fmt.Errorf("bucket: run index %d out of range (have %d)", idx, len(b.segments))
	}
	seg := b.segments[idx]
	b.mu.Unlock()
	r, err := b.store.acquireForRead(seg)
	if err != nil {
		return nil, err
	}
	verified := NewVerifiedReader(r, seg.checksum, fmt.Sprintf("%d/%d", b.id, idx))
	return &meteredReader{r: verified, m: b.store.metrics}, nil
}

// ReleaseRun returns the descriptor acquired by OpenRun to the store's
// swap-out pool; it does not delete the underlying segment.
func (b *Bucket) ReleaseRun(idx int) {
	b.mu.Lock()
	if idx < 0 || idx >= len(b.segments) {
		b.mu.Unlock()
		return
	}
	seg := b.segments[idx]
	b.mu.Unlock()
	if b.kind != KindSource {
		b.store.releaseForRead(seg)
	}
}

// RunChecksum reports the checksum recorded when run idx was written, for
// corrupt-run detection (internal/bucket/checksum.go).
func (b *Bucket) RunChecksum(idx int) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 || idx >= len(b.segments) {
		return 0, fmt.Errorf("bucket: run index %d out of range", idx)
	}
	return b.segments[idx].checksum, nil
}

// Clear drops all of a temp bucket's runs, leaving it fresh (runs = 0),
// ready to receive a new generation of runs. Used by the scheduler when a
// bucket's entire content has been consumed by a merge pass and rewritten
// elsewhere.
func (b *Bucket) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.kind == KindSource || b.kind == KindFinal {
		return fmt.Errorf("bucket: cannot clear a source or final bucket")
	}
	for _, seg := range b.segments {
		b.store.removeSegment(seg)
	}
	b.segments = nil
	return nil
}

// Drop destroys the bucket, deleting any temp files it still owns.
// Source and final buckets are never unlinked by Drop, since they're
// owned by the caller; only their in-process handle is released.
func (b *Bucket) Drop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return nil
	}
	b.destroyed = true
	if b.kind == KindTemp {
		for _, seg := range b.segments {
			b.store.removeSegment(seg)
		}
	}
	b.segments = nil
	b.store.forget(b.id)
	return nil
}

// hashingWriter tees writes through an xxhash checksum while passing them
// through to the underlying writer, so a run's checksum is available the
// moment it finishes writing without a second read pass. It also feeds
// internal/metrics' BytesWritten counter, since every run — temp or
// final — is written through exactly one hashingWriter.
type hashingWriter struct {
	w io.Writer
	h *xxhash.Digest
	n int64
	m *metrics.Metrics
}

func (hw *hashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		hw.h.Write(p[:n])
		hw.n += int64(n)
		if hw.m != nil {
			hw.m.BytesWritten.Add(float64(n))
		}
	}
	return n, err
}

// meteredReader feeds internal/metrics' BytesRead counter as a run (or the
// source bucket's wrapped input stream) is read, so BytesRead reflects real
// I/O rather than only whatever a caller's own test happens to record.
type meteredReader struct {
	r io.Reader
	m *metrics.Metrics
}

func (mr *meteredReader) Read(p []byte) (int, error) {
	n, err := mr.r.Read(p)
	if n > 0 && mr.m != nil {
		mr.m.BytesRead.Add(float64(n))
	}
	return n, err
}
