package bucket

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/CZ-NIC/xsort/internal/fastbuf"
	"github.com/CZ-NIC/xsort/internal/metrics"
)

// lruNode is the store's open-segment LRU list element type.
type lruNode = list.Element

// Store owns the live-bucket list for one sort context and arbitrates
// access to the underlying temp-file descriptors, swapping the
// least-recently-used run segment's file handle closed when the process
// is at its open-file budget. The open-descriptor cap follows
// golang.org/x/sync/semaphore's use for admission control in
// yellowstone-faithful.
type Store struct {
	tempDir string
	naming  fastbuf.Naming
	codec   fastbuf.Codec
	bufSize int

	sem *semaphore.Weighted // nil means unbounded

	// metrics is nil unless the caller supplied a Registerer; every call
	// site below guards on it so metrics stay fully optional.
	metrics *metrics.Metrics

	mu      sync.Mutex
	lru     *list.List // front = most recently used *segment
	buckets map[uint64]*Bucket
	nextID  uint64
}

// SetMetrics attaches the instrumentation instance the store reports
// open-file and swap-out activity to. A nil argument disables reporting.
func (s *Store) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// NewStore creates a store rooted at tempDir (the system temp dir if
// empty), spilling runs with the given naming policy and codec, and
// capping concurrently open run-segment descriptors at maxOpen (a value
// <= 0 means "unbounded").
func NewStore(tempDir string, naming fastbuf.Naming, codec fastbuf.Codec, streamBufSize, maxOpen int) *Store {
	s := &Store{
		tempDir: tempDir,
		naming:  naming,
		codec:   codec,
		bufSize: streamBufSize,
		lru:     list.New(),
		buckets: make(map[uint64]*Bucket),
	}
	if maxOpen > 0 {
		s.sem = semaphore.NewWeighted(int64(maxOpen))
	}
	return s
}

// NewTempBucket allocates a fresh, empty temp bucket.
func (s *Store) NewTempBucket() *Bucket {
	id := atomic.AddUint64(&s.nextID, 1)
	b := &Bucket{id: id, kind: KindTemp, store: s}
	s.mu.Lock()
	s.buckets[id] = b
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BucketsLive.Inc()
	}
	return b
}

// OpenPair allocates two fresh temp buckets sized for a two-way merge's
// destination side: each bucket's run segments get half the store's
// configured stream buffer, so the pair held open concurrently costs the
// same total buffer memory as one ordinarily sized bucket rather than
// double it. A buffer halved below 4KiB is left at 4KiB rather than
// shrunk further, since fastbuf's own framing overhead starts to
// dominate a buffer that small.
func (s *Store) OpenPair() [2]*Bucket {
	half := s.bufSize / 2
	if half < 4096 {
		half = 4096
	}
	var pair [2]*Bucket
	for i := range pair {
		b := s.NewTempBucket()
		b.bufBytesOverride = half
		pair[i] = b
	}
	return pair
}

// NewSourceBucket wraps r as the source bucket (runs = 0).
func (s *Store) NewSourceBucket(r io.Reader) *Bucket {
	id := atomic.AddUint64(&s.nextID, 1)
	b := &Bucket{id: id, kind: KindSource, store: s, sourceStream: r}
	s.mu.Lock()
	s.buckets[id] = b
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BucketsLive.Inc()
	}
	return b
}

// NewFinalBucket wraps w as the destination bucket (runs = 1 once
// written).
func (s *Store) NewFinalBucket(w io.Writer) *Bucket {
	id := atomic.AddUint64(&s.nextID, 1)
	b := &Bucket{id: id, kind: KindFinal, store: s, finalStream: w}
	s.mu.Lock()
	s.buckets[id] = b
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BucketsLive.Inc()
	}
	return b
}

// Buckets returns a snapshot of the store's currently live buckets.
func (s *Store) Buckets() []*Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b)
	}
	return out
}

// LiveCount reports the number of live buckets still tracked.
func (s *Store) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func (s *Store) forget(id uint64) {
	s.mu.Lock()
	_, ok := s.buckets[id]
	delete(s.buckets, id)
	s.mu.Unlock()
	if ok && s.metrics != nil {
		s.metrics.BucketsLive.Dec()
	}
}

// acquireSlot admits one more open descriptor, swapping out the
// least-recently-used unpinned segment first if the store is already at
// its cap.
func (s *Store) acquireSlot() {
	if s.sem == nil {
		return
	}
	for !s.sem.TryAcquire(1) {
		s.mu.Lock()
		victim := s.pickVictimLocked()
		s.mu.Unlock()
		if victim == nil {
			// Nothing evictable (every open segment is pinned, actively
			// in use); block until one is released rather than fail.
			s.sem.Acquire(context.Background(), 1)
			return
		}
		s.mu.Lock()
		if victim.lru != nil {
			s.lru.Remove(victim.lru)
			victim.lru = nil
		}
		f := victim.file
		victim.file = nil
		s.mu.Unlock()
		if f != nil {
			f.Close()
		}
		if s.metrics != nil {
			s.metrics.SwapOutEvents.Inc()
		}
		s.sem.Release(1) // the slot victim held is now free for us to take
	}
}

func (s *Store) pickVictimLocked() *segment {
	for e := s.lru.Back(); e != nil; e = e.Prev() {
		cand := e.Value.(*segment)
		if !cand.pinned && cand.file != nil {
			return cand
		}
	}
	return nil
}

func (s *Store) releaseSlot() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

// createSegmentFile opens a fresh run segment. bufBytes, if nonzero,
// overrides the store's default stream buffer size for this one segment
// (see OpenPair).
func (s *Store) createSegmentFile(bufBytes int) (*fastbuf.File, string, error) {
	size := s.bufSize
	if bufBytes > 0 {
		size = bufBytes
	}
	s.acquireSlot()
	f, err := fastbuf.Create(s.tempDir, s.naming, s.codec, size)
	if err != nil {
		s.releaseSlot()
		return nil, "", fmt.Errorf("bucket: create run segment: %w", err)
	}
	return f, f.Path(), nil
}

// trackOpen registers a segment whose file is open for writing as pinned
// (never evicted) in the LRU bookkeeping.
func (s *Store) trackOpen(seg *segment) {
	s.mu.Lock()
	seg.lru = s.lru.PushFront(seg)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.OpenFiles.Inc()
	}
}

// untrackOpen removes a segment from LRU bookkeeping once its write side
// has been closed (the descriptor it held is already gone), releasing
// its slot back to the semaphore.
func (s *Store) untrackOpen(seg *segment) {
	s.mu.Lock()
	if seg.lru != nil {
		s.lru.Remove(seg.lru)
		seg.lru = nil
	}
	s.mu.Unlock()
	s.releaseSlot()
	if s.metrics != nil {
		s.metrics.OpenFiles.Dec()
	}
}

// acquireForRead returns seg's backing stream for reading, reopening it
// from disk if its descriptor was previously swapped out.
func (s *Store) acquireForRead(seg *segment) (io.Reader, error) {
	s.mu.Lock()
	if seg.file != nil {
		seg.pinned = true
		if seg.lru != nil {
			s.lru.MoveToFront(seg.lru)
		}
		f := seg.file
		s.mu.Unlock()
		if err := f.Rewind(); err != nil {
			return nil, fmt.Errorf("bucket: rewind run segment: %w", err)
		}
		return f, nil
	}
	s.mu.Unlock()

	s.acquireSlot()
	f, err := fastbuf.Reopen(seg.path, s.codec, s.bufSize)
	if err != nil {
		s.releaseSlot()
		return nil, fmt.Errorf("bucket: reopen run segment: %w", err)
	}

	s.mu.Lock()
	seg.file = f
	seg.pinned = true
	seg.lru = s.lru.PushFront(seg)
	s.mu.Unlock()
	return f, nil
}

// releaseForRead marks seg eligible for swap-out again; it may remain
// open until FD pressure forces an eviction.
func (s *Store) releaseForRead(seg *segment) {
	s.mu.Lock()
	seg.pinned = false
	s.mu.Unlock()
}

// removeSegment closes (if open) and deletes a run segment's backing
// file. Caller holds b.mu; this locks s.mu internally.
func (s *Store) removeSegment(seg *segment) {
	s.mu.Lock()
	if seg.lru != nil {
		s.lru.Remove(seg.lru)
		seg.lru = nil
	}
	f := seg.file
	wasOpen := f != nil
	seg.file = nil
	s.mu.Unlock()
	if f != nil {
		f.Close()
	}
	if wasOpen {
		s.releaseSlot()
	}
	if seg.path != "" {
		fastbuf.RemovePath(seg.path)
	}
}
