package stage

import (
	"fmt"
	"io"

	"github.com/CZ-NIC/xsort/internal/array"
	"github.com/CZ-NIC/xsort/internal/bucket"
)

// Context bundles the callbacks and tunables every stage in this package
// needs.
type Context[K any] struct {
	Adapter      Adapter[K]
	Unifier      Unifier[K]      // nil disables unification
	Hasher       Hasher[K]       // nil disables hash-dependent paths
	DistinctSink DistinctSink[K] // nil disables distinct-key reporting

	ArrayCtx        *array.Context[K]
	SortBufferBytes int64
}

func (ctx *Context[K]) entrySize(e array.Entry[K]) int64 {
	return int64(ctx.Adapter.KeySize() + len(e.Tail))
}

// InternalSorter runs the internal-sort stage over one input reader, one
// batch (one call to Run) at a time. The scheduler constructs one
// InternalSorter per input bucket and calls Run repeatedly until it
// reports exhausted, writing one sorted run to out per call (or to only,
// once input is exhausted).
//
// Buffer-then-sort-then-spill, with a "flush when full" trigger. A record
// that is read but does not fit the remainder of the current batch is
// carried across Run calls already fetched into memory (pendingEntry)
// rather than re-read from the stream — the CCA contract here assumes
// FetchRecord does not consume bytes from r when it reports ok=false, so
// a failed fetch attempt can safely be retried with a larger limit.
type InternalSorter[K any] struct {
	ctx *Context[K]
	r   io.Reader

	pendingEntry *array.Entry[K]
	pendingKey   *K
}

// NewInternalSorter creates a stateful internal sorter reading
// sequentially from r.
func NewInternalSorter[K any](ctx *Context[K], r io.Reader) *InternalSorter[K] {
	return &InternalSorter[K]{ctx: ctx, r: r}
}

// Run performs one internal-sort pass: it fills a batch up to
// SortBufferBytes, sorts it with the array sorter, optionally unifies
// equal keys, and writes exactly one sorted run — to only if exhausted
// is true and only is non-nil, to out otherwise.
func (s *InternalSorter[K]) Run(out, only *bucket.Bucket) (exhausted bool, giant bool, err error) {
	if s.pendingKey != nil {
		key := *s.pendingKey
		s.pendingKey = nil
		if err := s.writeGiant(out, key); err != nil {
			return false, true, err
		}
		return false, true, nil
	}

	batch, exhausted, isGiant, giantKey, err := s.fillBatch()
	if err != nil {
		return false, false, err
	}
	if isGiant {
		if err := s.writeGiant(out, giantKey); err != nil {
			return false, true, err
		}
		return false, true, nil
	}
	if len(batch) == 0 {
		return exhausted, false, nil
	}

	dest := out
	if exhausted && only != nil {
		dest = only
	}
	if err := s.sortAndWrite(dest, batch); err != nil {
		return false, false, err
	}
	return exhausted, false, nil
}

// fillBatch reads records from the input until the sort buffer budget is
// spent or input is exhausted, returning the accumulated batch. A record
// that doesn't fit even a fresh batch is reported via (giant=true,
// giantKey); the caller must write it through directly and not call
// fillBatch again until that's done.
func (s *InternalSorter[K]) fillBatch() (batch []array.Entry[K], exhausted, giant bool, giantKey K, err error) {
	ctx := s.ctx
	var used int64
	if s.pendingEntry != nil {
		batch = append(batch, *s.pendingEntry)
		used += ctx.entrySize(*s.pendingEntry)
		s.pendingEntry = nil
	}

	for {
		key, ok, rerr := ctx.Adapter.ReadKey(s.r)
		if !ok {
			if rerr != nil {
				err = fmt.Errorf("stage: truncated input: %w", rerr)
				return
			}
			exhausted = true
			return
		}

		remaining := ctx.SortBufferBytes - used
		if remaining < 0 {
			remaining = 0
		}
		tail, fok, ferr := ctx.Adapter.FetchRecord(s.r, key, int(remaining))
		if ferr != nil {
			err = fmt.Errorf("stage: fetch record: %w", ferr)
			return
		}
		if fok {
			e := array.Entry[K]{Key: key, Tail: tail}
			if ctx.Hasher != nil {
				e.Hash = ctx.Hasher.Hash(key)
			}
			batch = append(batch, e)
			used += ctx.entrySize(e)
			continue
		}

		if len(batch) == 0 {
			// This key doesn't fit even a fresh batch. Rather than fail
			// with buffer-too-small, it's handed to the caller as a giant
			// record: WriteRecord can always stream an arbitrarily large
			// tail straight from the input to its own one-record run
			// without ever holding it in memory, so no record size
			// actually defeats forward progress here.
			giant, giantKey = true, key
			return
		}

		tail2, fok2, ferr2 := ctx.Adapter.FetchRecord(s.r, key, int(ctx.SortBufferBytes))
		if ferr2 != nil {
			err = fmt.Errorf("stage: fetch record: %w", ferr2)
			return
		}
		if fok2 {
			e := array.Entry[K]{Key: key, Tail: tail2}
			if ctx.Hasher != nil {
				e.Hash = ctx.Hasher.Hash(key)
			}
			s.pendingEntry = &e
		} else {
			s.pendingKey = &key
		}
		return
	}
}

// RunHashSplit performs the inline hash-split variant of internal sort:
// instead of running the array sorter, it partitions one in-memory batch
// into len(outs) output buckets (a power of two, 2^b) by the b-bit hash
// slice [lo, lo+b),
// preserving the relative order of records within each output. lo is an
// absolute bit position into the full hash width, the same convention
// RadixSplit uses, so a bucket that already went through a previous
// split can resume splitting on the next slice of bits down rather than
// re-examining ones an earlier pass already consumed. Requires a Hasher.
func (s *InternalSorter[K]) RunHashSplit(outs []*bucket.Bucket, lo int) (exhausted bool, err error) {
	if s.ctx.Hasher == nil {
		return false, fmt.Errorf("stage: RunHashSplit requires a monotone hasher")
	}
	if len(outs)&(len(outs)-1) != 0 {
		return false, fmt.Errorf("stage: RunHashSplit: len(outs)=%d is not a power of two", len(outs))
	}
	mask := uint64(len(outs) - 1)

	if s.pendingKey != nil {
		key := *s.pendingKey
		s.pendingKey = nil
		idx := (s.ctx.Hasher.Hash(key) >> uint(lo)) & mask
		if err := s.writeGiant(outs[idx], key); err != nil {
			return false, err
		}
		return false, nil
	}

	batch, exhausted, isGiant, giantKey, err := s.fillBatch()
	if err != nil {
		return false, err
	}
	if isGiant {
		idx := (s.ctx.Hasher.Hash(giantKey) >> uint(lo)) & mask
		if err := s.writeGiant(outs[idx], giantKey); err != nil {
			return false, err
		}
		return false, nil
	}
	if len(batch) == 0 {
		return exhausted, nil
	}

	writers := make([]io.Writer, len(outs))
	for i, e := range batch {
		idx := (e.Hash >> uint(lo)) & mask
		if writers[idx] == nil {
			w, err := outs[idx].BeginRun()
			if err != nil {
				return false, fmt.Errorf("stage: begin split run: %w", err)
			}
			writers[idx] = w
		}
		if s.ctx.DistinctSink != nil {
			s.ctx.DistinctSink.Observe(e.Key)
		}
		if err := s.ctx.Adapter.StoreRecord(writers[idx], e.Key, e.Tail); err != nil {
			return false, fmt.Errorf("stage: store split record %d: %w", i, err)
		}
	}
	for i, w := range writers {
		if w == nil {
			continue
		}
		if err := outs[i].EndRun(w); err != nil {
			return false, fmt.Errorf("stage: end split run: %w", err)
		}
	}
	return exhausted, nil
}

// writeGiant streams a record whose tail is still on the input reader
// straight through to its own one-record run.
func (s *InternalSorter[K]) writeGiant(out *bucket.Bucket, key K) error {
	w, err := out.BeginRun()
	if err != nil {
		return fmt.Errorf("stage: begin giant run: %w", err)
	}
	if err := s.ctx.Adapter.WriteRecord(s.r, w, key); err != nil {
		return fmt.Errorf("stage: write giant record: %w", err)
	}
	if err := out.EndRun(w); err != nil {
		return fmt.Errorf("stage: end giant run: %w", err)
	}
	return nil
}

// sortAndWrite runs the array sorter over batch, optionally unifies
// equal-keyed runs, and writes the survivors as one sorted run to dest.
func (s *InternalSorter[K]) sortAndWrite(dest *bucket.Bucket, batch []array.Entry[K]) error {
	ctx := s.ctx
	sorted := array.Sort(ctx.ArrayCtx, batch)

	w, err := dest.BeginRun()
	if err != nil {
		return fmt.Errorf("stage: begin run: %w", err)
	}

	if ctx.Unifier == nil {
		for _, e := range sorted {
			if ctx.DistinctSink != nil {
				ctx.DistinctSink.Observe(e.Key)
			}
			if err := ctx.Adapter.StoreRecord(w, e.Key, e.Tail); err != nil {
				return fmt.Errorf("stage: store record: %w", err)
			}
		}
	} else {
		i := 0
		for i < len(sorted) {
			cur := sorted[i]
			j := i + 1
			survivorKey, survivorTail, alive := cur.Key, cur.Tail, true
			for j < len(sorted) && ctx.Adapter.Compare(sorted[j].Key, cur.Key) == 0 {
				if !alive {
					j++
					continue
				}
				var ok bool
				survivorKey, survivorTail, ok = ctx.Unifier.Merge(survivorKey, survivorTail, sorted[j].Key, sorted[j].Tail)
				alive = ok
				j++
			}
			if alive {
				if ctx.DistinctSink != nil {
					ctx.DistinctSink.Observe(survivorKey)
				}
				if err := ctx.Adapter.StoreRecord(w, survivorKey, survivorTail); err != nil {
					return fmt.Errorf("stage: store record: %w", err)
				}
			}
			i = j
		}
	}

	return dest.EndRun(w)
}
