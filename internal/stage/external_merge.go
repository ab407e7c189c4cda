package stage

import (
	"bytes"
	"container/heap"
	"fmt"
	"io"

	"github.com/CZ-NIC/xsort/internal/bucket"
)

// runCursor tracks one merge input's current head key and its read
// stream over a single run of a bucket (one segment file, see
// internal/bucket's package doc); atEOF is set once that run is
// exhausted, and the cursor never moves on to another run.
type runCursor[K any] struct {
	b       *bucket.Bucket
	runIdx  int
	r       io.Reader
	headKey K
	atEOF   bool
}

func newRunCursor[K any](ctx *Context[K], b *bucket.Bucket, runIdx int) (*runCursor[K], error) {
	r, err := b.OpenRun(runIdx)
	if err != nil {
		return nil, fmt.Errorf("stage: open run %d: %w", runIdx, err)
	}
	c := &runCursor[K]{b: b, runIdx: runIdx, r: r}
	if err := c.advance(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *runCursor[K]) advance(ctx *Context[K]) error {
	key, ok, err := ctx.Adapter.ReadKey(c.r)
	if !ok {
		if err != nil {
			return fmt.Errorf("stage: truncated input: %w", err)
		}
		c.atEOF = true
		return nil
	}
	c.headKey = key
	return nil
}

func (c *runCursor[K]) close() {
	c.b.ReleaseRun(c.runIdx)
}

// TwoWayMerge merges one sorted run from each of a and b into dst,
// producing exactly one run there. The caller is responsible for invoking
// this once per pair of runs still pending in a and b.
//
// Drains whichever side runs out first, then copies the remainder of the
// other side through verbatim — the same tail-draining shape
// lanrat/extsort uses once one merge input is exhausted.
func TwoWayMerge[K any](ctx *Context[K], a, b *bucket.Bucket, aRun, bRun int, dst *bucket.Bucket) error {
	ca, err := newRunCursor(ctx, a, aRun)
	if err != nil {
		return err
	}
	defer ca.close()
	cb, err := newRunCursor(ctx, b, bRun)
	if err != nil {
		return err
	}
	defer cb.close()

	w, err := dst.BeginRun()
	if err != nil {
		return fmt.Errorf("stage: begin merge run: %w", err)
	}

	for !ca.atEOF && !cb.atEOF {
		cmp := ctx.Adapter.Compare(ca.headKey, cb.headKey)
		switch {
		case cmp == 0 && ctx.Unifier != nil:
			if err := ctx.Unifier.MergeStreaming(ca.r, cb.r, w, ca.headKey, cb.headKey); err != nil {
				return fmt.Errorf("stage: merge_streaming: %w", err)
			}
			if err := ca.advance(ctx); err != nil {
				return err
			}
			if err := cb.advance(ctx); err != nil {
				return err
			}
		case cmp <= 0:
			if err := ctx.Adapter.WriteRecord(ca.r, w, ca.headKey); err != nil {
				return fmt.Errorf("stage: write record: %w", err)
			}
			if err := ca.advance(ctx); err != nil {
				return err
			}
		default:
			if err := ctx.Adapter.WriteRecord(cb.r, w, cb.headKey); err != nil {
				return fmt.Errorf("stage: write record: %w", err)
			}
			if err := cb.advance(ctx); err != nil {
				return err
			}
		}
	}
	for !ca.atEOF {
		if err := ctx.Adapter.WriteRecord(ca.r, w, ca.headKey); err != nil {
			return fmt.Errorf("stage: write record: %w", err)
		}
		if err := ca.advance(ctx); err != nil {
			return err
		}
	}
	for !cb.atEOF {
		if err := ctx.Adapter.WriteRecord(cb.r, w, cb.headKey); err != nil {
			return fmt.Errorf("stage: write record: %w", err)
		}
		if err := cb.advance(ctx); err != nil {
			return err
		}
	}

	return dst.EndRun(w)
}

// mergeHeap is container/heap's sort.Interface implemented directly over
// *runCursor, avoiding a per-comparison interface box around individual
// keys — K here is expected to be small, so boxing cost, not algorithmic
// cost, is what's being avoided.
type mergeHeap[K any] struct {
	cursors []*runCursor[K]
	adapter Adapter[K]
}

func (h *mergeHeap[K]) Len() int { return len(h.cursors) }
func (h *mergeHeap[K]) Less(i, j int) bool {
	return h.adapter.Compare(h.cursors[i].headKey, h.cursors[j].headKey) < 0
}
func (h *mergeHeap[K]) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }
func (h *mergeHeap[K]) Push(x any)    { h.cursors = append(h.cursors, x.(*runCursor[K])) }
func (h *mergeHeap[K]) Pop() any {
	n := len(h.cursors)
	c := h.cursors[n-1]
	h.cursors = h.cursors[:n-1]
	return c
}

// KWayMerge merges one run from each of the given (bucket, runIndex)
// sources into a single run in dst using a min-heap over the current
// heads. Heap ties with unification enabled invoke MergeStreaming across
// all equal-keyed heads before the next pop.
func KWayMerge[K any](ctx *Context[K], sources []*bucket.Bucket, runIdx []int, dst *bucket.Bucket) error {
	if len(sources) != len(runIdx) {
		return fmt.Errorf("stage: KWayMerge: sources/runIdx length mismatch")
	}

	h := &mergeHeap[K]{adapter: ctx.Adapter}
	for i, b := range sources {
		c, err := newRunCursor(ctx, b, runIdx[i])
		if err != nil {
			return err
		}
		defer c.close()
		if !c.atEOF {
			h.cursors = append(h.cursors, c)
		}
	}
	heap.Init(h)

	w, err := dst.BeginRun()
	if err != nil {
		return fmt.Errorf("stage: begin k-way run: %w", err)
	}

	for h.Len() > 0 {
		top := heap.Pop(h).(*runCursor[K])
		topKey := top.headKey
		merged := false

		if ctx.Unifier != nil {
			// The heap root is always the current minimum, so any other
			// head tied with top must surface at the new root before
			// anything smaller would — repeatedly re-check the root
			// rather than only the two immediate heap children, which
			// would miss ties deeper than one heap level.
			// Each tie folds into acc, a buffered copy of the record
			// consolidated so far, so any number of tied heads collapse
			// into a single record.
			var acc io.Reader = top.r
			accKey := top.headKey
			for h.Len() > 0 && ctx.Adapter.Compare(h.cursors[0].headKey, topKey) == 0 {
				next := heap.Pop(h).(*runCursor[K])
				buf := new(bytes.Buffer)
				if err := ctx.Unifier.MergeStreaming(acc, next.r, buf, accKey, next.headKey); err != nil {
					return fmt.Errorf("stage: merge_streaming: %w", err)
				}
				key, ok, err := ctx.Adapter.ReadKey(buf)
				if !ok {
					return fmt.Errorf("stage: re-read merged record: %v", err)
				}
				acc, accKey = buf, key
				merged = true
				if err := next.advance(ctx); err != nil {
					return err
				}
				if !next.atEOF {
					heap.Push(h, next)
				}
			}
			if merged {
				if err := ctx.Adapter.WriteRecord(acc, w, accKey); err != nil {
					return fmt.Errorf("stage: write record: %w", err)
				}
			}
		}

		// The consolidated record is already in w, and top's record body
		// was consumed along with every tied head's; a plain WriteRecord
		// here would duplicate it.
		if !merged {
			if err := ctx.Adapter.WriteRecord(top.r, w, top.headKey); err != nil {
				return fmt.Errorf("stage: write record: %w", err)
			}
		}
		if err := top.advance(ctx); err != nil {
			return err
		}
		if !top.atEOF {
			heap.Push(h, top)
		}
	}

	return dst.EndRun(w)
}
