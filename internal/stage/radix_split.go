package stage

import (
	"fmt"
	"io"

	"github.com/CZ-NIC/xsort/internal/bucket"
)

// RadixSplit partitions every record currently in src across its runs into
// 2^b output buckets, keyed by the b-bit slice [lo, lo+b) of each record's
// hash, and never merges — it exists to shrink a bucket that dwarfs the
// sort buffer into children small enough for internal sort to finish
// outright, trading one sequential read+scatter-write pass for however
// many external-merge passes log2(runs) would otherwise cost.
//
// Each output inherits hashBitsRemaining = hashBitsRemaining(src) - b, so
// a later RadixSplit or RunHashSplit pass over a child knows how many
// usable hash bits are left before falling back to quicksort.
//
// Uses the same hash-bucket-index arithmetic as InternalSorter.RunHashSplit,
// generalized from one in-memory batch to a bucket's full run list read
// sequentially from disk. src must already have been through at least one
// internal-sort pass (Runs() > 0); the scheduler's ordering guarantees
// this since a runs=0 bucket is always routed to internal sort first.
func RadixSplit[K any](ctx *Context[K], src *bucket.Bucket, lo, b int, outs []*bucket.Bucket) error {
	if ctx.Hasher == nil {
		return fmt.Errorf("stage: RadixSplit requires a monotone hasher")
	}
	if len(outs) != 1<<uint(b) {
		return fmt.Errorf("stage: RadixSplit: len(outs)=%d does not match 2^%d", len(outs), b)
	}

	mask := uint64(len(outs) - 1)
	remaining := src.HashBitsRemaining() - b
	if remaining < 0 {
		remaining = 0
	}
	for _, o := range outs {
		o.SetHashBitsRemaining(remaining)
	}

	writers := make([]io.Writer, len(outs))
	defer func() {
		for i, w := range writers {
			if w != nil {
				_ = outs[i].EndRun(w)
			}
		}
	}()

	runs := src.Runs()
	for runIdx := 0; runIdx < runs; runIdx++ {
		r, err := src.OpenRun(runIdx)
		if err != nil {
			return fmt.Errorf("stage: open run %d: %w", runIdx, err)
		}

		for {
			key, ok, rerr := ctx.Adapter.ReadKey(r)
			if !ok {
				if rerr != nil {
					src.ReleaseRun(runIdx)
					return fmt.Errorf("stage: truncated input: %w", rerr)
				}
				break
			}
			idx := (ctx.Hasher.Hash(key) >> uint(lo)) & mask
			if writers[idx] == nil {
				w, err := outs[idx].BeginRun()
				if err != nil {
					src.ReleaseRun(runIdx)
					return fmt.Errorf("stage: begin split run: %w", err)
				}
				writers[idx] = w
			}
			if err := ctx.Adapter.WriteRecord(r, writers[idx], key); err != nil {
				src.ReleaseRun(runIdx)
				return fmt.Errorf("stage: write split record: %w", err)
			}
		}
		src.ReleaseRun(runIdx)
	}

	closed := writers
	writers = nil
	for i, w := range closed {
		if w == nil {
			continue
		}
		if err := outs[i].EndRun(w); err != nil {
			return fmt.Errorf("stage: end split run: %w", err)
		}
	}
	return nil
}
