package array

import "github.com/CZ-NIC/xsort/internal/wp"

// parallelQuicksort is the worker-pool-backed counterpart of quicksort:
// it splits entries using the same median-of-three pivot as the
// sequential algorithm and recurses by submitting each resulting
// partition back onto the pool, rather than fanning out exactly once and
// finishing sequentially.
//
// That recursive fan-out only works because internal/wp's Group.Go never
// blocks the calling goroutine on its own children — it enqueues and
// returns immediately. A worker pool whose Go call blocked until the
// child finished would deadlock here: a worker holding a slot while it
// waits for two children to get a slot of their own can starve once
// every slot is held by a goroutine in exactly that state, with no one
// left actually running to free one. Each submission here carries a
// priority equal to its recursion depth, so the pool drains a partially
// split subtree before starting a fresh, shallower one — the total
// count of partitions ever in flight stays bounded by the tree's depth
// rather than its breadth.
func parallelQuicksort[K any](c *Context[K], entries []Entry[K]) {
	g := c.Pool.NewGroup()
	quicksortTask(c, g, entries, 0)
	_ = g.Wait()
}

// quicksortTask sorts entries in place, splitting off one partition as a
// pool task (at depth+1 priority) and continuing with the other
// in-place, once entries is large enough to be worth the dispatch.
// Below ThreadThresholdBytes, it falls back to the sequential algorithm
// on the calling goroutine.
func quicksortTask[K any](c *Context[K], g *wp.Group, entries []Entry[K], depth int) {
	if len(entries) <= insertionThreshold {
		quicksort(c, entries)
		return
	}
	if int64(len(entries))*c.ElemSize < c.ThreadThresholdBytes {
		quicksort(c, entries)
		return
	}

	mid := len(entries) / 2
	last := len(entries) - 1
	medianOfThree(c, entries, 0, mid, last)
	p := partition(c, entries, 0, len(entries))

	// entries[p] is the pivot, already in its final place.
	left, right := entries[:p], entries[p+1:]
	g.Go(depth+1, func() error {
		quicksortTask(c, g, left, depth+1)
		return nil
	})
	// The other half continues on whichever goroutine reaches it — either
	// this call directly (sequential fallback below threshold) or the
	// worker that picked up this task — rather than a second dispatch, so
	// a two-way split costs exactly one extra task, not two.
	quicksortTask(c, g, right, depth+1)
}
