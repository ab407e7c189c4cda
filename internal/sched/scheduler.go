// Package sched implements the scheduler: the driver loop that walks a
// bucket store choosing, at each step, which of internal sort, external
// merge (two-way or k-way), or radix split to run next, until one sorted
// run remains.
package sched

import (
	"fmt"
	"io"
	"time"

	"github.com/CZ-NIC/xsort/internal/bucket"
	"github.com/CZ-NIC/xsort/internal/metrics"
	"github.com/CZ-NIC/xsort/internal/stage"
	"github.com/CZ-NIC/xsort/internal/trace"
)

// node tracks one live (non-final) bucket plus scheduling-level state the
// physical bucket.Bucket itself doesn't carry: whether its current
// content still needs an initial internal-sort pass. This is true for a
// raw, never-sorted source (bucket.Runs() == 0 there already says so) and
// also, despite bucket.Runs() reporting 1, for any bucket a radix split or
// an inline hash split has just populated — those runs are only
// hash-partitioned, never key-sorted, so the scheduler must not mistake
// that single physical run for a finished sort.
type node[K any] struct {
	b         *bucket.Bucket
	needsSort bool
	sorter    *stage.InternalSorter[K]
}

// Scheduler drives IS/EM/RS over a bucket store until exactly one sorted
// run remains, then copies it into the caller's final bucket.
type Scheduler[K any] struct {
	store    *bucket.Store
	stageCtx *stage.Context[K]
	tun      Tunables
	hasHash  bool
	final    *bucket.Bucket
	rpt      *trace.Reporter // nil disables progress reporting
	metrics  *metrics.Metrics

	nodes []*node[K]
	done  bool
}

// New builds a scheduler over store, using stageCtx for every IS/EM/RS
// invocation and tun to decide between them. hasHash must match whether
// stageCtx.Hasher is non-nil — radix split and the inline hash split are
// unsound without a monotone hash. rpt and m are both
// optional; a nil rpt silences progress reporting and a nil m skips
// per-pass instrumentation.
func New[K any](store *bucket.Store, stageCtx *stage.Context[K], tun Tunables, hasHash bool, final *bucket.Bucket, rpt *trace.Reporter, m *metrics.Metrics) *Scheduler[K] {
	return &Scheduler[K]{store: store, stageCtx: stageCtx, tun: tun, hasHash: hasHash, final: final, rpt: rpt, metrics: m}
}

// AddSource registers the raw input as the scheduler's starting node.
func (s *Scheduler[K]) AddSource(b *bucket.Bucket) {
	if s.hasHash {
		b.SetHashBitsRemaining(s.stageCtx.Hasher.HashBits())
	}
	s.nodes = append(s.nodes, &node[K]{b: b, needsSort: true})
}

// Run drives the scheduling loop to completion. It asserts progress every
// step and panics on a detected fixpoint: that is an internal invariant
// violation that should never happen for a correctly behaved Adapter, so
// there is no recoverable error path for it.
func (s *Scheduler[K]) Run() error {
	if len(s.nodes) == 0 {
		return fmt.Errorf("sched: no input registered")
	}
	for {
		if s.done {
			return nil
		}
		if len(s.nodes) == 0 {
			return nil
		}
		if len(s.nodes) == 1 && !s.nodes[0].needsSort && s.nodes[0].b.Runs() == 1 {
			return s.finalize(s.nodes[0])
		}

		pendingBefore := s.pendingCount()
		wrote, err := s.step()
		if err != nil {
			return err
		}
		if !wrote && s.pendingCount() >= pendingBefore {
			trace.Sched.Errorf("no progress: %d live bucket(s), %d still needing sort", len(s.nodes), s.pendingCount())
			panic("sched: scheduler made no progress in a full pass (fixpoint detected)")
		}
		if s.rpt != nil {
			// totalBytes is unknown for an arbitrary io.Reader input, so
			// the live status line tracks live-bucket count rather than a
			// completion fraction.
			s.rpt.Status("sort", 0, 0, len(s.nodes))
		}
	}
}

// reportPass records one scheduler action's outcome to both the trace
// reporter and the metrics instance, when configured. start is the time
// the action began, used for per-stage pass latency.
func (s *Scheduler[K]) reportPass(stageName string, bucketID uint64, runsBefore, runsAfter int, start time.Time) {
	if s.rpt != nil {
		s.rpt.Pass(stageName, bucketID, runsBefore, runsAfter)
	}
	if s.metrics != nil {
		s.metrics.PassesRun.WithLabelValues(stageName).Inc()
		s.metrics.RunsProduced.WithLabelValues(stageName).Add(float64(runsAfter))
		s.metrics.PassLatency.WithLabelValues(stageName).Observe(time.Since(start).Seconds())
	}
}

func (s *Scheduler[K]) pendingCount() int {
	n := 0
	for _, nd := range s.nodes {
		if nd.needsSort {
			n++
		}
	}
	return n
}

// step performs exactly one scheduling action, trying internal sort,
// k-way merge, radix split, and two-way merge in priority order; when
// none applies, every live bucket holds a single run and step merges two
// of those buckets into one. The sole-bucket termination check is
// handled directly by Run above it, since it needs no cost model.
func (s *Scheduler[K]) step() (wrote bool, err error) {
	for i, n := range s.nodes {
		if n.needsSort {
			return s.runInternalSort(i, n)
		}
	}

	if i, k, ok := s.pickKWay(); ok {
		return true, s.runKWay(i, k)
	}
	if s.hasHash {
		if i, b, ok := s.pickRadixSplit(); ok {
			return true, s.runRadixSplit(i, b)
		}
	}
	if i, ok := s.pickTwoWay(); ok {
		return true, s.runTwoWay(i)
	}

	// Every live bucket now holds one sorted run, so merge the first two;
	// the output keeps hashBitsRemaining 0 and is never radix-split again.
	if len(s.nodes) >= 2 {
		start := time.Now()
		a, b := s.nodes[0].b, s.nodes[1].b
		out := s.store.NewTempBucket()
		if err := stage.TwoWayMerge(s.stageCtx, a, b, 0, 0, out); err != nil {
			out.Drop()
			return false, fmt.Errorf("sched: two-way merge: %w", err)
		}
		a.Drop()
		b.Drop()
		s.nodes = append(s.nodes[2:], &node[K]{b: out})
		s.reportPass("two_way_merge", a.ID(), 2, out.Runs(), start)
		return true, nil
	}

	return false, fmt.Errorf("sched: no eligible action for %d live bucket(s) (unreachable if Run's termination check is correct)", len(s.nodes))
}

func (s *Scheduler[K]) state(n *node[K]) bucketState {
	return bucketState{
		runs:              n.b.Runs(),
		sizeBytes:         n.b.SizeBytes(),
		hashBitsRemaining: n.b.HashBitsRemaining(),
	}
}

func (s *Scheduler[K]) pickKWay() (idx, k int, ok bool) {
	for i, n := range s.nodes {
		if n.b.Runs() <= 2 {
			continue
		}
		if k, ok := decideKWay(s.state(n), s.tun); ok {
			return i, k, true
		}
	}
	return 0, 0, false
}

func (s *Scheduler[K]) pickRadixSplit() (idx, b int, ok bool) {
	for i, n := range s.nodes {
		if b, ok := decideRadixSplit(s.state(n), s.tun); ok {
			return i, b, true
		}
	}
	return 0, 0, false
}

func (s *Scheduler[K]) pickTwoWay() (idx int, ok bool) {
	best := -1
	var bestSize int64 = -1
	for i, n := range s.nodes {
		if n.b.Runs() < 2 {
			continue
		}
		if sz := n.b.SizeBytes(); sz > bestSize {
			best, bestSize = i, sz
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// runInternalSort runs one internal-sort pass over n, lazily opening its
// read cursor on first use. If n is the sole live node and this pass
// exhausts it, the stage writes straight into the final bucket and the
// scheduler is done.
func (s *Scheduler[K]) runInternalSort(idx int, n *node[K]) (bool, error) {
	start := time.Now()
	bucketID := n.b.ID()
	runsBefore := n.b.Runs()
	if n.sorter == nil {
		r, err := n.b.OpenRun(0)
		if err != nil {
			return false, fmt.Errorf("sched: open source: %w", err)
		}
		n.sorter = stage.NewInternalSorter(s.stageCtx, r)
	}

	// A bucket that already carries a known size (anything but the raw
	// source, whose size is unknowable up front for an arbitrary
	// io.Reader) may still dwarf the sort buffer even after the split
	// that produced it. Hash-splitting it inline, right here in the same
	// pass that would otherwise sort+write it, saves the read-sort-write
	// followed by a separate RS read-and-repartition pass that would
	// otherwise immediately follow.
	if s.hasHash && n.b.Kind() != bucket.KindSource {
		st := bucketState{sizeBytes: n.b.SizeBytes(), hashBitsRemaining: n.b.HashBitsRemaining()}
		if b, ok := decideRadixSplit(st, s.tun); ok {
			return s.runInternalHashSplit(idx, n, b, start, bucketID, runsBefore)
		}
	}

	sole := len(s.nodes) == 1
	var only *bucket.Bucket
	finalRunsBefore := 0
	if sole {
		only = s.final
		finalRunsBefore = s.final.Runs()
	}

	fresh := s.store.NewTempBucket()
	if s.hasHash {
		fresh.SetHashBitsRemaining(n.b.HashBitsRemaining())
	}
	exhausted, _, err := n.sorter.Run(fresh, only)
	if err != nil {
		fresh.Drop()
		return false, fmt.Errorf("sched: internal sort: %w", err)
	}

	wrote := fresh.Runs() > 0 || (only != nil && s.final.Runs() > finalRunsBefore)

	if fresh.Runs() > 0 {
		s.nodes = append(s.nodes, &node[K]{b: fresh})
	} else {
		fresh.Drop()
	}

	if exhausted {
		n.b.Drop()
		s.nodes = removeNode(s.nodes, idx)
		if sole {
			s.done = true
		}
	}

	s.reportPass("internal_sort", bucketID, runsBefore, fresh.Runs()-freshRunsBefore, start)
	return wrote, nil
}

// runInternalHashSplit is runInternalSort's inline-hash-split variant:
// instead of sorting the current batch with the array sorter, it
// partitions it directly into 2^b needsSort children
// by the next b bits of hash still unconsumed, producing the same
// reduction in problem size a standalone RS pass would but without first
// paying for a sort+write the scheduler would otherwise immediately undo.
func (s *Scheduler[K]) runInternalHashSplit(idx int, n *node[K], b int, start time.Time, bucketID uint64, runsBefore int) (bool, error) {
	lo := n.b.HashBitsRemaining() - b
	if lo < 0 {
		lo = 0
	}
	outs := make([]*bucket.Bucket, 1<<uint(b))
	for i := range outs {
		outs[i] = s.store.NewTempBucket()
		outs[i].SetHashBitsRemaining(lo)
	}
	cleanup := func() {
		for _, o := range outs {
			o.Drop()
		}
	}

	exhausted, err := n.sorter.RunHashSplit(outs, lo)
	if err != nil {
		cleanup()
		return false, fmt.Errorf("sched: inline hash split: %w", err)
	}

	wrote := false
	runsAfter := 0
	for _, o := range outs {
		if o.Runs() > 0 {
			wrote = true
			runsAfter += o.Runs()
			s.nodes = append(s.nodes, &node[K]{b: o, needsSort: true})
		} else {
			o.Drop()
		}
	}

	if exhausted {
		n.b.Drop()
		s.nodes = removeNode(s.nodes, idx)
	}

	s.reportPass("internal_sort_hash_split", bucketID, runsBefore, runsAfter, start)
	return wrote, nil
}

// runTwoWay merges a multi-run bucket's own runs pairwise — run 2i with
// run 2i+1 — alternating between two fresh output buckets so the run
// count roughly halves in a single pass. Pairing adjacent runs within a
// bucket and merging across two buckets are the same operation once a
// bucket's run list is viewed as the input side.
func (s *Scheduler[K]) runTwoWay(idx int) error {
	start := time.Now()
	n := s.nodes[idx]
	bucketID := n.b.ID()
	runs := n.b.Runs()
	outs := s.store.OpenPair()

	cleanup := func() {
		outs[0].Drop()
		outs[1].Drop()
	}

	dest := 0
	i := 0
	for i+1 < runs {
		if err := stage.TwoWayMerge(s.stageCtx, n.b, n.b, i, i+1, outs[dest]); err != nil {
			cleanup()
			return fmt.Errorf("sched: two-way merge: %w", err)
		}
		dest ^= 1
		i += 2
	}
	if i < runs {
		if _, err := copyRun(n.b, i, outs[dest]); err != nil {
			cleanup()
			return fmt.Errorf("sched: carry odd run forward: %w", err)
		}
	}

	if s.hasHash {
		for _, o := range outs {
			o.SetHashBitsRemaining(n.b.HashBitsRemaining())
		}
	}
	n.b.Drop()
	s.nodes = removeNode(s.nodes, idx)
	runsAfter := 0
	for _, o := range outs {
		if o.Runs() > 0 {
			runsAfter += o.Runs()
			s.nodes = append(s.nodes, &node[K]{b: o})
		} else {
			o.Drop()
		}
	}
	s.reportPass("two_way_merge", bucketID, runs, runsAfter, start)
	return nil
}

// runKWay merges a bucket's runs in groups of k, producing ceil(runs/k)
// output buckets; any group too small to merge (a lone leftover run) is
// carried forward untouched.
func (s *Scheduler[K]) runKWay(idx, k int) error {
	start := time.Now()
	n := s.nodes[idx]
	bucketID := n.b.ID()
	runs := n.b.Runs()
	var fresh []*bucket.Bucket
	cleanup := func() {
		for _, o := range fresh {
			o.Drop()
		}
	}

	for i := 0; i < runs; i += k {
		end := i + k
		if end > runs {
			end = runs
		}
		out := s.store.NewTempBucket()
		if s.hasHash {
			out.SetHashBitsRemaining(n.b.HashBitsRemaining())
		}
		fresh = append(fresh, out)

		if end-i == 1 {
			if _, err := copyRun(n.b, i, out); err != nil {
				cleanup()
				return fmt.Errorf("sched: carry odd run forward: %w", err)
			}
			continue
		}

		sources := make([]*bucket.Bucket, end-i)
		runIdx := make([]int, end-i)
		for j := range sources {
			sources[j] = n.b
			runIdx[j] = i + j
		}
		if err := stage.KWayMerge(s.stageCtx, sources, runIdx, out); err != nil {
			cleanup()
			return fmt.Errorf("sched: k-way merge: %w", err)
		}
	}

	n.b.Drop()
	s.nodes = removeNode(s.nodes, idx)
	runsAfter := 0
	for _, o := range fresh {
		if o.Runs() > 0 {
			runsAfter += o.Runs()
			s.nodes = append(s.nodes, &node[K]{b: o})
		} else {
			o.Drop()
		}
	}
	s.reportPass("k_way_merge", bucketID, runs, runsAfter, start)
	return nil
}

// runRadixSplit partitions a bucket into 2^b children by its top b
// remaining hash bits; children are marked needsSort since radix split
// never sorts, only partitions.
func (s *Scheduler[K]) runRadixSplit(idx, b int) error {
	start := time.Now()
	n := s.nodes[idx]
	bucketID := n.b.ID()
	runsBefore := n.b.Runs()
	lo := n.b.HashBitsRemaining() - b
	if lo < 0 {
		lo = 0
	}

	outs := make([]*bucket.Bucket, 1<<uint(b))
	for i := range outs {
		outs[i] = s.store.NewTempBucket()
	}
	cleanup := func() {
		for _, o := range outs {
			o.Drop()
		}
	}

	if err := stage.RadixSplit(s.stageCtx, n.b, lo, b, outs); err != nil {
		cleanup()
		return fmt.Errorf("sched: radix split: %w", err)
	}

	n.b.Drop()
	s.nodes = removeNode(s.nodes, idx)
	runsAfter := 0
	for _, o := range outs {
		if o.Runs() > 0 {
			runsAfter += o.Runs()
			s.nodes = append(s.nodes, &node[K]{b: o, needsSort: true})
		} else {
			o.Drop()
		}
	}
	s.reportPass("radix_split", bucketID, runsBefore, runsAfter, start)
	return nil
}

// finalize copies a single finished sorted run verbatim into the
// caller's final bucket.
func (s *Scheduler[K]) finalize(n *node[K]) error {
	if _, err := copyRun(n.b, 0, s.final); err != nil {
		return fmt.Errorf("sched: finalize: %w", err)
	}
	s.done = true
	return n.b.Drop()
}

// copyRun streams run idx of src verbatim into a fresh run of dst,
// without decoding individual records — used whenever a run's content
// is already correctly ordered and just needs to move to a new home
// (finalization, and carrying an odd leftover run past a merge pass).
func copyRun(src *bucket.Bucket, idx int, dst *bucket.Bucket) (int64, error) {
	r, err := src.OpenRun(idx)
	if err != nil {
		return 0, err
	}
	defer src.ReleaseRun(idx)

	w, err := dst.BeginRun()
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		return n, err
	}
	return n, dst.EndRun(w)
}

func removeNode[K any](nodes []*node[K], idx int) []*node[K] {
	return append(nodes[:idx:idx], nodes[idx+1:]...)
}
