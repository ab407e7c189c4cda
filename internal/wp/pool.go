// Package wp implements the worker pool the array sorter's parallel
// variants fan out onto: a fixed-size pool of goroutines draining a
// priority work queue, rather than admitting tasks in arrival order.
// Group's fork-join shape (Go to submit, Wait to join) mirrors the
// creachadair/taskgroup Group creachadair-ffs's storage/wbstore writer
// builds on, but taskgroup's own Group has no notion of task priority, so
// this package drains a container/heap priority queue with its own
// goroutines and a sync.WaitGroup-based join instead.
package wp

import (
	"container/heap"
	"sync"

	"github.com/CZ-NIC/xsort/internal/trace"
)

// Pool bounds how many worker goroutines the array sorter's parallel
// quicksort/radix variants may run concurrently, dispatching pending work
// in priority order rather than admission order. A Pool is safe for
// concurrent use by multiple top-level Sort calls; each call opens its
// own Group, but all Groups opened on the same Pool share its queue and
// worker goroutines.
type Pool struct {
	size int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  priorityQueue
	seq    int64
	closed bool
}

// New creates a pool with the given worker count and starts its worker
// goroutines. size must be positive; xsort only constructs a Pool when
// Config.WorkerThreads > 0 — a WorkerThreads of 0 means the caller wants
// parallelism disabled entirely, handled upstream by never constructing a
// Pool at all (see internal/array.Context.Pool == nil). Close must be
// called once every Group opened on the pool has finished waiting, to
// stop its worker goroutines.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{size: size}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Size reports the pool's configured worker count.
func (p *Pool) Size() int { return p.size }

// Close stops the pool's worker goroutines once the queue drains. Safe to
// call once, after every Group opened on the pool has returned from
// Wait.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Pool) worker() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		it := heap.Pop(&p.queue).(*queueItem)
		p.mu.Unlock()
		it.run()
	}
}

// submit enqueues fn at priority, to be run by whichever worker goroutine
// next goes idle. Higher priority values run sooner; among equal
// priorities, submission order (FIFO) breaks the tie.
func (p *Pool) submit(priority int, fn func()) {
	p.mu.Lock()
	p.seq++
	heap.Push(&p.queue, &queueItem{priority: priority, seq: p.seq, run: fn})
	p.cond.Signal()
	p.mu.Unlock()
}

// NewGroup opens a fork-join group whose tasks are dispatched through the
// pool's shared priority queue. Tasks never block waiting on their own
// children: Go only enqueues work and returns immediately, so a task may
// safely submit further child tasks to the same Group (e.g. parallel
// quicksort's recursive partitions, at increasing priority) without
// holding a worker goroutine hostage waiting for a slot — the classic
// failure mode of a bounded pool that recurses into itself via a blocking
// fork-join call.
func (p *Pool) NewGroup() *Group {
	return &Group{pool: p}
}

// Group is one fork-join round of work dispatched onto its Pool's shared
// queue and worker goroutines.
type Group struct {
	pool *Pool
	wg   sync.WaitGroup

	mu  sync.Mutex
	err error
}

// Go enqueues fn at the given priority. priority is conventionally the
// task's recursion depth: increasing priority with depth means a
// partially completed subtree's tasks drain before a fresh, shallower
// split starts, bounding how many partitions are ever in-flight (and
// hence alive in memory) at once.
func (g *Group) Go(priority int, fn func() error) {
	g.wg.Add(1)
	g.pool.submit(priority, func() {
		defer g.wg.Done()
		if err := fn(); err != nil {
			g.mu.Lock()
			if g.err == nil {
				g.err = err
			}
			g.mu.Unlock()
		}
	})
}

// Wait blocks until every task scheduled on the group — including any
// further tasks those tasks themselves scheduled — has finished. A
// worker-pool task is never allowed to fail: the array sorter's
// partition/scatter/histogram callbacks have no failure mode of their
// own (no I/O, nothing that returns an error in practice). A non-nil
// error here means a task was built incorrectly, not that the input data
// was bad, so it is logged and treated as fatal — the process exits —
// rather than returned to the caller for recovery.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	err := g.err
	g.mu.Unlock()
	if err != nil {
		trace.WP.Fatalf("worker pool task reported an error, which should be unreachable: %v", err)
	}
	return nil
}

// queueItem is one pending submission in a Pool's priority queue.
type queueItem struct {
	priority int
	seq      int64
	run      func()
}

// priorityQueue is a container/heap max-heap on priority, FIFO among
// equal priorities via seq.
type priorityQueue []*queueItem

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *priorityQueue) Push(x any) {
	*q = append(*q, x.(*queueItem))
}

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}
