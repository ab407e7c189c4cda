// Package trace implements the sorter's progress reporter: a banner
// printed once plus a single overwritten status line, gated by
// trace_level (0 silent, 1 banner + final summary, 2 adds the live
// status line, 3 adds per-pass detail).
//
// Follows the same "\r"-overwritten-line pattern as a Scanning/Merging/Done
// progress indicator, generalized from CSV-indexing phases to sort-pass
// phases; a shorter line is padded with spaces over the previous one
// rather than cleared with "\033[K"; humanize.Bytes/humanize.Comma handle the
// "%.1f GB" and rate formatting instead of hand-rolled string math.
package trace

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Reporter prints a banner and, at level >= 2, an overwritten status line
// tracking bytes processed against an expected total. Safe for concurrent
// Status calls, though the scheduler's single-threaded loop never needs
// that in practice.
type Reporter struct {
	level int
	out   io.Writer

	mu        sync.Mutex
	start     time.Time
	lastWidth int
}

// New creates a Reporter writing to out. level <= 0 makes every method a
// no-op.
func New(level int, out io.Writer) *Reporter {
	return &Reporter{level: level, out: out, start: time.Now()}
}

// Banner prints the one-time header identifying the input being sorted
// (level >= 1).
func (r *Reporter) Banner(label string, totalBytes int64) {
	if r.level < 1 {
		return
	}
	fmt.Fprintf(r.out, "xsort: %s (%s)\n", label, humanize.Bytes(uint64(totalBytes)))
}

// Status overwrites the current status line with the sorter's current
// phase, bytes processed against the expected total, and elapsed time
// (level >= 2).
func (r *Reporter) Status(phase string, bytesDone, bytesTotal int64, runs int) {
	if r.level < 2 {
		return
	}
	elapsed := time.Since(r.start)
	rate := float64(bytesDone) / elapsed.Seconds()

	line := fmt.Sprintf("[%s] %s / %s | %s/s | runs=%d | elapsed %s",
		phase, humanize.Bytes(uint64(bytesDone)), humanize.Bytes(uint64(bytesTotal)),
		humanize.Bytes(uint64(rate)), runs, elapsed.Round(time.Second))

	r.mu.Lock()
	defer r.mu.Unlock()
	pad := r.lastWidth - len(line)
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(r.out, "\r%s%*s", line, pad, "")
	r.lastWidth = len(line)
}

// Pass reports one scheduler action — which stage ran and on what bucket
// — at level >= 3, the detail tier above the single status line.
func (r *Reporter) Pass(stage string, bucketID uint64, runsBefore, runsAfter int) {
	if r.level < 3 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastWidth > 0 {
		fmt.Fprintln(r.out)
		r.lastWidth = 0
	}
	fmt.Fprintf(r.out, "  %s bucket=%d runs %d->%d\n", stage, bucketID, runsBefore, runsAfter)
}

// Done prints the final summary line (level >= 1) and, if the live
// status line was active, terminates it with a newline first.
func (r *Reporter) Done(totalBytes int64) {
	if r.level < 1 {
		return
	}
	r.mu.Lock()
	if r.lastWidth > 0 {
		fmt.Fprintln(r.out)
		r.lastWidth = 0
	}
	r.mu.Unlock()
	fmt.Fprintf(r.out, "xsort: done, %s in %s\n", humanize.Bytes(uint64(totalBytes)), time.Since(r.start).Round(time.Millisecond))
}
