package trace

import logging "github.com/ipfs/go-log/v2"

// Sub-loggers for the fatal-abort paths of the scheduler's fixpoint
// detection and the worker pool's no-legitimate-failure invariant — a
// breadcrumb survives even when TraceLevel is 0 and the live status line
// is silent.
var (
	Sched = logging.Logger("xsort/sched")
	WP    = logging.Logger("xsort/wp")
)
