// Package metrics exposes the sorter's optional Prometheus
// instrumentation. Metrics are always created so the rest of the module
// can record against them unconditionally; they are only registered
// with a caller-supplied registerer, never the global default registry.
//
// Grounded on rpcpool-yellowstone-faithful/metrics/metrics.go's
// promauto.NewCounterVec/NewGaugeVec/NewHistogramVec pattern, adapted
// from package-level vars registered on the default registry to an
// instance built via promauto.With(reg) against Config.Registerer —
// promauto.With(nil) still constructs the metric, it just skips
// registration, which is exactly the "only if non-nil" behavior this
// package needs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge/histogram the sorter records
// against during a Sort call.
type Metrics struct {
	BytesRead    prometheus.Counter
	BytesWritten prometheus.Counter

	RunsProduced  *prometheus.CounterVec // labeled by stage: internal_sort, internal_sort_hash_split, two_way_merge, k_way_merge, radix_split
	PassesRun     *prometheus.CounterVec // labeled by stage
	BucketsLive   prometheus.Gauge
	OpenFiles     prometheus.Gauge
	SwapOutEvents prometheus.Counter

	PassLatency *prometheus.HistogramVec // labeled by stage
	SortLatency prometheus.Histogram
}

// New builds a Metrics instance, registering every metric with reg if
// reg is non-nil. reg may safely be nil: the returned Metrics is still
// fully usable, it simply reports to nothing.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "xsort_bytes_read_total",
			Help: "Total bytes read from the input stream and from spilled runs.",
		}),
		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "xsort_bytes_written_total",
			Help: "Total bytes written to spilled runs and the output stream.",
		}),
		RunsProduced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xsort_runs_produced_total",
			Help: "Sorted runs produced, labeled by the stage that produced them.",
		}, []string{"stage"}),
		PassesRun: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xsort_passes_total",
			Help: "Scheduler passes run, labeled by stage.",
		}, []string{"stage"}),
		BucketsLive: f.NewGauge(prometheus.GaugeOpts{
			Name: "xsort_buckets_live",
			Help: "Buckets currently tracked by the scheduler.",
		}),
		OpenFiles: f.NewGauge(prometheus.GaugeOpts{
			Name: "xsort_open_files",
			Help: "Run segment files currently held open.",
		}),
		SwapOutEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "xsort_swap_out_total",
			Help: "Times a run segment was closed under file-descriptor pressure.",
		}),
		PassLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xsort_pass_latency_seconds",
			Help:    "Wall time of one scheduler pass, labeled by stage.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12),
		}, []string{"stage"}),
		SortLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "xsort_sort_latency_seconds",
			Help:    "Wall time of an entire Sort call.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 12),
		}),
	}
}
