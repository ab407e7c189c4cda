package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewWithNilRegistererIsUsable(t *testing.T) {
	m := New(nil)
	require.NotNil(t, m)

	m.BytesRead.Add(10)
	m.RunsProduced.WithLabelValues("internal_sort").Inc()
	m.BucketsLive.Set(3)
	m.SortLatency.Observe(0.5)

	require.Equal(t, 10.0, testutil.ToFloat64(m.BytesRead))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RunsProduced.WithLabelValues("internal_sort")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.BucketsLive))
}

func TestNewRegistersEveryCollectorOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	// CounterVec/HistogramVec families (RunsProduced, PassesRun,
	// PassLatency) only surface in Gather once a label combination has
	// been touched, so only the non-vector collectors are checked here;
	// TestRunsProducedLabelsAreIndependent covers a vec directly.
	for _, want := range []string{
		"xsort_bytes_read_total",
		"xsort_bytes_written_total",
		"xsort_buckets_live",
		"xsort_open_files",
		"xsort_swap_out_total",
		"xsort_sort_latency_seconds",
	} {
		require.True(t, names[want], "missing registered collector %s", want)
	}
}

func TestRunsProducedLabelsAreIndependent(t *testing.T) {
	m := New(nil)
	m.RunsProduced.WithLabelValues("internal_sort").Add(3)
	m.RunsProduced.WithLabelValues("two_way_merge").Add(5)

	require.Equal(t, 3.0, testutil.ToFloat64(m.RunsProduced.WithLabelValues("internal_sort")))
	require.Equal(t, 5.0, testutil.ToFloat64(m.RunsProduced.WithLabelValues("two_way_merge")))
}
