package xsort

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Codec selects the compression used for spilled run files (see
// internal/fastbuf). The default, Lz4Codec, favors spill/reload speed; Zstd
// favors ratio for buckets that are expected to sit on disk across several
// merge passes (radix-split children, k-way merge inputs held open a long
// time under FD pressure).
type Codec int

const (
	// Lz4Codec compresses spilled runs with LZ4 (fast, modest ratio).
	Lz4Codec Codec = iota
	// ZstdCodec compresses spilled runs with zstd (slower, better ratio).
	ZstdCodec
)

// TempNaming selects how temporary bucket files are named on disk.
type TempNaming int

const (
	// PrivateNaming names temp files with a process-ID prefix and a
	// per-context counter.
	PrivateNaming TempNaming = iota
	// UniqueNaming names temp files with a random UUID, avoiding any
	// dependence on process-local counters (useful when several sort
	// contexts in the same process share a temp directory).
	UniqueNaming
)

// Config holds every tunable the sorter recognizes. All of them have
// workable defaults; Default returns a Config with those defaults applied.
type Config struct {
	// SortBufferBytes is the total size of the in-memory sort buffer. Must
	// be at least twice the adapter's per-record footprint; checked
	// synchronously at sort_begin, once Sort has the adapter in hand.
	SortBufferBytes int64

	// StreamBufferBytes is the per-stream fastbuf buffer size.
	StreamBufferBytes int

	// RadixThresholdBytes: bucket payload sizes below this always use
	// quicksort, never radix, regardless of whether a hash is available.
	RadixThresholdBytes int64

	// RadixBits is the radix width in bits used per pass when radix
	// sorting or radix splitting.
	RadixBits int
	// MinRadixBits and MaxRadixBits bound the bit width radix split may
	// pick for a given bucket.
	MinRadixBits int
	MaxRadixBits int

	// MinMultiwayBits and MaxMultiwayBits bound log2(k) for the k-way
	// merge fan-in the scheduler may choose. k itself need not be a power
	// of two; these bound the search range the heuristic considers.
	MinMultiwayBits int
	MaxMultiwayBits int

	// WorkerThreads is the size of the worker pool used by the array
	// sorter's parallel variants. 0 disables parallelism entirely.
	WorkerThreads int

	// ThreadThresholdBytes: array partitions smaller than this are sorted
	// in place rather than handed to the worker pool.
	ThreadThresholdBytes int64
	// ThreadChunkBytes: the approximate slab size used by parallel radix's
	// phase-A histogram workers.
	ThreadChunkBytes int64

	// TraceLevel controls how verbose the trace reporter is: 0 silent, 1
	// banner + final summary, 2 a live overwritten status line, 3 adds
	// per-pass detail.
	TraceLevel int

	// TempDir is the directory under which temporary bucket files are
	// created.
	TempDir string
	// Naming selects the temp-file naming policy.
	Naming TempNaming
	// Codec selects the compression used for spilled runs.
	Codec Codec

	// MaxOpenFiles caps the number of concurrently open bucket file
	// descriptors; buckets beyond the cap are transparently swapped out.
	// 0 means "use a conservative default".
	MaxOpenFiles int

	// Registerer, if non-nil, receives the sorter's prometheus collectors
	// (internal/metrics). Metrics are entirely optional.
	Registerer prometheus.Registerer
}

// Default returns a Config with workable defaults for all tunables.
func Default() Config {
	return Config{
		SortBufferBytes:      64 << 20, // 64 MiB
		StreamBufferBytes:    256 << 10,
		RadixThresholdBytes:  1 << 20, // 1 MiB
		RadixBits:            8,
		MinRadixBits:         4,
		MaxRadixBits:         16,
		MinMultiwayBits:      1,
		MaxMultiwayBits:      6,
		WorkerThreads:        0,
		ThreadThresholdBytes: 1 << 20,
		ThreadChunkBytes:     256 << 10,
		TraceLevel:           0,
		TempDir:              "",
		Naming:               PrivateNaming,
		Codec:                Lz4Codec,
		MaxOpenFiles:         64,
	}
}

// validate checks the tunables for internal consistency, returning a
// KindConfigInvalid error on the first violation. maxRecordBytes, once known (the Adapter's KeySize plus a conservative tail
// estimate), is checked against SortBufferBytes.
func (c *Config) validate(maxRecordBytes int64) error {
	if c.SortBufferBytes <= 0 {
		return newError(KindConfigInvalid, "config", fmt.Errorf("sort_buffer_bytes must be positive"))
	}
	if maxRecordBytes > 0 && c.SortBufferBytes < 2*maxRecordBytes {
		return newError(KindConfigInvalid, "config", fmt.Errorf(
			"sort_buffer_bytes (%d) must be at least 2x the max record size (%d)",
			c.SortBufferBytes, maxRecordBytes))
	}
	if c.StreamBufferBytes <= 0 {
		return newError(KindConfigInvalid, "config", fmt.Errorf("stream_buffer_bytes must be positive"))
	}
	if c.RadixBits <= 0 || c.RadixBits > 24 {
		return newError(KindConfigInvalid, "config", fmt.Errorf("radix_bits out of range: %d", c.RadixBits))
	}
	if c.MinRadixBits <= 0 || c.MinRadixBits > c.MaxRadixBits {
		return newError(KindConfigInvalid, "config", fmt.Errorf("min_radix_bits/max_radix_bits out of order"))
	}
	if c.MinMultiwayBits <= 0 || c.MinMultiwayBits > c.MaxMultiwayBits {
		return newError(KindConfigInvalid, "config", fmt.Errorf("min_multiway_bits/max_multiway_bits out of order"))
	}
	if c.WorkerThreads < 0 {
		return newError(KindConfigInvalid, "config", fmt.Errorf("worker_threads must be >= 0"))
	}
	return nil
}
