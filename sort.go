package xsort

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/CZ-NIC/xsort/internal/array"
	"github.com/CZ-NIC/xsort/internal/bucket"
	"github.com/CZ-NIC/xsort/internal/fastbuf"
	"github.com/CZ-NIC/xsort/internal/metrics"
	"github.com/CZ-NIC/xsort/internal/sched"
	"github.com/CZ-NIC/xsort/internal/stage"
	"github.com/CZ-NIC/xsort/internal/trace"
	"github.com/CZ-NIC/xsort/internal/wp"
)

// Sort reads records from r, sorts them into ascending key order per
// adapter, and writes them to w — spilling to disk and fanning out across
// goroutines as cfg allows.
//
// adapter must also implement Presorter: the internal-sort stage
// fundamentally needs to hold whole records in memory to reorder them, so
// there is no sort path that works from Adapter's streaming contract
// alone. adapter may additionally implement Unifier (to collapse equal
// keys), MonotoneHasher (to unlock radix sort and radix split), and
// DistinctSink (to observe each key the internal-sort stage writes out);
// all three
// are detected by type assertion and used only if present.
func Sort[K any](r io.Reader, w io.Writer, adapter Adapter[K], cfg Config) error {
	presorter, ok := adapter.(Presorter[K])
	if !ok {
		return newError(KindConfigInvalid, "sort", fmt.Errorf("adapter must also implement Presorter"))
	}

	// Entry[K]'s footprint beyond the tail bytes themselves: the key, the
	// cached hash, and the slice header. KeySize is the Adapter's upper
	// bound on key size; the rest is a fixed estimate, since ElemSize only feeds size-based thresholds, not
	// buffer accounting that needs to be exact.
	elemSize := int64(presorter.KeySize()) + 48

	// Validated synchronously here, at sort_begin, with the real per-record
	// footprint now in hand — not deferred to the first internal-sort pass,
	// where a too-small SortBufferBytes would otherwise only ever manifest
	// as silent giant-record passthrough instead of KindConfigInvalid.
	if err := cfg.validate(elemSize); err != nil {
		return err
	}

	m := metrics.New(cfg.Registerer)

	naming := fastbuf.PrivateNaming
	if cfg.Naming == UniqueNaming {
		naming = fastbuf.UniqueNaming
	}
	codec := fastbuf.CodecLZ4
	if cfg.Codec == ZstdCodec {
		codec = fastbuf.CodecZstd
	}

	store := bucket.NewStore(cfg.TempDir, naming, codec, cfg.StreamBufferBytes, cfg.MaxOpenFiles)
	store.SetMetrics(m)

	var pool *wp.Pool
	if cfg.WorkerThreads > 0 {
		pool = wp.New(cfg.WorkerThreads)
		defer pool.Close()
	}

	arrayCtx := &array.Context[K]{
		Adapter:              adapter,
		RadixThresholdBytes:  cfg.RadixThresholdBytes,
		RadixBits:            cfg.RadixBits,
		MinRadixBits:         cfg.MinRadixBits,
		MaxRadixBits:         cfg.MaxRadixBits,
		ThreadThresholdBytes: cfg.ThreadThresholdBytes,
		ThreadChunkBytes:     cfg.ThreadChunkBytes,
		Pool:                 pool,
		ElemSize:             elemSize,
	}

	stageCtx := &stage.Context[K]{
		Adapter:         presorter,
		ArrayCtx:        arrayCtx,
		SortBufferBytes: cfg.SortBufferBytes,
	}

	hasher, hasHash := adapter.(MonotoneHasher[K])
	if hasHash {
		arrayCtx.Hasher = hasher
		stageCtx.Hasher = hasher
	}
	if unifier, ok := adapter.(Unifier[K]); ok {
		stageCtx.Unifier = unifier
	}
	if sink, ok := adapter.(DistinctSink[K]); ok {
		stageCtx.DistinctSink = sink
	}

	tun := sched.Tunables{
		SortBufferBytes:   cfg.SortBufferBytes,
		StreamBufferBytes: int64(cfg.StreamBufferBytes),
		MinRadixBits:      cfg.MinRadixBits,
		MaxRadixBits:      cfg.MaxRadixBits,
		MinMultiwayBits:   cfg.MinMultiwayBits,
		MaxMultiwayBits:   cfg.MaxMultiwayBits,
	}

	rpt := trace.New(cfg.TraceLevel, os.Stderr)
	// totalBytes is unavailable up front for an arbitrary io.Reader, so the
	// banner and final summary report 0 rather than a real input size.
	rpt.Banner("xsort", 0)

	source := store.NewSourceBucket(r)
	final := store.NewFinalBucket(w)

	s := sched.New(store, stageCtx, tun, hasHash, final, rpt, m)
	s.AddSource(source)

	start := time.Now()
	err := s.Run()
	m.SortLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		kind := KindIOFailed
		if errors.Is(err, bucket.ErrCorruptRun) {
			kind = KindCorruptRun
		}
		return newError(kind, "sort", err)
	}

	rpt.Done(0)
	return nil
}
