package array

// parallelRadix is the worker-pool-backed counterpart of radixSort. It
// divides src into contiguous slabs, one per worker:
//
//   - Phase A: each worker counts its slab's hash-bucket histogram into a
//     private count vector — no shared state, no contention.
//   - Phase B: a single-threaded prefix sum merges the per-worker
//     histograms into global bucket starts, then derives per-worker write
//     cursors so that workers never contend on output positions.
//   - Phase C: each worker scatters its slab into dst using its own
//     cursors — writes are disjoint across workers by construction.
//
// Buckets needing further sorting are then fanned out onto the same
// worker pool one level deep; grounded on the same yarpc radixsort32
// count/prefix-sum/place shape as the sequential version, with the
// per-worker cursor derivation modeling that repo's sync.Pool-backed
// scratch buffers (here, one slice per worker instead of a pool, since
// each Sort call already owns its own aux buffer).
func parallelRadix[K any](c *Context[K], src, dst []Entry[K], hashBits int) {
	n := len(src)
	if n < 2 {
		copy(dst, src)
		return
	}

	b := c.RadixBits
	if hashBits < b {
		b = hashBits
	}
	if b < 1 {
		b = 1
	}
	shift := hashBits - b
	if shift < 0 {
		shift = 0
	}
	numBuckets := 1 << uint(b)
	mask := uint64(numBuckets - 1)

	workers := c.Pool.Size()
	if c.ThreadChunkBytes > 0 && c.ElemSize > 0 {
		// Never hand a worker less than roughly ThreadChunkBytes of data:
		// cap the slab count so small batches don't get sliced into
		// slabs too thin to be worth the dispatch.
		bySize := int(int64(n) * c.ElemSize / c.ThreadChunkBytes)
		if bySize < 1 {
			bySize = 1
		}
		if bySize < workers {
			workers = bySize
		}
	}
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	bounds := slabBounds(n, workers)

	// Phase A.
	hist := make([][]int, workers)
	for w := range hist {
		hist[w] = make([]int, numBuckets)
	}
	ga := c.Pool.NewGroup()
	for w := 0; w < workers; w++ {
		w, lo, hi := w, bounds[w], bounds[w+1]
		ga.Go(0, func() error {
			h := hist[w]
			for _, e := range src[lo:hi] {
				idx := (e.Hash >> uint(shift)) & mask
				h[idx]++
			}
			return nil
		})
	}
	if err := ga.Wait(); err != nil {
		// Histogram tasks never return an error; defensive only.
		_ = err
	}

	// Phase B: single-threaded merge + per-worker cursor derivation.
	total := make([]int, numBuckets)
	for w := 0; w < workers; w++ {
		for i := 0; i < numBuckets; i++ {
			total[i] += hist[w][i]
		}
	}
	bucketStart := make([]int, numBuckets+1)
	for i := 0; i < numBuckets; i++ {
		bucketStart[i+1] = bucketStart[i] + total[i]
	}
	cursors := make([][]int, workers)
	for w := range cursors {
		cursors[w] = make([]int, numBuckets)
	}
	for i := 0; i < numBuckets; i++ {
		pos := bucketStart[i]
		for w := 0; w < workers; w++ {
			cursors[w][i] = pos
			pos += hist[w][i]
		}
	}

	// Phase C: disjoint scatter.
	gc := c.Pool.NewGroup()
	for w := 0; w < workers; w++ {
		w, lo, hi := w, bounds[w], bounds[w+1]
		gc.Go(0, func() error {
			local := make([]int, numBuckets)
			copy(local, cursors[w])
			for _, e := range src[lo:hi] {
				idx := (e.Hash >> uint(shift)) & mask
				dst[local[idx]] = e
				local[idx]++
			}
			return nil
		})
	}
	if err := gc.Wait(); err != nil {
		_ = err
	}

	// Recurse into non-trivial buckets, one level of fan-out.
	nextHashBits := hashBits - b
	gr := c.Pool.NewGroup()
	for i := 0; i < numBuckets; i++ {
		lo, hi := bucketStart[i], bucketStart[i+1]
		if hi-lo < 2 {
			continue
		}
		bucket := dst[lo:hi]
		if nextHashBits <= 0 || int64(len(bucket))*c.ElemSize < c.RadixThresholdBytes {
			gr.Go(1, func() error {
				quicksort(c, bucket)
				return nil
			})
			continue
		}
		scratch := src[lo:hi]
		gr.Go(1, func() error {
			radixSort(c, bucket, scratch, nextHashBits)
			copy(bucket, scratch)
			return nil
		})
	}
	_ = gr.Wait()
}

// slabBounds splits [0, n) into count roughly-equal contiguous slabs,
// returning count+1 boundaries.
func slabBounds(n, count int) []int {
	bounds := make([]int, count+1)
	base := n / count
	rem := n % count
	pos := 0
	for i := 0; i < count; i++ {
		size := base
		if i < rem {
			size++
		}
		bounds[i] = pos
		pos += size
	}
	bounds[count] = n
	return bounds
}
