package sched

// Tunables is the subset of the caller's configuration the decision
// heuristic needs: bit-width and fan-in bounds, plus the sizes the cost
// model compares against. Kept as a small local struct, rather than
// importing the root package's Config, since internal/sched sits below
// the root package in the dependency graph.
type Tunables struct {
	SortBufferBytes   int64
	StreamBufferBytes int64
	MinRadixBits      int
	MaxRadixBits      int
	MinMultiwayBits   int
	MaxMultiwayBits   int
}

// bucketState is the subset of a bucket's bookkeeping the heuristic needs:
// its current sorted-run count, total size, and (when a hash is
// available) how many hash bits still discriminate its keys.
type bucketState struct {
	runs              int
	sizeBytes         int64
	hashBitsRemaining int
}

// decideKWay reports whether k-way merging a bucket's runs in one pass
// beats ceil(log2(runs)) sequential two-way passes, and the k it would
// use: two-way cost per pass is 2*size I/O repeated ceil(log2(runs))
// times; k-way cost is 2*size I/O for a single pass, using
// k*StreamBufferBytes of memory, provided that fits half the sort buffer
// (the other half is reserved for the output side).
func decideKWay(st bucketState, tun Tunables) (k int, ok bool) {
	if st.runs <= 2 {
		return 0, false
	}
	if ceilLog2(st.runs) <= 1 {
		return 0, false // a single two-way pass already finishes it
	}

	maxK := 1 << uint(tun.MaxMultiwayBits)
	minK := 1 << uint(tun.MinMultiwayBits)

	k = st.runs
	if k > maxK {
		k = maxK
	}
	if tun.StreamBufferBytes > 0 {
		budget := tun.SortBufferBytes / 2
		if int64(k)*tun.StreamBufferBytes > budget {
			k = int(budget / tun.StreamBufferBytes)
		}
	}
	if k < minK {
		return 0, false
	}
	if k < 2 {
		return 0, false
	}
	return k, true
}

// decideRadixSplit reports whether RS should run on a bucket whose size
// still dwarfs the sort buffer, and the split width b such that the
// expected child size (size / 2^b) is expected to fit one IS presort
// batch, bounded by the configured radix-bit range and by the hash bits
// the bucket actually has left to spend.
func decideRadixSplit(st bucketState, tun Tunables) (b int, ok bool) {
	if st.hashBitsRemaining <= tun.MinRadixBits {
		return 0, false
	}
	if st.sizeBytes <= tun.SortBufferBytes {
		return 0, false
	}

	ratio := st.sizeBytes / tun.SortBufferBytes
	b = 1
	for (int64(1) << uint(b)) < ratio {
		b++
	}
	if b > tun.MaxRadixBits {
		b = tun.MaxRadixBits
	}
	if b > st.hashBitsRemaining {
		b = st.hashBitsRemaining
	}
	if b < tun.MinRadixBits {
		return 0, false
	}
	return b, true
}

func ceilLog2(n int) int {
	if n <= 1 {
		return 0
	}
	bits := 0
	for v := n - 1; v > 0; v >>= 1 {
		bits++
	}
	return bits
}
