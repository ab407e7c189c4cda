package array

// Sort dispatches entries to the appropriate algorithm by size and
// available capability, and returns the sorted slice (always entries
// itself —
// callers never need to track a second buffer; radix's own internal
// two-buffer alternation is hidden behind this entry point).
func Sort[K any](c *Context[K], entries []Entry[K]) []Entry[K] {
	n := int64(len(entries))
	hashBits := 0
	if c.Hasher != nil {
		hashBits = c.Hasher.HashBits()
	}

	useRadix := c.Hasher != nil &&
		n*c.ElemSize >= c.RadixThresholdBytes &&
		hashBits > c.MinRadixBits

	if !useRadix {
		if c.Pool != nil && n*c.ElemSize >= c.ThreadThresholdBytes {
			parallelQuicksort(c, entries)
		} else {
			quicksort(c, entries)
		}
		return entries
	}

	// MaxRadixBits bounds the total hash-bit budget radixSort/parallelRadix
	// ever recurse through, not just one level's split width (c.RadixBits
	// already bounds that): only the top MaxRadixBits bits of each hash
	// drive the radix passes, so the recursion's nextHashBits := hashBits - b
	// reaches zero, and falls back to quicksort, that many bits sooner,
	// capping recursion depth rather than letting a wide hash keep
	// splitting indefinitely.
	radixBits := hashBits
	if c.MaxRadixBits > 0 && radixBits > c.MaxRadixBits {
		radixBits = c.MaxRadixBits
		// The radix passes read cached hashes from bit radixBits-1 down, so
		// narrow each to its top radixBits bits and restore it afterwards.
		for i := range entries {
			entries[i].Hash >>= uint(hashBits - radixBits)
		}
		defer func() {
			for i := range entries {
				entries[i].Hash = c.Hasher.Hash(entries[i].Key)
			}
		}()
	}

	aux := make([]Entry[K], len(entries))
	if c.Pool != nil && n*c.ElemSize >= c.ThreadThresholdBytes {
		parallelRadix(c, entries, aux, radixBits)
	} else {
		radixSort(c, entries, aux, radixBits)
	}
	copy(entries, aux)
	return entries
}
