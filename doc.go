// Package xsort implements an external-memory universal sorter: given a
// stream of caller-defined records, it produces a stream containing the
// same records in ascending key order, spilling to disk and fanning out
// across goroutines as needed to sort working sets that exceed the
// configured memory budget.
//
// The caller supplies an Adapter describing how to compare, read and write
// records; xsort owns everything else — chunking the input into in-memory
// runs, merging runs on disk, and (when the caller's keys carry an
// order-preserving hash) radix-sorting and radix-splitting instead of
// comparing.
package xsort
