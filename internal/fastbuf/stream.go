// Package fastbuf implements the sequential byte-stream abstraction the
// sorter consumes: a stream is read or written strictly sequentially,
// with optional direct-buffer access for the zero-copy hot paths in the
// internal-sort and external-merge stages.
package fastbuf

import "io"

// Stream is the sequential byte stream contract the sorter's stages build
// on. Implementations need not support random-access seeking; Rewind
// (seek back to the start) and Filesize are the only positioning
// operations the sorter actually needs.
type Stream interface {
	io.Reader
	io.Writer

	// Tell reports the current logical byte offset (bytes read, or bytes
	// written, depending on which direction the stream is currently
	// open in).
	Tell() int64

	// Rewind repositions a stream that has been written to back to its
	// start for reading. Only valid on streams whose write side has been
	// closed or flushed.
	Rewind() error

	// Filesize reports the total number of logical bytes the stream
	// holds. Meaningful only once the write side is closed.
	Filesize() (int64, error)

	// Close releases any resources (file descriptors, compressor state)
	// held by the stream. Close does not delete backing storage.
	Close() error
}

// DirectReader is an optional capability: streams that can expose their
// internal buffer implement it so callers can parse records without an
// intermediate copy.
type DirectReader interface {
	// PrepareRead returns up to n bytes from the stream's internal buffer
	// without copying. The returned slice may be shorter than n at EOF or
	// when the internal buffer doesn't currently hold n bytes; callers
	// must fall back to Read in that case.
	PrepareRead(n int) ([]byte, error)
	// CommitRead advances the read cursor past the first n bytes
	// previously returned by PrepareRead.
	CommitRead(n int)
}

// DirectWriter is the write-side equivalent of DirectReader.
type DirectWriter interface {
	// PrepareWrite returns a writable window of up to n bytes into the
	// stream's internal buffer. The window may be shorter than n.
	PrepareWrite(n int) ([]byte, error)
	// CommitWrite advances the write cursor past the first n bytes of a
	// window previously returned by PrepareWrite, making them eligible
	// for flush.
	CommitWrite(n int)
}
