package fastbuf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ErrNotSupported is returned by positioning operations plain streams
// cannot honor (the caller's own input/output streams need not be
// seekable).
var ErrNotSupported = errors.New("fastbuf: operation not supported on this stream")

// PlainReader adapts an arbitrary io.Reader — typically the caller's own
// input stream — into a Stream. It backs the scheduler's source bucket.
// Direct buffer access is implemented via a bufio.Reader so the
// internal-sort stage's hot loop gets zero-copy reads even straight off
// the caller's stream.
type PlainReader struct {
	r      *bufio.Reader
	offset int64
}

// NewPlainReader wraps r with the given buffer size.
func NewPlainReader(r io.Reader, bufSize int) *PlainReader {
	return &PlainReader{r: bufio.NewReaderSize(r, bufSize)}
}

func (p *PlainReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.offset += int64(n)
	return n, err
}

func (p *PlainReader) Write([]byte) (int, error) {
	return 0, fmt.Errorf("fastbuf: PlainReader is read-only")
}

func (p *PlainReader) Tell() int64 { return p.offset }

func (p *PlainReader) Rewind() error { return ErrNotSupported }

func (p *PlainReader) Filesize() (int64, error) { return 0, ErrNotSupported }

func (p *PlainReader) Close() error { return nil }

// PrepareRead exposes bufio's own internal buffer directly for zero-copy
// reads.
func (p *PlainReader) PrepareRead(n int) ([]byte, error) {
	b, err := p.r.Peek(n)
	if err != nil && len(b) == 0 {
		return nil, err
	}
	return b, nil
}

// CommitRead advances past n bytes previously returned by PrepareRead.
func (p *PlainReader) CommitRead(n int) {
	discarded, _ := p.r.Discard(n)
	p.offset += int64(discarded)
}

// PlainWriter adapts an arbitrary io.Writer — the caller's output stream —
// into a Stream. It backs the scheduler's final/destination bucket.
type PlainWriter struct {
	w       *bufio.Writer
	offset  int64
	scratch []byte
}

// NewPlainWriter wraps w with the given buffer size.
func NewPlainWriter(w io.Writer, bufSize int) *PlainWriter {
	return &PlainWriter{w: bufio.NewWriterSize(w, bufSize)}
}

func (p *PlainWriter) Read([]byte) (int, error) {
	return 0, fmt.Errorf("fastbuf: PlainWriter is write-only")
}

func (p *PlainWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.offset += int64(n)
	return n, err
}

func (p *PlainWriter) Tell() int64 { return p.offset }

func (p *PlainWriter) Rewind() error { return ErrNotSupported }

func (p *PlainWriter) Filesize() (int64, error) { return p.offset, nil }

func (p *PlainWriter) Close() error { return p.w.Flush() }

// PrepareWrite provides a window for direct writes. bufio.Writer doesn't
// expose its internal buffer, so this flushes first and hands back a
// scratch window sized to n; the
// caller must CommitWrite before the next Write/PrepareWrite call.
func (p *PlainWriter) PrepareWrite(n int) ([]byte, error) {
	if err := p.w.Flush(); err != nil {
		return nil, err
	}
	if cap(p.scratch) < n {
		p.scratch = make([]byte, n)
	}
	return p.scratch[:n], nil
}

// CommitWrite flushes the first n bytes of the scratch window prepared by
// PrepareWrite straight through to the underlying writer.
func (p *PlainWriter) CommitWrite(n int) {
	nw, _ := p.w.Write(p.scratch[:n])
	p.offset += int64(nw)
}
