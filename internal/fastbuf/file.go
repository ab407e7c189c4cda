package fastbuf

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
)

// Naming selects how File names the temp file it creates.
type Naming int

const (
	// PrivateNaming names files "xsort-<pid>-<counter>.tmp": process-private,
	// counter-disambiguated chunk naming.
	PrivateNaming Naming = iota
	// UniqueNaming names files with a random UUID, so multiple sort
	// contexts in the same process (or a restarted process reusing a pid)
	// never collide on the same temp directory.
	UniqueNaming
)

var privateCounter uint64

// nextName returns the next temp file name for the given policy.
func nextName(naming Naming) string {
	switch naming {
	case UniqueNaming:
		return fmt.Sprintf("xsort-%s.tmp", uuid.NewString())
	default:
		n := atomic.AddUint64(&privateCounter, 1)
		return fmt.Sprintf("xsort-%d-%d.tmp", os.Getpid(), n)
	}
}

// File is a temp-file-backed Stream whose on-disk bytes are the chosen
// codec's compressed encoding of the logical stream content. It is the
// concrete Stream implementation backing each run segment a bucket spills
// to disk: one *os.File plus one codec reader/writer layered over it.
type File struct {
	path  string
	codec Codec
	f     *os.File

	// write side
	cw     io.WriteCloser
	bufw   *bufio.Writer
	offset int64

	// read side
	cr      io.ReadCloser
	bufr    *bufio.Reader
	roffset int64

	bufSize int
	closed  bool
}

// Create makes a new temp file under dir (the system temp dir if empty)
// named per naming, ready for writing.
func Create(dir string, naming Naming, codec Codec, bufSize int) (*File, error) {
	name := nextName(naming)
	path := name
	if dir != "" {
		path = filepath.Join(dir, name)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("fastbuf: create temp file: %w", err)
	}
	file := &File{path: path, codec: codec, f: f, bufSize: bufSize}
	if err := file.resetWriteSide(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return file, nil
}

func (file *File) resetWriteSide() error {
	file.bufw = bufio.NewWriterSize(file.f, file.bufSize)
	cw, err := newCompressWriter(file.codec, file.bufw)
	if err != nil {
		return err
	}
	file.cw = cw
	return nil
}

func (file *File) Read(b []byte) (int, error) {
	if file.bufr == nil {
		return 0, fmt.Errorf("fastbuf: File not rewound for reading")
	}
	n, err := file.cr.Read(b)
	file.roffset += int64(n)
	return n, err
}

func (file *File) Write(b []byte) (int, error) {
	if file.cw == nil {
		return 0, fmt.Errorf("fastbuf: File not open for writing")
	}
	n, err := file.cw.Write(b)
	file.offset += int64(n)
	return n, err
}

// Tell reports bytes written (write side) or bytes decompressed so far
// (read side), whichever side is currently active.
func (file *File) Tell() int64 {
	if file.cr != nil {
		return file.roffset
	}
	return file.offset
}

// Rewind closes the write side (flushing the codec's trailer) and reopens
// the file from its start for reading.
func (file *File) Rewind() error {
	if file.cw != nil {
		if err := file.cw.Close(); err != nil {
			return fmt.Errorf("fastbuf: flush compressor: %w", err)
		}
		if err := file.bufw.Flush(); err != nil {
			return fmt.Errorf("fastbuf: flush temp file: %w", err)
		}
		file.cw = nil
		file.bufw = nil
	}
	if file.cr != nil {
		file.cr.Close()
		file.cr = nil
	}
	if _, err := file.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("fastbuf: seek temp file: %w", err)
	}
	file.bufr = bufio.NewReaderSize(file.f, file.bufSize)
	cr, err := newDecompressReader(file.codec, file.bufr)
	if err != nil {
		return err
	}
	file.cr = cr
	file.roffset = 0
	return nil
}

// Filesize reports the logical (uncompressed) size written, valid once the
// write side has been closed via Rewind.
func (file *File) Filesize() (int64, error) {
	if file.cw != nil {
		return 0, fmt.Errorf("fastbuf: Filesize called before Rewind")
	}
	return file.offset, nil
}

// Close releases the file descriptor without deleting the backing file —
// a bucket that has been swapped out under FD pressure reopens it later
// via Reopen.
func (file *File) Close() error {
	if file.closed {
		return nil
	}
	file.closed = true
	if file.cw != nil {
		file.cw.Close()
		if file.bufw != nil {
			file.bufw.Flush()
		}
	}
	if file.cr != nil {
		file.cr.Close()
	}
	return file.f.Close()
}

// Size reports the logical (uncompressed) byte count written so far. Unlike
// Filesize it is valid even before the write side has been closed.
func (file *File) Size() int64 { return file.offset }

// Path reports the backing file's path, for swap-out bookkeeping in
// internal/bucket.
func (file *File) Path() string { return file.path }

// Remove closes (if needed) and deletes the backing file.
func (file *File) Remove() error {
	file.Close()
	return os.Remove(file.path)
}

// RemovePath deletes a run segment's backing file given only its path,
// for use once a File's descriptor has already been closed and discarded.
func RemovePath(path string) error {
	return os.Remove(path)
}

// Reopen reattaches a File to its backing path after its descriptor was
// closed for swap-out, positioning it for reading from the start.
func Reopen(path string, codec Codec, bufSize int) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fastbuf: reopen temp file: %w", err)
	}
	file := &File{path: path, codec: codec, f: f, bufSize: bufSize}
	bufr := bufio.NewReaderSize(f, bufSize)
	cr, err := newDecompressReader(codec, bufr)
	if err != nil {
		f.Close()
		return nil, err
	}
	file.bufr = bufr
	file.cr = cr
	return file, nil
}

// File does not implement DirectReader/DirectWriter: neither lz4 nor zstd
// readers/writers expose their internal buffers, so direct access is only
// available on the plain (uncompressed) ends of a pipeline — see
// PlainReader/PlainWriter.
