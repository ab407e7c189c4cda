package bucket

import (
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// VerifiedReader wraps a run's reader with an xxhash check against the
// checksum recorded when the run was written. A mismatch at EOF means the
// run was corrupted (or truncated) since it was written — an internal
// invariant violation the external-merge stage never expects to see in
// normal operation.
//
// Uses cespare/xxhash/v2, the same dependency creachadair-ffs pulls in
// for content-addressing.
type VerifiedReader struct {
	r        io.Reader
	h        *xxhash.Digest
	want     uint64
	done     bool
	runLabel string
}

// NewVerifiedReader wraps r, a run previously recorded with the given
// checksum, under runLabel (used only for error messages).
func NewVerifiedReader(r io.Reader, want uint64, runLabel string) *VerifiedReader {
	return &VerifiedReader{r: r, h: xxhash.New(), want: want, runLabel: runLabel}
}

func (v *VerifiedReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	if n > 0 {
		v.h.Write(p[:n])
	}
	if err == io.EOF && !v.done {
		v.done = true
		if got := v.h.Sum64(); got != v.want {
			return n, fmt.Errorf("bucket: %w: run %s checksum mismatch (want %x, got %x)",
				ErrCorruptRun, v.runLabel, v.want, got)
		}
	}
	return n, err
}

// ErrCorruptRun is returned (wrapped) by VerifiedReader when a run's
// content does not match the checksum recorded when the run was written.
// Sort reports it to its caller as a KindCorruptRun error.
var ErrCorruptRun = fmt.Errorf("bucket: run failed checksum verification")
