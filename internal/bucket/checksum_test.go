package bucket

import (
	"io"
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/require"
)

func TestVerifiedReaderPassesOnMatchingChecksum(t *testing.T) {
	data := "the content of one run segment"
	h := xxhash.New()
	_, _ = h.Write([]byte(data))

	r := NewVerifiedReader(strings.NewReader(data), h.Sum64(), "run-0")
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, string(got))
}

func TestVerifiedReaderFailsOnChecksumMismatch(t *testing.T) {
	r := NewVerifiedReader(strings.NewReader("tampered content"), 0xdeadbeef, "run-3")
	_, err := io.ReadAll(r)
	require.ErrorIs(t, err, ErrCorruptRun)
}
