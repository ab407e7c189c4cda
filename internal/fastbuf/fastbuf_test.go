package fastbuf

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeAndRewind(t *testing.T, file *File, data []byte) {
	t.Helper()
	n, err := file.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, file.Rewind())
}

func readAll(t *testing.T, file *File) []byte {
	t.Helper()
	got, err := io.ReadAll(file)
	require.NoError(t, err)
	return got
}

func TestFileRoundTripsContentUnderLZ4(t *testing.T) {
	dir := t.TempDir()
	file, err := Create(dir, PrivateNaming, CodecLZ4, 4096)
	require.NoError(t, err)
	defer file.Remove()

	want := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog"), 500)
	writeAndRewind(t, file, want)
	require.Equal(t, want, readAll(t, file))
}

func TestFileRoundTripsContentUnderZstd(t *testing.T) {
	dir := t.TempDir()
	file, err := Create(dir, PrivateNaming, CodecZstd, 4096)
	require.NoError(t, err)
	defer file.Remove()

	want := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog"), 500)
	writeAndRewind(t, file, want)
	require.Equal(t, want, readAll(t, file))
}

func TestFileSizeBeforeAndAfterRewind(t *testing.T) {
	dir := t.TempDir()
	file, err := Create(dir, PrivateNaming, CodecLZ4, 4096)
	require.NoError(t, err)
	defer file.Remove()

	payload := make([]byte, 12345)
	for i := range payload {
		payload[i] = byte(i)
	}

	_, err = file.Write(payload)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), file.Size())

	// Filesize is only meaningful once the write side is closed.
	_, err = file.Filesize()
	require.Error(t, err)

	require.NoError(t, file.Rewind())
	got, err := file.Filesize()
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), got)
}

func TestFileTellTracksActiveSide(t *testing.T) {
	dir := t.TempDir()
	file, err := Create(dir, PrivateNaming, CodecLZ4, 4096)
	require.NoError(t, err)
	defer file.Remove()

	data := []byte("twelve bytes")
	n, err := file.Write(data)
	require.NoError(t, err)
	require.Equal(t, int64(n), file.Tell())

	require.NoError(t, file.Rewind())
	require.Equal(t, int64(0), file.Tell())

	buf := make([]byte, 5)
	read, err := file.Read(buf)
	require.NoError(t, err)
	require.Equal(t, int64(read), file.Tell())
}

func TestFileReadBeforeRewindFails(t *testing.T) {
	dir := t.TempDir()
	file, err := Create(dir, PrivateNaming, CodecLZ4, 4096)
	require.NoError(t, err)
	defer file.Remove()

	_, err = file.Read(make([]byte, 4))
	require.Error(t, err)
}

func TestReopenResumesReadingAfterClose(t *testing.T) {
	dir := t.TempDir()
	file, err := Create(dir, PrivateNaming, CodecZstd, 4096)
	require.NoError(t, err)

	want := bytes.Repeat([]byte("segment data"), 1000)
	writeAndRewind(t, file, want)
	path := file.Path()
	require.NoError(t, file.Close())

	reopened, err := Reopen(path, CodecZstd, 4096)
	require.NoError(t, err)
	defer reopened.Remove()

	require.Equal(t, want, readAll(t, reopened))
}

func TestRemovePathDeletesClosedFile(t *testing.T) {
	dir := t.TempDir()
	file, err := Create(dir, PrivateNaming, CodecLZ4, 4096)
	require.NoError(t, err)

	writeAndRewind(t, file, []byte("gone soon"))
	path := file.Path()
	require.NoError(t, file.Close())

	require.NoError(t, RemovePath(path))
	_, err = Reopen(path, CodecLZ4, 4096)
	require.Error(t, err)
}

func TestPrivateNamingProducesDistinctSequentialNames(t *testing.T) {
	dir := t.TempDir()
	a, err := Create(dir, PrivateNaming, CodecLZ4, 4096)
	require.NoError(t, err)
	defer a.Remove()
	b, err := Create(dir, PrivateNaming, CodecLZ4, 4096)
	require.NoError(t, err)
	defer b.Remove()

	require.NotEqual(t, a.Path(), b.Path())
}

func TestUniqueNamingProducesDistinctNames(t *testing.T) {
	dir := t.TempDir()
	a, err := Create(dir, UniqueNaming, CodecLZ4, 4096)
	require.NoError(t, err)
	defer a.Remove()
	b, err := Create(dir, UniqueNaming, CodecLZ4, 4096)
	require.NoError(t, err)
	defer b.Remove()

	require.NotEqual(t, a.Path(), b.Path())
}

func TestPlainReaderDirectReadMatchesCopy(t *testing.T) {
	want := bytes.Repeat([]byte("abcdefgh"), 256)
	pr := NewPlainReader(bytes.NewReader(want), 512)

	peeked, err := pr.PrepareRead(16)
	require.NoError(t, err)
	require.Equal(t, want[:16], peeked)
	pr.CommitRead(16)
	require.Equal(t, int64(16), pr.Tell())

	rest, err := io.ReadAll(pr)
	require.NoError(t, err)
	require.Equal(t, want[16:], rest)
	require.Equal(t, int64(len(want)), pr.Tell())
}

func TestPlainReaderIsReadOnly(t *testing.T) {
	pr := NewPlainReader(bytes.NewReader(nil), 64)
	_, err := pr.Write([]byte("x"))
	require.Error(t, err)
	require.ErrorIs(t, pr.Rewind(), ErrNotSupported)
}

func TestPlainWriterDirectWriteFlushesThrough(t *testing.T) {
	var out bytes.Buffer
	pw := NewPlainWriter(&out, 512)

	window, err := pw.PrepareWrite(5)
	require.NoError(t, err)
	copy(window, []byte("hello"))
	pw.CommitWrite(5)

	n, err := pw.Write([]byte(" world"))
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.NoError(t, pw.Close())

	require.Equal(t, "hello world", out.String())
	size, err := pw.Filesize()
	require.NoError(t, err)
	require.Equal(t, int64(len("hello world")), size)
}

func TestPlainWriterIsWriteOnly(t *testing.T) {
	var out bytes.Buffer
	pw := NewPlainWriter(&out, 64)
	_, err := pw.Read(make([]byte, 4))
	require.Error(t, err)
	require.ErrorIs(t, pw.Rewind(), ErrNotSupported)
}

var (
	_ DirectReader = (*PlainReader)(nil)
	_ DirectWriter = (*PlainWriter)(nil)
	_ Stream       = (*PlainReader)(nil)
	_ Stream       = (*PlainWriter)(nil)
	_ Stream       = (*File)(nil)
)
