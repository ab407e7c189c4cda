package bucket

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CZ-NIC/xsort/internal/fastbuf"
)

func TestTempBucketRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, fastbuf.PrivateNaming, fastbuf.CodecLZ4, 4096, 0)

	b := store.NewTempBucket()
	require.Equal(t, 0, b.Runs())

	want := []string{"alpha", "bravo", "charlie"}
	for _, s := range want {
		w, err := b.BeginRun()
		require.NoError(t, err)
		_, err = io.WriteString(w, s)
		require.NoError(t, err)
		require.NoError(t, b.EndRun(w))
	}
	require.Equal(t, len(want), b.Runs())

	for i, s := range want {
		r, err := b.OpenRun(i)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		require.Equal(t, s, string(got))
		b.ReleaseRun(i)
	}

	require.NoError(t, b.Drop())
}

func TestSourceBucketWrapsReader(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, fastbuf.PrivateNaming, fastbuf.CodecLZ4, 4096, 0)

	src := bytes.NewBufferString("unsorted input")
	b := store.NewSourceBucket(src)
	require.Equal(t, KindSource, b.Kind())
	require.Equal(t, 0, b.Runs())

	r, err := b.OpenRun(0)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "unsorted input", string(got))
}

func TestFinalBucketAccumulatesOneRun(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, fastbuf.PrivateNaming, fastbuf.CodecLZ4, 4096, 0)

	var out bytes.Buffer
	b := store.NewFinalBucket(&out)
	w, err := b.BeginRun()
	require.NoError(t, err)
	_, err = io.WriteString(w, "sorted result")
	require.NoError(t, err)
	require.NoError(t, b.EndRun(w))
	require.Equal(t, 1, b.Runs())
	require.Equal(t, "sorted result", out.String())
}

func TestOpenPairHalvesStreamBuffer(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, fastbuf.PrivateNaming, fastbuf.CodecLZ4, 16384, 0)

	pair := store.OpenPair()
	require.Equal(t, 8192, pair[0].bufBytesOverride)
	require.Equal(t, 8192, pair[1].bufBytesOverride)
	require.NotEqual(t, pair[0].ID(), pair[1].ID())

	for _, b := range pair {
		w, err := b.BeginRun()
		require.NoError(t, err)
		_, err = io.WriteString(w, "half-buffered run")
		require.NoError(t, err)
		require.NoError(t, b.EndRun(w))
		require.Equal(t, 1, b.Runs())
	}

	for _, b := range pair {
		require.NoError(t, b.Drop())
	}
}

func TestOpenPairFloorsTinyBufferAt4KiB(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, fastbuf.PrivateNaming, fastbuf.CodecLZ4, 2048, 0)

	pair := store.OpenPair()
	require.Equal(t, 4096, pair[0].bufBytesOverride)
	require.Equal(t, 4096, pair[1].bufBytesOverride)
}

func TestStoreSwapsOutUnderFDPressure(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, fastbuf.PrivateNaming, fastbuf.CodecLZ4, 4096, 2)

	b := store.NewTempBucket()
	for i := 0; i < 4; i++ {
		w, err := b.BeginRun()
		require.NoError(t, err)
		_, err = io.WriteString(w, "run-data")
		require.NoError(t, err)
		require.NoError(t, b.EndRun(w))
	}

	// Reading more runs than the FD cap allows must still work, evicting
	// the least-recently-used open segment transparently between reads.
	for i := 0; i < 4; i++ {
		r, err := b.OpenRun(i)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		require.Equal(t, "run-data", string(got))
		b.ReleaseRun(i)
	}

	require.NoError(t, b.Drop())
}
