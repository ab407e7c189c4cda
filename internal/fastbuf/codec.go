package fastbuf

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names one of the two compression backends a run segment can use:
// lz4 for spill/reload speed, zstd as the higher-ratio option for
// segments expected to sit on disk across several merge passes.
type Codec int

const (
	// CodecLZ4 favors spill/reload speed; the default codec.
	CodecLZ4 Codec = iota
	// CodecZstd favors compression ratio, for segments expected to sit on
	// disk across several merge passes.
	CodecZstd
)

// newCompressWriter wraps w with the chosen codec's compressor.
func newCompressWriter(codec Codec, w io.Writer) (io.WriteCloser, error) {
	switch codec {
	case CodecZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	default:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.BlockSizeOption(lz4.Block64Kb)); err != nil {
			return nil, err
		}
		return lw, nil
	}
}

// newDecompressReader wraps r with the chosen codec's decompressor.
func newDecompressReader(codec Codec, r io.Reader) (io.ReadCloser, error) {
	switch codec {
	case CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return io.NopCloser(lz4.NewReader(r)), nil
	}
}
