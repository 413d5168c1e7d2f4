package squashfs

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"
)

// boundedWriter is an io.Writer over a fixed-capacity destination slice; it
// reports ErrShortOutput once the destination would overflow, which every
// codec maps to the §4.D compress-fallback path.
type boundedWriter struct {
	dst []byte
	n   int
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > len(w.dst) {
		return 0, ErrShortOutput
	}
	copy(w.dst[w.n:], p)
	w.n += len(p)
	return len(p), nil
}

type gzipCodec struct {
	opts GzipOptions
}

func newGzipCodec() Codec {
	return &gzipCodec{opts: GzipOptions{CompressionLevel: 9, WindowSize: 15, Strategies: 1}}
}

func (c *gzipCodec) Kind() Kind { return GZip }

func (c *gzipCodec) Compress(src, dst []byte) (int, error) {
	bw := &boundedWriter{dst: dst}
	zw, err := gzip.NewWriterLevel(bw, int(c.opts.CompressionLevel))
	if err != nil {
		return 0, err
	}
	if _, err := zw.Write(src); err != nil {
		if errors.Is(err, ErrShortOutput) {
			return 0, ErrShortOutput
		}
		return 0, err
	}
	if err := zw.Close(); err != nil {
		if errors.Is(err, ErrShortOutput) {
			return 0, ErrShortOutput
		}
		return 0, err
	}
	return bw.n, nil
}

func (c *gzipCodec) Decompress(src, dst []byte) (int, error) {
	zr, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return 0, ErrCorruptInput
	}
	defer zr.Close()
	n, err := io.ReadFull(zr, dst)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return n, ErrCorruptInput
	}
	return n, nil
}

func (c *gzipCodec) MarshalOptions() []byte {
	return c.opts.encode()
}

func newGzipCodecFromOptions(data []byte) (Codec, error) {
	if len(data) == 0 {
		return newGzipCodec(), nil
	}
	opts, err := decodeGzipOptions(data)
	if err != nil {
		return nil, err
	}
	return &gzipCodec{opts: opts}, nil
}

func init() {
	registerCodec(GZip, newGzipCodec)
	registerCodecOptionParser(GZip, newGzipCodecFromOptions)
}
