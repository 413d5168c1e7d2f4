package squashfs

import (
	"bytes"
	"errors"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

type xzCodec struct {
	opts XzOptions
}

func newXzCodec() Codec {
	return &xzCodec{opts: XzOptions{DictionarySize: 1 << 20}}
}

func (c *xzCodec) Kind() Kind { return XZ }

func (c *xzCodec) Compress(src, dst []byte) (int, error) {
	bw := &boundedWriter{dst: dst}
	cfg := xz.WriterConfig{DictCap: int(c.opts.DictionarySize)}
	if cfg.DictCap == 0 {
		cfg.DictCap = 1 << 20
	}
	zw, err := cfg.NewWriter(bw)
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

func (c *xzCodec) Decompress(src, dst []byte) (int, error) {
	zr, err := xz.NewReader(bytes.NewReader(src))
	if err != nil {
		return 0, ErrCorruptInput
	}
	n, err := readFullCapped(zr, dst)
	if err != nil {
		return n, ErrCorruptInput
	}
	return n, nil
}

func (c *xzCodec) MarshalOptions() []byte {
	return c.opts.encode()
}

func newXzCodecFromOptions(data []byte) (Codec, error) {
	if len(data) == 0 {
		return newXzCodec(), nil
	}
	opts, err := decodeXzOptions(data)
	if err != nil {
		return nil, err
	}
	return &xzCodec{opts: opts}, nil
}

// lzmaCodec implements the legacy (pre-XZ-container) LZMA1 stream format
// squashfs calls "lzma", distinct from the XZ container above. Grounded on
// original_source's separate Lzma/Xz compression variants (repr::compression).
type lzmaCodec struct{}

func newLzmaCodec() Codec {
	return lzmaCodec{}
}

func (c lzmaCodec) Kind() Kind { return LZMA }

func (c lzmaCodec) Compress(src, dst []byte) (int, error) {
	bw := &boundedWriter{dst: dst}
	zw, err := lzma.NewWriter(bw)
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

func (c lzmaCodec) Decompress(src, dst []byte) (int, error) {
	zr, err := lzma.NewReader(bytes.NewReader(src))
	if err != nil {
		return 0, ErrCorruptInput
	}
	n, err := readFullCapped(zr, dst)
	if err != nil {
		return n, ErrCorruptInput
	}
	return n, nil
}

func (c lzmaCodec) MarshalOptions() []byte {
	return nil
}

func newLzmaCodecFromOptions(data []byte) (Codec, error) {
	if len(data) != 0 {
		return nil, ErrInvalidCompressorOptions
	}
	return newLzmaCodec(), nil
}

func init() {
	registerCodec(XZ, newXzCodec)
	registerCodecOptionParser(XZ, newXzCodecFromOptions)
	registerCodec(LZMA, newLzmaCodec)
	registerCodecOptionParser(LZMA, newLzmaCodecFromOptions)
}
