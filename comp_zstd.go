package squashfs

import (
	"errors"

	"github.com/klauspost/compress/zstd"
)

type zstdCodec struct {
	opts ZstdOptions
}

func newZstdCodec() Codec {
	return &zstdCodec{opts: ZstdOptions{CompressionLevel: 15}}
}

func (c *zstdCodec) Kind() Kind { return ZSTD }

func (c *zstdCodec) level() zstd.EncoderLevel {
	switch {
	case c.opts.CompressionLevel <= 3:
		return zstd.SpeedFastest
	case c.opts.CompressionLevel <= 9:
		return zstd.SpeedDefault
	case c.opts.CompressionLevel <= 15:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func (c *zstdCodec) Compress(src, dst []byte) (int, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level()))
	if err != nil {
		return 0, err
	}
	defer enc.Close()
	out := enc.EncodeAll(src, make([]byte, 0, len(dst)))
	if len(out) > len(dst) {
		return 0, ErrShortOutput
	}
	return copy(dst, out), nil
}

func (c *zstdCodec) Decompress(src, dst []byte) (int, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return 0, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(src, make([]byte, 0, len(dst)))
	if err != nil {
		return 0, errors.Join(ErrCorruptInput, err)
	}
	if len(out) > len(dst) {
		return 0, ErrCorruptInput
	}
	return copy(dst, out), nil
}

func (c *zstdCodec) MarshalOptions() []byte {
	return c.opts.encode()
}

func newZstdCodecFromOptions(data []byte) (Codec, error) {
	if len(data) == 0 {
		return newZstdCodec(), nil
	}
	opts, err := decodeZstdOptions(data)
	if err != nil {
		return nil, err
	}
	return &zstdCodec{opts: opts}, nil
}

func init() {
	registerCodec(ZSTD, newZstdCodec)
	registerCodecOptionParser(ZSTD, newZstdCodecFromOptions)
}
