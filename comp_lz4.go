package squashfs

import (
	"bytes"
	"errors"

	"github.com/pierrec/lz4/v4"
)

// lz4Codec is grounded on diskfs-go-diskfs's use of pierrec/lz4/v4, recruited
// here because the teacher package never wired an LZ4 codec (§2 DOMAIN STACK).
type lz4Codec struct {
	opts Lz4Options
}

func newLz4Codec() Codec {
	return &lz4Codec{opts: Lz4Options{Version: 1}}
}

func (c *lz4Codec) Kind() Kind { return LZ4 }

func (c *lz4Codec) Compress(src, dst []byte) (int, error) {
	var w bytes.Buffer
	zw := lz4.NewWriter(&w)
	if c.opts.Flags&1 != 0 {
		if err := zw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return 0, err
		}
	}
	if _, err := zw.Write(src); err != nil {
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	if w.Len() > len(dst) {
		return 0, ErrShortOutput
	}
	return copy(dst, w.Bytes()), nil
}

func (c *lz4Codec) Decompress(src, dst []byte) (int, error) {
	zr := lz4.NewReader(bytes.NewReader(src))
	n, err := readFullCapped(zr, dst)
	if err != nil {
		return n, errors.Join(ErrCorruptInput, err)
	}
	return n, nil
}

func (c *lz4Codec) MarshalOptions() []byte {
	return c.opts.encode()
}

func newLz4CodecFromOptions(data []byte) (Codec, error) {
	if len(data) == 0 {
		return newLz4Codec(), nil
	}
	opts, err := decodeLz4Options(data)
	if err != nil {
		return nil, err
	}
	return &lz4Codec{opts: opts}, nil
}

func init() {
	registerCodec(LZ4, newLz4Codec)
	registerCodecOptionParser(LZ4, newLz4CodecFromOptions)
}
