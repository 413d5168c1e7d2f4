package squashfs

import "fmt"

// Per-codec compressor-options wire layouts (§4.C), grounded on
// original_source/repr/src/compression/options.rs. Each is a fixed-size
// packed little-endian record written into the single, never-compressed
// metablock at file offset 96 when SquashFlags.COMPRESSOR_OPTIONS is set.

// GzipOptions mirrors repr::compression::options::Gzip.
type GzipOptions struct {
	CompressionLevel uint32 // 1..9, default 9
	WindowSize       uint16 // 9..15 (spec.md §4.C), default 15
	Strategies       uint16
}

func (o GzipOptions) Size() int { return 8 }

func (o GzipOptions) encode() []byte {
	w := newPackedWriter(o.Size())
	w.u32(o.CompressionLevel)
	w.u16(o.WindowSize)
	w.u16(o.Strategies)
	return w.Bytes()
}

func decodeGzipOptions(data []byte) (GzipOptions, error) {
	r := newPackedReader(data)
	o := GzipOptions{
		CompressionLevel: r.u32(),
		WindowSize:       r.u16(),
		Strategies:       r.u16(),
	}
	if r.Err() != nil {
		return o, r.Err()
	}
	if o.CompressionLevel < 1 || o.CompressionLevel > 9 {
		return o, fmt.Errorf("%w: gzip compression_level %d out of [1,9]", ErrInvalidCompressorOptions, o.CompressionLevel)
	}
	if o.WindowSize < 9 || o.WindowSize > 15 {
		return o, fmt.Errorf("%w: gzip window_size %d out of [9,15]", ErrInvalidCompressorOptions, o.WindowSize)
	}
	return o, nil
}

// XzOptions mirrors repr::compression::options::Xz.
type XzOptions struct {
	DictionarySize    uint32
	ExecutableFilters uint32
}

func (o XzOptions) Size() int { return 8 }

func (o XzOptions) encode() []byte {
	w := newPackedWriter(o.Size())
	w.u32(o.DictionarySize)
	w.u32(o.ExecutableFilters)
	return w.Bytes()
}

func decodeXzOptions(data []byte) (XzOptions, error) {
	r := newPackedReader(data)
	o := XzOptions{
		DictionarySize:    r.u32(),
		ExecutableFilters: r.u32(),
	}
	return o, r.Err()
}

// Lz4Options mirrors repr::compression::options::Lz4.
type Lz4Options struct {
	Version int32
	Flags   uint32
}

func (o Lz4Options) Size() int { return 8 }

func (o Lz4Options) encode() []byte {
	w := newPackedWriter(o.Size())
	w.i32(o.Version)
	w.u32(o.Flags)
	return w.Bytes()
}

func decodeLz4Options(data []byte) (Lz4Options, error) {
	r := newPackedReader(data)
	o := Lz4Options{
		Version: r.i32(),
		Flags:   r.u32(),
	}
	return o, r.Err()
}

// ZstdOptions mirrors repr::compression::options::Zstd.
type ZstdOptions struct {
	CompressionLevel uint32 // 1..22, default 15
}

func (o ZstdOptions) Size() int { return 4 }

func (o ZstdOptions) encode() []byte {
	w := newPackedWriter(o.Size())
	w.u32(o.CompressionLevel)
	return w.Bytes()
}

func decodeZstdOptions(data []byte) (ZstdOptions, error) {
	r := newPackedReader(data)
	o := ZstdOptions{CompressionLevel: r.u32()}
	if r.Err() != nil {
		return o, r.Err()
	}
	if o.CompressionLevel < 1 || o.CompressionLevel > 22 {
		return o, fmt.Errorf("%w: zstd level %d out of [1,22]", ErrInvalidCompressorOptions, o.CompressionLevel)
	}
	return o, nil
}

// LzmaOptions: lzma has no squashfs-standard options record (squashfs-tools
// never shipped one); kept as an empty, always-default options type so the
// registry's shape stays uniform across codecs.
type LzmaOptions struct{}

func (o LzmaOptions) Size() int { return 0 }
