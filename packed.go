package squashfs

import "encoding/binary"

// packedWriter accumulates fixed-layout little-endian fields with no padding
// between them, matching the on-disk record layouts used throughout squashfs
// (superblock, inode bodies, directory entries, fragment/id/xattr table rows).
//
// Records written by this package, and the superblock on the read side, are
// encoded/decoded through a packedWriter or packedReader, so a record's
// encoded size is always exactly the sum of the field sizes written, with no
// implicit alignment. The read-side inode and directory parsers (inode.go,
// dir.go) read their fields with encoding/binary.Read instead.
type packedWriter struct {
	buf []byte
}

func newPackedWriter(sizeHint int) *packedWriter {
	return &packedWriter{buf: make([]byte, 0, sizeHint)}
}

func (w *packedWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *packedWriter) i8(v int8)    { w.u8(uint8(v)) }
func (w *packedWriter) bytes(v []byte) { w.buf = append(w.buf, v...) }

func (w *packedWriter) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *packedWriter) i16(v int16) { w.u16(uint16(v)) }

func (w *packedWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *packedWriter) i32(v int32) { w.u32(uint32(v)) }

func (w *packedWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *packedWriter) i64(v int64) { w.u64(uint64(v)) }

func (w *packedWriter) Bytes() []byte { return w.buf }
func (w *packedWriter) Len() int      { return len(w.buf) }

// packedReader is the mirror of packedWriter: sequential little-endian reads
// from a fixed byte slice, with a sticky error so callers can chain reads and
// check once at the end (the same pattern `byteio.StickyLittleEndianReader`
// uses in the MJKWoolnough-squashfs example).
type packedReader struct {
	buf []byte
	err error
}

func newPackedReader(data []byte) *packedReader {
	return &packedReader{buf: data}
}

func (r *packedReader) take(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if len(r.buf) < n {
		r.err = ErrUnexpectedMetablockSize
		return make([]byte, n)
	}
	v := r.buf[:n]
	r.buf = r.buf[n:]
	return v
}

func (r *packedReader) u8() uint8    { return r.take(1)[0] }
func (r *packedReader) i8() int8     { return int8(r.u8()) }
func (r *packedReader) bytes(n int) []byte {
	v := r.take(n)
	out := make([]byte, n)
	copy(out, v)
	return out
}

func (r *packedReader) u16() uint16 { return binary.LittleEndian.Uint16(r.take(2)) }
func (r *packedReader) i16() int16  { return int16(r.u16()) }
func (r *packedReader) u32() uint32 { return binary.LittleEndian.Uint32(r.take(4)) }
func (r *packedReader) i32() int32  { return int32(r.u32()) }
func (r *packedReader) u64() uint64 { return binary.LittleEndian.Uint64(r.take(8)) }
func (r *packedReader) i64() int64  { return int64(r.u64()) }

func (r *packedReader) Err() error { return r.err }

// packed is implemented by every fixed-layout on-disk record type. Size
// reports the record's compile-known encoded length. The interface has no
// encode/decode methods: the encode function is passed separately (see
// newTwoLevelTable).
type packed interface {
	Size() int
}
