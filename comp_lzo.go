package squashfs

// LZO is enumerated (Kind value 3, §4.C) but has no codec implementation in
// this build: there is no maintained pure-Go LZO implementation, and every
// existing Go binding requires cgo against liblzo2, which the rest of this
// module's dependency stack avoids entirely (see DESIGN.md, component C).
//
// No registerCodec(LZO, ...) call happens here, so IsSupported(LZO) is
// false and NewCodecFromOptions(LZO, ...) returns ErrDisabledCompression,
// matching the teacher's original DisabledCompression outcome for this
// algorithm (§7).

// LzoOptions mirrors repr::compression::options::Lzo's wire layout so a
// foreign archive's compressor-options metablock can still be parsed and
// reported even though this build cannot decompress its data blocks.
type LzoOptions struct {
	Algorithm uint32
	Level     uint32
}

func (o LzoOptions) Size() int { return 8 }

func (o LzoOptions) encode() []byte {
	w := newPackedWriter(o.Size())
	w.u32(o.Algorithm)
	w.u32(o.Level)
	return w.Bytes()
}

func decodeLzoOptions(data []byte) (LzoOptions, error) {
	r := newPackedReader(data)
	o := LzoOptions{
		Algorithm: r.u32(),
		Level:     r.u32(),
	}
	return o, r.Err()
}
