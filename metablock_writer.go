package squashfs

// metablockWriter assembles one squashfs metadata block stream: arbitrary
// byte records are appended, buffered into metablockSize (8 KiB) chunks,
// compressed independently, and framed with a 2-byte header (size_on_disk
// with the high bit set when the chunk is stored compressed). Grounded
// closely on
// original_source/src/write/metablock_writer.rs; replaces the ad hoc
// buffering the teacher's writer.go inlined at each call site.
type metablockWriter struct {
	codec   Codec // nil means never compress (§4.A "never-compressed" sections)
	output  []byte
	current []byte
}

func newMetablockWriter(codec Codec) *metablockWriter {
	return &metablockWriter{
		codec:   codec,
		current: globalBufferPool.getMetablock(),
	}
}

// position returns a reference to the next byte that write/writeRaw will
// produce, valid for the lifetime of the writer: block_start only advances
// at flush boundaries, so a reference taken before an append still names the
// same logical bytes afterward (§3 "Position contract").
func (w *metablockWriter) position() inodeRef {
	return newInodeRef(uint64(len(w.output)), uint16(len(w.current)))
}

// writeRaw appends raw bytes, flushing as many full metablocks as needed.
func (w *metablockWriter) writeRaw(data []byte) {
	for metablockSize-len(w.current) <= len(data) {
		n := metablockSize - len(w.current)
		w.current = append(w.current, data[:n]...)
		w.flush()
		data = data[n:]
	}
	w.current = append(w.current, data...)
}

// finish flushes any partial final block and returns the assembled stream.
// The writer must not be used afterward.
func (w *metablockWriter) finish() []byte {
	w.flush()
	out := w.output
	w.output = nil
	return out
}

func (w *metablockWriter) flush() {
	if len(w.current) == 0 {
		return
	}
	if w.codec != nil {
		dst := globalBufferPool.getDatablock()
		if cap(dst) < len(w.current)-1 {
			dst = make([]byte, 0, len(w.current)-1)
		}
		dst = dst[:maxInt(len(w.current)-1, 0)]
		n, err := w.codec.Compress(w.current, dst)
		if err == nil {
			w.writeFramed(dst[:n], true)
		} else {
			w.writeFramed(w.current, false)
		}
		globalBufferPool.putDatablock(dst)
	} else {
		w.writeFramed(w.current, false)
	}
	globalBufferPool.putMetablock(w.current)
	w.current = globalBufferPool.getMetablock()
}

func (w *metablockWriter) writeFramed(data []byte, compressed bool) {
	header := uint16(len(data))
	if compressed {
		header |= 0x8000
	}
	w.output = append(w.output, byte(header), byte(header>>8))
	w.output = append(w.output, data...)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
