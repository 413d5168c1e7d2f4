package squashfs

import (
	"encoding/binary"
	"fmt"
)

// metablockReader streams decoded bytes out of a metablock stream starting
// at an arbitrary (block_start, offset) position, decompressing one frame at
// a time and re-filling on demand. It merges the teacher's near-duplicate
// tableReader and inodeReader into a single implementation (§3 "Metablock
// reader"), generalised with the exact flag the spec calls out.
type metablockReader struct {
	sb   *Superblock
	buf  []byte
	offt int64
}

// newMetablockReader opens a reader positioned at byte blockStart within the
// section beginning at sectionStart, skipping startOffset uncompressed bytes
// into the first frame.
func newMetablockReader(sb *Superblock, sectionStart uint64, blockStart uint64, startOffset uint16) (*metablockReader, error) {
	r := &metablockReader{
		sb:   sb,
		offt: int64(sectionStart + blockStart),
	}
	if err := r.readFrame(false, 0); err != nil {
		return nil, err
	}
	if startOffset != 0 {
		if int(startOffset) > len(r.buf) {
			return nil, ErrUnexpectedMetablockSize
		}
		r.buf = r.buf[startOffset:]
	}
	return r, nil
}

func (sb *Superblock) newInodeReader(ino inodeRef) (*metablockReader, error) {
	return newMetablockReader(sb, sb.InodeTableStart, ino.Index(), ino.Offset())
}

// newTableReader opens a reader at an absolute file offset base, skipping
// start uncompressed bytes into the first frame. Kept with this signature
// (rather than folded entirely into newMetablockReader) because several
// read-side call sites — directory listings, fragment lookups — already
// have an absolute byte offset instead of a section-relative block_start.
func (sb *Superblock) newTableReader(base int64, start int) (*metablockReader, error) {
	return newMetablockReader(sb, uint64(base), 0, uint16(start))
}

// readFrame reads and decodes one metablock frame at r.offt, advancing
// r.offt past it. When exact is true the decoded length must equal
// wantSize, else ErrUnexpectedMetablockSize.
func (r *metablockReader) readFrame(exact bool, wantSize int) error {
	head := make([]byte, 2)
	if _, err := r.sb.fs.ReadAt(head, r.offt); err != nil {
		return err
	}
	raw := binary.LittleEndian.Uint16(head)
	compressed := raw&0x8000 != 0
	size := int(raw &^ 0x8000)
	if size > metablockSize {
		return ErrHugeMetablock
	}

	data := make([]byte, size)
	if _, err := r.sb.fs.ReadAt(data, r.offt+2); err != nil {
		return err
	}
	r.offt += 2 + int64(size)

	if !compressed {
		r.buf = data
	} else {
		if r.sb.codec == nil {
			return ErrInvalidCompressor
		}
		dst := make([]byte, metablockSize)
		n, err := r.sb.codec.Decompress(data, dst)
		if err != nil {
			return fmt.Errorf("squashfs: metablock decompress: %w", err)
		}
		r.buf = dst[:n]
	}

	if exact && len(r.buf) != wantSize {
		return ErrUnexpectedMetablockSize
	}
	return nil
}

// Read implements io.Reader, pulling fresh frames as the buffer empties.
func (r *metablockReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		if err := r.readFrame(false, 0); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// readExact fills p completely, pulling as many frames as needed. Bytes of
// the last frame beyond the end of p stay buffered for the next read; no
// frame-boundary alignment is checked.
func (r *metablockReader) readExact(p []byte) error {
	for len(p) > 0 {
		if len(r.buf) == 0 {
			if err := r.readFrame(false, 0); err != nil {
				return err
			}
		}
		n := copy(p, r.buf)
		r.buf = r.buf[n:]
		p = p[n:]
	}
	return nil
}
