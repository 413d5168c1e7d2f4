package squashfs

import (
	"errors"
	"io"
)

// FragmentConfig selects how a file's non-block-aligned tail is handled
// (§4.L "Fragment policy").
type FragmentConfig int

const (
	// FragmentNever stores every tail as its own trailing data block, of the
	// tail's actual length.
	FragmentNever FragmentConfig = iota
	// FragmentSmallFiles only sends tails from files shorter than one
	// block into the fragment assembler.
	FragmentSmallFiles
	// FragmentAlways sends every non-aligned tail into the fragment
	// assembler, regardless of file size.
	FragmentAlways
)

// ReadHoles is the optional sparse-read capability an input to
// dataBlockWriter.addFile may implement (§9 "sparse-read capability").
// Unsupported inputs are simply read normally; this never causes an error.
type ReadHoles interface {
	io.Reader
	// SkipHole reports how many guaranteed-zero bytes follow the current
	// read position, without consuming them from the underlying stream.
	// Implementations that cannot determine this return (0, false).
	SkipHole() (int64, bool)
}

var errNoFragmentBlockIdx = errors.New("squashfs: no fragment block index")

// fileBlocks summarises one ingested file's data for its owning inode
// (§4.L), grounded on original_source/src/write/datablocks.rs.
type fileBlocks struct {
	blocksStart  uint64
	sizes        []datablockSize
	sparseBytes  uint64
	fileSize     uint64
	hasFragment  bool
	fragmentIdx  uint32
	fragmentOff  uint32
}

// dataBlockWriter ingests file contents, dispatching whole blocks to a
// ParallelCompressor and routing non-aligned tails to a shared
// fragmentAssembler per the archive's FragmentConfig.
type dataBlockWriter struct {
	out       io.Writer
	offset    uint64
	blockSize uint32
	config    FragmentConfig
	comp      *ParallelCompressor
	frags     *fragmentAssembler
}

func newDataBlockWriter(out io.Writer, blockSize uint32, config FragmentConfig, comp *ParallelCompressor, frags *fragmentAssembler) *dataBlockWriter {
	return &dataBlockWriter{out: out, blockSize: blockSize, config: config, comp: comp, frags: frags}
}

func (w *dataBlockWriter) position() uint64 { return w.offset }

// addFile streams r's full contents, writing whole blocks immediately and
// handing any tail to the fragment assembler according to config.
func (w *dataBlockWriter) addFile(r io.Reader, size int64) (fileBlocks, error) {
	fb := fileBlocks{blocksStart: w.offset, fragmentIdx: 0xffffffff}
	remaining := size
	holes, canSkip := r.(ReadHoles)

	for remaining > 0 {
		toRead := int64(w.blockSize)
		full := remaining >= toRead
		if !full {
			toRead = remaining
		}

		if !full && w.wantsFragment(size) {
			tail := make([]byte, toRead)
			if _, err := io.ReadFull(r, tail); err != nil {
				return fb, err
			}
			idx, off, err := w.frags.add(tail)
			if err != nil {
				return fb, err
			}
			fb.hasFragment = true
			fb.fragmentIdx = idx
			fb.fragmentOff = off
			remaining = 0
			break
		}

		if canSkip {
			if n, ok := holes.SkipHole(); ok && n >= toRead {
				if _, err := io.CopyN(io.Discard, r, toRead); err != nil {
					return fb, err
				}
				fb.sizes = append(fb.sizes, datablockSize(0))
				fb.sparseBytes += uint64(toRead)
				remaining -= toRead
				continue
			}
		}

		buf := make([]byte, toRead)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fb, err
		}
		if isAllZero(buf) && int64(len(buf)) == int64(w.blockSize) {
			fb.sizes = append(fb.sizes, datablockSize(0))
			fb.sparseBytes += uint64(len(buf))
			remaining -= toRead
			continue
		}

		sz, err := w.writeBlock(buf)
		if err != nil {
			return fb, err
		}
		fb.sizes = append(fb.sizes, sz)
		remaining -= toRead
	}

	fb.fileSize = uint64(size)
	return fb, nil
}

// wantsFragment reports whether the current (non-aligned, final) tail
// should be routed to the fragment assembler rather than written as its own
// trailing data block, per the three-mode policy in §4.L.
func (w *dataBlockWriter) wantsFragment(fileSize int64) bool {
	switch w.config {
	case FragmentNever:
		return false
	case FragmentSmallFiles:
		return fileSize < int64(w.blockSize)
	case FragmentAlways:
		return true
	}
	return false
}

func (w *dataBlockWriter) writeBlock(data []byte) (datablockSize, error) {
	if w.comp == nil {
		if _, err := w.out.Write(data); err != nil {
			return 0, err
		}
		w.offset += uint64(len(data))
		return newDatablockSize(uint32(len(data)), true), nil
	}

	reply := <-w.comp.Compress(data)
	if reply.Err != nil {
		return 0, reply.Err
	}
	if _, err := w.out.Write(reply.Result.Data); err != nil {
		return 0, err
	}
	w.offset += uint64(len(reply.Result.Data))
	return newDatablockSize(uint32(len(reply.Result.Data)), !reply.Result.Compressed), nil
}

func isAllZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

// fragmentAssembler buffers file tails until a full block's worth has
// accumulated, then flushes the buffer as one compressed fragment block and
// registers it in the fragment table (§4.L "fragment assembler").
type fragmentAssembler struct {
	out       io.Writer
	offset    *uint64
	blockSize uint32
	comp      *ParallelCompressor
	table     *fragmentTable
	buf       []byte
}

func newFragmentAssembler(out io.Writer, offset *uint64, blockSize uint32, comp *ParallelCompressor, table *fragmentTable) *fragmentAssembler {
	return &fragmentAssembler{out: out, offset: offset, blockSize: blockSize, comp: comp, table: table}
}

// add appends tail to the current fragment buffer, flushing first if it
// would not fit, and returns the fragment block index and uncompressed
// offset within that block where tail begins.
func (a *fragmentAssembler) add(tail []byte) (uint32, uint32, error) {
	if uint32(len(a.buf))+uint32(len(tail)) > a.blockSize {
		if err := a.flush(); err != nil {
			return 0, 0, err
		}
	}
	off := uint32(len(a.buf))
	a.buf = append(a.buf, tail...)
	idx := uint32(a.table.count())
	return idx, off, nil
}

func (a *fragmentAssembler) flush() error {
	if len(a.buf) == 0 {
		return nil
	}
	start := *a.offset
	var size datablockSize
	if a.comp == nil {
		if _, err := a.out.Write(a.buf); err != nil {
			return err
		}
		size = newDatablockSize(uint32(len(a.buf)), true)
		*a.offset += uint64(len(a.buf))
	} else {
		reply := <-a.comp.Compress(a.buf)
		if reply.Err != nil {
			return reply.Err
		}
		if _, err := a.out.Write(reply.Result.Data); err != nil {
			return err
		}
		size = newDatablockSize(uint32(len(reply.Result.Data)), !reply.Result.Compressed)
		*a.offset += uint64(len(reply.Result.Data))
	}
	if _, err := a.table.add(start, size); err != nil {
		return err
	}
	a.buf = a.buf[:0]
	return nil
}

// finish flushes any buffered remainder. Must be called once, after the
// last addFile call, before the fragment table is serialised.
func (a *fragmentAssembler) finish() error {
	return a.flush()
}
