package squashfs

import "fmt"

// datablockSize packs a fragment or data block's on-disk size (§3 "Datablock
// size encoding"): bit 24 marks the block as stored uncompressed, the low 20
// bits hold the size, and an all-zero value denotes a sparse block.
type datablockSize uint32

const datablockUncompressedFlag = 1 << 24

func newDatablockSize(size uint32, uncompressed bool) datablockSize {
	if size > 1<<20 {
		panic("squashfs: datablock size exceeds 1MiB field width")
	}
	if uncompressed {
		size |= datablockUncompressedFlag
	}
	return datablockSize(size)
}

func (s datablockSize) size() uint32 {
	return uint32(s) &^ datablockUncompressedFlag
}

func (s datablockSize) uncompressed() bool {
	return uint32(s)&datablockUncompressedFlag != 0
}

func (s datablockSize) sparse() bool {
	return uint32(s) == 0
}

// fragmentEntry describes one fragment block: its absolute file offset and
// packed size. Fixed 16 bytes, so each metablock holds exactly 512 entries.
type fragmentEntry struct {
	start uint64
	size  datablockSize
	// _unused u32, written as zero
}

func (fragmentEntry) Size() int { return 16 }

func encodeFragmentEntry(e fragmentEntry) []byte {
	w := newPackedWriter(16)
	w.u64(e.start)
	w.u32(uint32(e.size))
	w.u32(0)
	return w.Bytes()
}

// fragmentTable accumulates fragment block entries in append order and
// serialises them as a two-level table, grounded on
// original_source/src/write/fragments.rs.
type fragmentTable struct {
	entries []fragmentEntry
}

func newFragmentTable() *fragmentTable {
	return &fragmentTable{}
}

// add records a fragment block and returns its index (the fragment
// reference stored in a file inode's fragment field).
func (t *fragmentTable) add(start uint64, size datablockSize) (uint32, error) {
	if len(t.entries) >= 1<<32-1 {
		return 0, fmt.Errorf("squashfs: more than 2^32-2 fragment blocks")
	}
	idx := uint32(len(t.entries))
	t.entries = append(t.entries, fragmentEntry{start: start, size: size})
	return idx, nil
}

func (t *fragmentTable) count() int {
	return len(t.entries)
}

func (t *fragmentTable) write(codec Codec, sectionStart uint64) (data []byte, index []uint64) {
	table := newTwoLevelTable[fragmentEntry](codec, encodeFragmentEntry)
	for _, e := range t.entries {
		table.write(e)
	}
	data, idx := table.finish()
	index = make([]uint64, len(idx))
	for i, off := range idx {
		index[i] = sectionStart + uint64(off)
	}
	return data, index
}
