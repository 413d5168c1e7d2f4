package squashfs

// exportEntry is one inode_ref record of the export table, indexed by
// inode_number - 1, letting a reader resolve an NFS file handle straight to
// an inode position (§4 superblock note, EXPORTABLE flag).
type exportEntry uint64

func (exportEntry) Size() int { return 8 }

func encodeExportEntry(e exportEntry) []byte {
	w := newPackedWriter(8)
	w.u64(uint64(e))
	return w.Bytes()
}

// exportTable accumulates one inode_ref per inode, in inode_number order,
// built the same packed-array-plus-index shape as idTable and fragmentTable
// (§4.G two-level table encoding). Only populated when the archive is built
// with export support requested; its presence sets the EXPORTABLE flag and
// lets GetInode resolve an inode by number.
type exportTable struct {
	entries []exportEntry
}

func newExportTable() *exportTable {
	return &exportTable{}
}

// set records ref as the inode reference for inodeNum, growing the backing
// slice as needed. Inode numbers are assigned densely starting at 1, so by
// the time every inode has been numbered, entries has no gaps.
func (t *exportTable) set(inodeNum uint32, ref inodeRef) {
	idx := int(inodeNum) - 1
	if idx < 0 {
		return
	}
	for len(t.entries) <= idx {
		t.entries = append(t.entries, exportEntry(0))
	}
	t.entries[idx] = exportEntry(ref)
}

func (t *exportTable) write(codec Codec, sectionStart uint64) (data []byte, index []uint64) {
	tbl := newTwoLevelTable[exportEntry](codec, encodeExportEntry)
	for _, e := range t.entries {
		tbl.write(e)
	}
	data, idx := tbl.finish()
	index = make([]uint64, len(idx))
	for i, off := range idx {
		index[i] = sectionStart + uint64(off)
	}
	return data, index
}
