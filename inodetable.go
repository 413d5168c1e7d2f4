package squashfs

// Basic/extended inode kind codes (§3, repr::inode::Kind).
const (
	kindBasicDir      = 1
	kindBasicFile     = 2
	kindBasicSymlink  = 3
	kindBasicBlockDev = 4
	kindBasicCharDev  = 5
	kindBasicFifo     = 6
	kindBasicSocket   = 7
	kindExtDir        = 8
	kindExtFile       = 9
	kindExtSymlink    = 10
	kindExtBlockDev   = 11
	kindExtCharDev    = 12
	kindExtFifo       = 13
	kindExtSocket     = 14
)

// inodeCommon is the header shared by every inode (§3 "Basic vs extended
// inode"), grounded on repr::inode::Header.
type inodeCommon struct {
	permissions uint16
	uidIdx      uint16
	gidIdx      uint16
	modifiedAt  int32
	inodeNumber uint32
	hardlinks   uint32
	xattrIdx    uint32 // 0xffffffff = none
	forceExt    bool
}

// needsExt reports whether entry must be promoted to its extended inode
// form, grounded on original_source/src/write/inode.rs's Entry::needs_ext.
func (e *inodeEntry) needsExt() bool {
	if e.common.forceExt || e.common.xattrIdx != 0xffffffff {
		return true
	}
	switch d := e.data.(type) {
	case *dirInodeData:
		return d.headerLocations != nil || d.dirSize > 0xffff
	case *fileInodeData:
		return e.common.hardlinks > 1 || d.blocksStart > 0xffffffff || d.fileSize > 0xffffffff || d.sparseBytes > 0
	}
	return false
}

type dirInodeData struct {
	dirRef          inodeRef
	dirSize         uint32
	parentInodeNum  uint32
	childCount      uint32
	headerLocations []inodeRef // non-nil => needs an index, forces extended
}

type fileInodeData struct {
	blocksStart       uint64
	fileSize          uint64
	sparseBytes       uint64
	fragmentBlockIdx  uint32 // 0xffffffff = none
	fragmentOffset    uint32
	blockSizes        []datablockSize
}

type symlinkInodeData struct {
	target []byte
}

type deviceInodeData struct {
	device uint32 // packed major/minor, Linux dev_t encoding
}

type fifoInodeData struct{}
type socketInodeData struct{}

// inodeEntry is the write-side description of one inode to serialise,
// mirroring original_source/src/write/inode.rs's Entry/Data.
type inodeEntry struct {
	common inodeCommon
	data   interface {
		isInodeData()
	}
}

func (*dirInodeData) isInodeData()     {}
func (*fileInodeData) isInodeData()    {}
func (*symlinkInodeData) isInodeData() {}
func (*deviceInodeData) isInodeData()  {}
func (*fifoInodeData) isInodeData()    {}
func (*socketInodeData) isInodeData()  {}

func basicKindOf(data interface{ isInodeData() }) uint16 {
	switch data.(type) {
	case *dirInodeData:
		return kindBasicDir
	case *fileInodeData:
		return kindBasicFile
	case *symlinkInodeData:
		return kindBasicSymlink
	case *deviceInodeData:
		return kindBasicBlockDev // caller overrides to char dev when needed
	case *fifoInodeData:
		return kindBasicFifo
	case *socketInodeData:
		return kindBasicSocket
	}
	panic("squashfs: unknown inode data kind")
}

// inodeTable streams serialised inodes into a metablock writer, grounded on
// original_source/src/write/inode.rs and the byte layout from the teacher's
// read-side GetInodeRef (inode.go), which this mirrors in reverse.
type inodeTable struct {
	writer *metablockWriter
	count  uint32
}

func newInodeTable(codec Codec) *inodeTable {
	return &inodeTable{writer: newMetablockWriter(codec)}
}

// add serialises entry, stamped with the caller-assigned inodeNum, and
// returns its inode reference. Inode numbers are assigned in a separate pass
// (see writer.go) independent of serialization order, since a directory's
// own body must reference its parent's inode number before the parent has
// necessarily been serialised (§9 "Deferred writes").
func (t *inodeTable) add(entry inodeEntry, inodeNum uint32, isCharDev bool) inodeRef {
	pos := t.writer.position()
	t.count++

	extended := entry.needsExt()
	basic := basicKindOf(entry.data)
	if isCharDev && basic == kindBasicBlockDev {
		basic = kindBasicCharDev
	}
	kind := basic
	if extended {
		kind = basic + 7
	}

	w := newPackedWriter(12)
	w.u16(kind)
	w.u16(entry.common.permissions)
	w.u16(entry.common.uidIdx)
	w.u16(entry.common.gidIdx)
	w.i32(entry.common.modifiedAt)
	w.u32(inodeNum)
	t.writer.writeRaw(w.Bytes())

	switch d := entry.data.(type) {
	case *dirInodeData:
		if extended {
			t.writeExtDir(entry.common, d)
		} else {
			t.writeBasicDir(entry.common, d)
		}
	case *fileInodeData:
		if extended {
			t.writeExtFile(entry.common, d)
		} else {
			t.writeBasicFile(d)
		}
	case *symlinkInodeData:
		t.writeSymlink(entry.common, d, extended)
	case *deviceInodeData:
		t.writeDevice(entry.common, d, extended)
	case *fifoInodeData, *socketInodeData:
		if extended {
			w := newPackedWriter(4)
			w.u32(entry.common.hardlinks)
			t.writer.writeRaw(w.Bytes())
		}
		// basic fifo/socket bodies carry only the shared header.
	}

	return pos
}

// dirHardlinkCount folds squashfs's historical convention that a directory's
// hard-link count includes its own child entries, initialised to 2 (self and
// parent) for an empty directory.
func dirHardlinkCount(hardlinks uint32, childCount uint32) uint32 {
	return hardlinks + childCount + 2
}

func (t *inodeTable) writeBasicDir(common inodeCommon, d *dirInodeData) {
	w := newPackedWriter(16)
	w.u32(uint32(d.dirRef.Index()))
	w.u32(dirHardlinkCount(common.hardlinks, d.childCount))
	w.u16(uint16(d.dirSize))
	w.u16(d.dirRef.Offset())
	w.u32(d.parentInodeNum)
	t.writer.writeRaw(w.Bytes())
}

func (t *inodeTable) writeExtDir(common inodeCommon, d *dirInodeData) {
	w := newPackedWriter(24)
	w.u32(dirHardlinkCount(common.hardlinks, d.childCount))
	w.u32(d.dirSize)
	w.u32(uint32(d.dirRef.Index()))
	w.u32(d.parentInodeNum)
	w.u16(uint16(len(d.headerLocations)))
	w.u16(d.dirRef.Offset())
	w.u32(common.xattrIdx)
	t.writer.writeRaw(w.Bytes())
	for _, ref := range d.headerLocations {
		iw := newPackedWriter(8)
		iw.u32(uint32(ref.Index()))
		iw.u32(uint32(ref.Offset()))
		t.writer.writeRaw(iw.Bytes())
	}
}

func (t *inodeTable) writeBasicFile(d *fileInodeData) {
	w := newPackedWriter(16)
	w.u32(uint32(d.blocksStart))
	w.u32(d.fragmentBlockIdx)
	w.u32(d.fragmentOffset)
	w.u32(uint32(d.fileSize))
	t.writer.writeRaw(w.Bytes())
	for _, sz := range d.blockSizes {
		bw := newPackedWriter(4)
		bw.u32(uint32(sz))
		t.writer.writeRaw(bw.Bytes())
	}
}

func (t *inodeTable) writeExtFile(common inodeCommon, d *fileInodeData) {
	w := newPackedWriter(40)
	w.u64(d.blocksStart)
	w.u64(d.fileSize)
	w.u64(d.sparseBytes)
	w.u32(common.hardlinks)
	w.u32(d.fragmentBlockIdx)
	w.u32(d.fragmentOffset)
	w.u32(common.xattrIdx)
	t.writer.writeRaw(w.Bytes())
	for _, sz := range d.blockSizes {
		bw := newPackedWriter(4)
		bw.u32(uint32(sz))
		t.writer.writeRaw(bw.Bytes())
	}
}

func (t *inodeTable) writeSymlink(common inodeCommon, d *symlinkInodeData, extended bool) {
	w := newPackedWriter(8)
	w.u32(common.hardlinks)
	w.u32(uint32(len(d.target)))
	t.writer.writeRaw(w.Bytes())
	t.writer.writeRaw(d.target)
	if extended {
		xw := newPackedWriter(4)
		xw.u32(common.xattrIdx)
		t.writer.writeRaw(xw.Bytes())
	}
}

func (t *inodeTable) writeDevice(common inodeCommon, d *deviceInodeData, extended bool) {
	w := newPackedWriter(8)
	w.u32(common.hardlinks)
	w.u32(d.device)
	t.writer.writeRaw(w.Bytes())
	if extended {
		xw := newPackedWriter(4)
		xw.u32(common.xattrIdx)
		t.writer.writeRaw(xw.Bytes())
	}
}

func (t *inodeTable) finish() []byte {
	return t.writer.finish()
}

func (t *inodeTable) len() uint32 {
	return t.count
}
