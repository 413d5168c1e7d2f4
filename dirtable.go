package squashfs

import "fmt"

// dirHeader groups up to 256 directory entries that all reference inodes
// within one inode metablock and whose inode numbers all lie within ±32KiB
// of inode_number (§3 "Directory entry").
type dirHeader struct {
	count       uint32
	start       uint32 // inode metablock block_start
	inodeNumber uint32 // reference inode number
}

func encodeDirHeader(h dirHeader) []byte {
	w := newPackedWriter(12)
	w.u32(h.count)
	w.u32(h.start)
	w.u32(h.inodeNumber)
	return w.Bytes()
}

// dirRawEntry is one directory listing entry, immediately followed by its
// (unterminated) name bytes.
type dirRawEntry struct {
	offset      uint16
	inodeOffset int16
	kind        uint16
	nameSizeM1  uint16
}

func encodeDirRawEntry(e dirRawEntry) []byte {
	w := newPackedWriter(8)
	w.u16(e.offset)
	w.i16(e.inodeOffset)
	w.u16(e.kind)
	w.u16(e.nameSizeM1)
	return w.Bytes()
}

// dirEntry is one child to add to a directory listing (§5 component J input).
type dirEntry struct {
	inode     inodeRef
	inodeNum  uint32
	basicKind Type
	name      []byte
}

// minInodeNumRef/maxInodeNumRef clamp a header's reference inode number so
// the signed 16-bit delta to every entry in the following run stays
// representable (§3, spec's MIN_REF/MAX_REF note).
const (
	minInodeNumRef uint32 = 1 << 15          // |i16::MIN|
	maxInodeNumRef uint32 = 0xffffffff - 0x7fff // u32::MAX - i16::MAX
)

func inodeDiff(ref, n uint32) (int16, bool) {
	d := int64(n) - int64(ref)
	if d < -32768 || d > 32767 {
		return 0, false
	}
	return int16(d), true
}

// directoryTable accumulates every directory's listing into one metablock
// stream, grounded closely on original_source/src/write/dir.rs.
type directoryTable struct {
	writer    *metablockWriter
	totalSize int
}

func newDirectoryTable(codec Codec) *directoryTable {
	return &directoryTable{writer: newMetablockWriter(codec)}
}

// directoryInfo summarises one dir() call for its owning inode.
type directoryInfo struct {
	headerRefs       []inodeRef
	uncompressedSize uint32
}

type dirBuilder struct {
	table             *directoryTable
	header            dirHeader
	entries           []byte
	crossedMetablock  bool
}

func (t *directoryTable) startDir() *dirBuilder {
	return &dirBuilder{
		table: t,
		header: dirHeader{
			count:       0,
			start:       0xffffffff,
			inodeNumber: 0xffffffff,
		},
	}
}

// dir writes one directory's full listing (already name-sorted by the
// caller) and returns its summary.
func (t *directoryTable) dir(contents []dirEntry) directoryInfo {
	startSize := t.totalSize
	b := t.startDir()
	var headerRefs []inodeRef
	for _, e := range contents {
		if ref, ok := b.addEntry(e); ok {
			headerRefs = append(headerRefs, ref)
		}
	}
	b.flush()
	return directoryInfo{
		headerRefs:       headerRefs,
		uncompressedSize: uint32(t.totalSize - startSize),
	}
}

func (t *directoryTable) finish() (totalSize int, data []byte) {
	return t.totalSize, t.writer.finish()
}

func (b *dirBuilder) totalSizeWith() int {
	return b.table.totalSize + 12 + len(b.entries)
}

// addEntry adds one entry, flushing and starting a new header first if
// needed. Returns the position of the newly emitted header when one was
// started for this entry, so the caller can feed it into a directory index.
func (b *dirBuilder) addEntry(e dirEntry) (inodeRef, bool) {
	_, diffOK := inodeDiff(b.header.inodeNumber, e.inodeNum)
	needHeader := b.crossedMetablock ||
		b.header.count >= 256 ||
		b.header.start != uint32(e.inode.Index()) ||
		!diffOK

	var headerPos inodeRef
	var gotHeader bool
	if needHeader {
		b.flush()
		b.header.start = uint32(e.inode.Index())
		ref := e.inodeNum
		if ref < minInodeNumRef {
			ref = minInodeNumRef
		}
		if ref > maxInodeNumRef {
			ref = maxInodeNumRef
		}
		b.header.inodeNumber = ref
		headerPos = b.table.writer.position()
		gotHeader = true
	}

	prevMetablock := b.totalSizeWith() / metablockSize
	b.header.count++

	diff, _ := inodeDiff(b.header.inodeNumber, e.inodeNum)
	raw := dirRawEntry{
		offset:      e.inode.Offset(),
		inodeOffset: diff,
		kind:        uint16(e.basicKind),
		nameSizeM1:  uint16(len(e.name) - 1),
	}
	b.entries = append(b.entries, encodeDirRawEntry(raw)...)
	b.entries = append(b.entries, e.name...)

	currentMetablock := b.totalSizeWith() / metablockSize
	if currentMetablock != prevMetablock {
		b.crossedMetablock = true
	}
	return headerPos, gotHeader
}

func (b *dirBuilder) flush() {
	if b.header.count == 0 {
		return
	}
	b.table.totalSize = b.totalSizeWith()
	onDisk := b.header
	onDisk.count-- // on-disk count is N-1; dir.go's reader adds 1 back
	b.table.writer.writeRaw(encodeDirHeader(onDisk))
	b.table.writer.writeRaw(b.entries)

	b.entries = nil
	b.header = dirHeader{count: 0, start: 0, inodeNumber: 0}
	b.crossedMetablock = false
}

var errDirTooManyChildren = fmt.Errorf("squashfs: directory entry count overflow")
