package squashfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"math/bits"
	"os"
	"path"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/xattr"
	times "gopkg.in/djherbis/times.v1"
)

// writeNode is one in-memory tree entry recorded by Add, generalising the
// teacher's writerInode: it carries only what is known at walk time (mode,
// ownership, source location). Inode numbers and serialised positions are
// filled in by Finalize's two later passes, not by Add itself, so Add never
// touches the output stream.
type writeNode struct {
	name    string
	mode    fs.FileMode
	uid     uint32
	gid     uint32
	modTime int32
	typ     Type
	rdev    uint32

	srcPath   string // path within srcFS, valid for typ == FileType
	symTarget []byte

	xattrs []xattrPair

	parent   *writeNode
	children []*writeNode

	inodeNum       uint32
	uidIdx, gidIdx uint16
}

// Writer builds a SquashFS 4.0 image. Callers add entries with Add (it is
// fs.WalkDir-compatible) and then call Finalize once to serialise everything;
// unlike the teacher's original, which interleaved tree-building with partial
// on-disk writes across an iterative multi-pass convergence loop, this Writer
// writes nothing to its output until Finalize, because inode numbers are assigned before
// serialization removes the circular block_start/inode_number dependency that
// loop existed to resolve.
type Writer struct {
	w   io.Writer
	buf bytes.Buffer

	blockSize  uint32
	comp       Kind
	modTime    int32
	fragments  FragmentConfig
	workers    int
	exportable bool

	srcFS fs.FS

	root        *writeNode
	nodesByPath map[string]*writeNode

	id uuid.UUID
}

// WriterOption configures a Writer at construction time.
type WriterOption func(*Writer)

// WithBlockSize sets the data block size in bytes; must be a power of two in
// [4096,1MiB]. Default 128KiB, matching squashfs-tools' default.
func WithBlockSize(n uint32) WriterOption {
	return func(w *Writer) { w.blockSize = n }
}

// WithCompression selects the codec used for every compressed section.
// Default GZip.
func WithCompression(k Kind) WriterOption {
	return func(w *Writer) { w.comp = k }
}

// WithModTime sets the modification time recorded for entries that don't
// carry their own (currently: the synthetic root directory).
func WithModTime(t time.Time) WriterOption {
	return func(w *Writer) { w.modTime = int32(t.Unix()) }
}

// WithFragments selects the tail-packing policy used for file data (§4.L).
// Default FragmentSmallFiles.
func WithFragments(cfg FragmentConfig) WriterOption {
	return func(w *Writer) { w.fragments = cfg }
}

// WithWorkers sets the number of parallel compression workers. Default
// runtime.GOMAXPROCS(0).
func WithWorkers(n int) WriterOption {
	return func(w *Writer) { w.workers = n }
}

// WithExportable builds an NFS export table alongside the image and sets the
// EXPORTABLE superblock flag. Default off.
func WithExportable(yes bool) WriterOption {
	return func(w *Writer) { w.exportable = yes }
}

// NewWriter creates a Writer that will emit a finished image to w once
// Finalize is called. w need not support io.WriterAt: the entire image is
// assembled in memory first (so the 96-byte superblock header, whose fields
// aren't known until every table has been laid out, can be patched in place)
// and written out in one pass.
func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	wr := &Writer{
		w:         w,
		blockSize: 131072,
		comp:      GZip,
		modTime:   int32(time.Now().Unix()),
		fragments: FragmentSmallFiles,
		workers:   runtime.GOMAXPROCS(0),
		id:        uuid.New(),
	}
	for _, opt := range opts {
		opt(wr)
	}

	wr.root = &writeNode{
		name:    "",
		mode:    fs.ModeDir | 0755,
		modTime: wr.modTime,
		typ:     DirType,
	}
	wr.nodesByPath = map[string]*writeNode{".": wr.root}

	return wr, nil
}

// SetCompression changes the codec used for sections written by a later
// Finalize call.
func (w *Writer) SetCompression(k Kind) {
	w.comp = k
}

// SetSourceFS binds the source filesystem: Add reads symlink targets and
// extended attributes from it, and Finalize reads regular file contents from
// it. It must be called before Add for symlinks; a regular file finalized
// with no source filesystem bound is stored with no data.
func (w *Writer) SetSourceFS(srcFS fs.FS) {
	w.srcFS = srcFS
}

// ID returns this Writer's generation identifier. It has no on-disk
// representation; it exists so callers building many images can correlate a
// produced file with build logs.
func (w *Writer) ID() uuid.UUID {
	return w.id
}

// Add records one filesystem entry, in the signature fs.WalkDir expects.
// Directories must be walked top-down (as fs.WalkDir always does) since a
// child's parent directory must already be known.
func (w *Writer) Add(p string, d fs.DirEntry, err error) error {
	if err != nil {
		return err
	}
	if p == "." {
		return nil
	}

	info, err := d.Info()
	if err != nil {
		return err
	}

	parentPath := path.Dir(p)
	parent, ok := w.nodesByPath[parentPath]
	if !ok {
		return fmt.Errorf("squashfs: %s: parent directory %q not yet added", p, parentPath)
	}

	node := &writeNode{
		name:    path.Base(p),
		mode:    info.Mode(),
		modTime: int32(info.ModTime().Unix()),
		parent:  parent,
	}
	node.uid, node.gid, node.rdev = statInfo(info)
	node.typ = basicTypeOf(info.Mode())

	switch node.typ {
	case SymlinkType:
		target, err := readSymlinkTarget(w.srcFS, p)
		if err != nil {
			return fmt.Errorf("squashfs: %s: %w", p, err)
		}
		if len(target) == 0 {
			return fmt.Errorf("%w: %s", ErrSymlinkTargetEmpty, p)
		}
		node.symTarget = target
	case FileType:
		node.srcPath = p
	}

	if node.typ != DirType {
		node.xattrs = readXattrs(w.srcFS, p)
	}

	parent.children = append(parent.children, node)
	if node.typ == DirType {
		w.nodesByPath[p] = node
	}
	return nil
}

// basicTypeOf maps a fs.FileMode's type bits to this package's basic Type
// enum (§3 "Basic vs extended inode").
func basicTypeOf(mode fs.FileMode) Type {
	switch {
	case mode.IsDir():
		return DirType
	case mode&fs.ModeSymlink != 0:
		return SymlinkType
	case mode&fs.ModeNamedPipe != 0:
		return FifoType
	case mode&fs.ModeSocket != 0:
		return SocketType
	case mode&fs.ModeCharDevice != 0:
		return CharDevType
	case mode&fs.ModeDevice != 0:
		return BlockDevType
	default:
		return FileType
	}
}

// readLinker is implemented by a source fs.FS that can resolve a symlink's
// target without following it, for real on-disk sources where Open would
// otherwise follow the link. Not part of any standard library interface at
// this module's Go version (io/fs gained ReadLinkFS only in Go 1.23).
type readLinker interface {
	Readlink(name string) (string, error)
}

func readSymlinkTarget(fsys fs.FS, name string) ([]byte, error) {
	if fsys == nil {
		return nil, fmt.Errorf("symlink requires a source filesystem")
	}
	if rl, ok := fsys.(readLinker); ok {
		target, err := rl.Readlink(name)
		if err != nil {
			return nil, err
		}
		return []byte(target), nil
	}
	// testing/fstest.MapFS has no dedicated symlink representation: a
	// ModeSymlink entry's Data is its target. Reading the entry as a
	// regular file recovers the same bytes.
	return fs.ReadFile(fsys, name)
}

// readXattrs collects name/value pairs via github.com/pkg/xattr for sources
// backed by a real file, using *os.File.Name() to recover the path those
// calls need. A source fs.FS whose Open doesn't return a *os.File (e.g.
// fstest.MapFS in tests) silently yields no xattrs instead of failing.
// It also records the source's birth time, when the platform exposes one,
// as a synthetic "user.squashfs.birthtime" xattr -- best-effort provenance
// metadata with no dedicated inode field to live in instead.
func readXattrs(fsys fs.FS, name string) []xattrPair {
	if fsys == nil {
		return nil
	}
	f, err := fsys.Open(name)
	if err != nil {
		return nil
	}
	defer f.Close()
	osFile, ok := f.(*os.File)
	if !ok {
		return nil
	}

	realPath := osFile.Name()
	var pairs []xattrPair

	if names, err := xattr.LList(realPath); err == nil {
		for _, n := range names {
			v, err := xattr.LGet(realPath, n)
			if err != nil {
				continue
			}
			pairs = append(pairs, xattrPair{key: n, value: v})
		}
	}

	if ts, err := times.Lstat(realPath); err == nil && ts.HasBirthTime() {
		pairs = append(pairs, xattrPair{
			key:   "user.squashfs.birthtime",
			value: []byte(ts.BirthTime().UTC().Format(time.RFC3339)),
		})
	}

	return pairs
}

// buildState bundles the component tables Finalize's serialization pass
// writes into; it exists only to keep serializeNode's signature short.
type buildState struct {
	inodeTable  *inodeTable
	dirTable    *directoryTable
	xattrTable  *xattrTable
	dataWriter  *dataBlockWriter
	fragAsm     *fragmentAssembler
	exportTable *exportTable
	exportable  bool
}

// assignNumbers runs the pre-order numbering pass (§9 "Inode numbering"):
// every node gets a dense inode number before any serialization happens, and
// every node's uid/gid is interned into ids. The root is always inode 1.
// Children of each directory are sorted by name once here and the same
// order is reused, unchanged, by the later serialization pass.
func (w *Writer) assignNumbers(ids *idTable) error {
	w.root.inodeNum = 1
	if err := internNodeIDs(w.root, ids); err != nil {
		return err
	}

	next := uint32(2)
	var walk func(n *writeNode) error
	walk = func(n *writeNode) error {
		sort.Slice(n.children, func(i, j int) bool { return n.children[i].name < n.children[j].name })
		for _, c := range n.children {
			c.inodeNum = next
			next++
			if err := internNodeIDs(c, ids); err != nil {
				return err
			}
			if c.typ == DirType {
				if err := walk(c); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walk(w.root)
}

func internNodeIDs(n *writeNode, ids *idTable) error {
	uidIdx, err := ids.add(n.uid)
	if err != nil {
		return err
	}
	gidIdx, err := ids.add(n.gid)
	if err != nil {
		return err
	}
	n.uidIdx, n.gidIdx = uidIdx, gidIdx
	return nil
}

// permissionsOf packs a node's mode into the 12-bit field squashfs stores
// (rwxrwxrwx plus setuid/setgid/sticky), matching ModeToUnix's bit layout.
func permissionsOf(mode fs.FileMode) uint16 {
	return uint16(ModeToUnix(mode) & 0xfff)
}

// serializeNode writes n's inode (and, for a directory, everything beneath
// it first) and returns n's inode reference for its parent's directory
// listing. This is the single depth-first post-order pass that replaces the
// teacher's iterative buildInodeTableToBuffer: a directory's listing and
// inode can only be written once every child's inode reference is known, so
// children are always fully serialised before their parent.
func (w *Writer) serializeNode(n *writeNode, b *buildState) (inodeRef, error) {
	var ref inodeRef
	var err error

	switch n.typ {
	case DirType:
		ref, err = w.serializeDir(n, b)
	case FileType:
		ref, err = w.serializeFile(n, b)
	case SymlinkType:
		ref, err = w.serializeSymlink(n, b)
	case BlockDevType, CharDevType:
		ref, err = w.serializeDevice(n, b)
	case FifoType:
		ref, err = w.serializeFifo(n, b)
	case SocketType:
		ref, err = w.serializeSocket(n, b)
	default:
		return 0, fmt.Errorf("squashfs: %s: unsupported inode type", n.name)
	}
	if err != nil {
		return 0, err
	}
	if b.exportable {
		b.exportTable.set(n.inodeNum, ref)
	}
	return ref, nil
}

func (w *Writer) serializeDir(n *writeNode, b *buildState) (inodeRef, error) {
	entries := make([]dirEntry, 0, len(n.children))
	for _, c := range n.children {
		childRef, err := w.serializeNode(c, b)
		if err != nil {
			return 0, err
		}
		entries = append(entries, dirEntry{
			inode:     childRef,
			inodeNum:  c.inodeNum,
			basicKind: basicTypeOf(c.mode),
			name:      []byte(c.name),
		})
	}

	// dirRef must be captured before dir() writes anything: an empty
	// directory's dir() call writes nothing at all, leaving dirSize 0, so a
	// reader opening the listing at dirRef reads no entries from it.
	dirRef := b.dirTable.writer.position()
	info := b.dirTable.dir(entries)

	xattrIdx, err := b.xattrTable.addSet(n.xattrs)
	if err != nil {
		return 0, err
	}

	parentNum := uint32(1)
	if n.parent != nil {
		parentNum = n.parent.inodeNum
	}

	common := inodeCommon{
		permissions: permissionsOf(n.mode),
		uidIdx:      n.uidIdx,
		gidIdx:      n.gidIdx,
		modifiedAt:  n.modTime,
		inodeNumber: n.inodeNum,
		hardlinks:   1,
		xattrIdx:    xattrIdx,
	}
	data := &dirInodeData{
		dirRef:         dirRef,
		dirSize:        info.uncompressedSize,
		parentInodeNum: parentNum,
		childCount:     uint32(len(n.children)),
	}
	return b.inodeTable.add(inodeEntry{common: common, data: data}, n.inodeNum, false), nil
}

func (w *Writer) serializeFile(n *writeNode, b *buildState) (inodeRef, error) {
	fb := fileBlocks{fragmentIdx: 0xffffffff}
	if w.srcFS != nil {
		f, err := w.srcFS.Open(n.srcPath)
		if err != nil {
			return 0, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return 0, err
		}
		fb, err = b.dataWriter.addFile(f, info.Size())
		f.Close()
		if err != nil {
			return 0, err
		}
	}

	xattrIdx, err := b.xattrTable.addSet(n.xattrs)
	if err != nil {
		return 0, err
	}

	common := inodeCommon{
		permissions: permissionsOf(n.mode),
		uidIdx:      n.uidIdx,
		gidIdx:      n.gidIdx,
		modifiedAt:  n.modTime,
		inodeNumber: n.inodeNum,
		hardlinks:   1,
		xattrIdx:    xattrIdx,
	}
	data := &fileInodeData{
		blocksStart:      fb.blocksStart,
		fileSize:         fb.fileSize,
		sparseBytes:      fb.sparseBytes,
		fragmentBlockIdx: fb.fragmentIdx,
		fragmentOffset:   fb.fragmentOff,
		blockSizes:       fb.sizes,
	}
	return b.inodeTable.add(inodeEntry{common: common, data: data}, n.inodeNum, false), nil
}

func (w *Writer) serializeSymlink(n *writeNode, b *buildState) (inodeRef, error) {
	xattrIdx, err := b.xattrTable.addSet(n.xattrs)
	if err != nil {
		return 0, err
	}
	common := inodeCommon{
		permissions: permissionsOf(n.mode),
		uidIdx:      n.uidIdx,
		gidIdx:      n.gidIdx,
		modifiedAt:  n.modTime,
		inodeNumber: n.inodeNum,
		hardlinks:   1,
		xattrIdx:    xattrIdx,
	}
	data := &symlinkInodeData{target: n.symTarget}
	return b.inodeTable.add(inodeEntry{common: common, data: data}, n.inodeNum, false), nil
}

func (w *Writer) serializeDevice(n *writeNode, b *buildState) (inodeRef, error) {
	xattrIdx, err := b.xattrTable.addSet(n.xattrs)
	if err != nil {
		return 0, err
	}
	common := inodeCommon{
		permissions: permissionsOf(n.mode),
		uidIdx:      n.uidIdx,
		gidIdx:      n.gidIdx,
		modifiedAt:  n.modTime,
		inodeNumber: n.inodeNum,
		hardlinks:   1,
		xattrIdx:    xattrIdx,
	}
	data := &deviceInodeData{device: n.rdev}
	isChar := n.typ == CharDevType
	return b.inodeTable.add(inodeEntry{common: common, data: data}, n.inodeNum, isChar), nil
}

func (w *Writer) serializeFifo(n *writeNode, b *buildState) (inodeRef, error) {
	xattrIdx, err := b.xattrTable.addSet(n.xattrs)
	if err != nil {
		return 0, err
	}
	common := inodeCommon{
		permissions: permissionsOf(n.mode),
		uidIdx:      n.uidIdx,
		gidIdx:      n.gidIdx,
		modifiedAt:  n.modTime,
		inodeNumber: n.inodeNum,
		hardlinks:   1,
		xattrIdx:    xattrIdx,
	}
	return b.inodeTable.add(inodeEntry{common: common, data: &fifoInodeData{}}, n.inodeNum, false), nil
}

func (w *Writer) serializeSocket(n *writeNode, b *buildState) (inodeRef, error) {
	xattrIdx, err := b.xattrTable.addSet(n.xattrs)
	if err != nil {
		return 0, err
	}
	common := inodeCommon{
		permissions: permissionsOf(n.mode),
		uidIdx:      n.uidIdx,
		gidIdx:      n.gidIdx,
		modifiedAt:  n.modTime,
		inodeNumber: n.inodeNum,
		hardlinks:   1,
		xattrIdx:    xattrIdx,
	}
	return b.inodeTable.add(inodeEntry{common: common, data: &socketInodeData{}}, n.inodeNum, false), nil
}

// Finalize serialises every added entry and writes the completed image to
// the io.Writer passed to NewWriter. It must be called exactly once.
func (w *Writer) Finalize() error {
	if !IsSupported(w.comp) {
		return fmt.Errorf("squashfs: compression %s is not supported in this build", w.comp)
	}
	if w.blockSize < 4096 || w.blockSize > maxBlockSize || w.blockSize&(w.blockSize-1) != 0 {
		return ErrCorruptBlockSizes
	}

	codec := NewCodec(w.comp)
	parallel := NewParallelCompressor(w.workers, w.comp)
	defer parallel.Close()

	ids := newIDTable()
	if err := w.assignNumbers(ids); err != nil {
		return err
	}

	// Reserve the superblock's 96 bytes; every field is patched in once the
	// rest of the image is known. No compressor-options metablock is ever
	// written (this package never sets COMPRESSOR_OPTIONS), so data begins
	// immediately afterward.
	w.buf.Write(make([]byte, superblockSize))

	fragTbl := newFragmentTable()
	dataWriter := newDataBlockWriter(&w.buf, w.blockSize, w.fragments, parallel, nil)
	dataWriter.offset = uint64(w.buf.Len())
	fragAsm := newFragmentAssembler(&w.buf, &dataWriter.offset, w.blockSize, parallel, fragTbl)
	dataWriter.frags = fragAsm

	state := &buildState{
		inodeTable: newInodeTable(codec),
		dirTable:   newDirectoryTable(codec),
		xattrTable: newXattrTable(codec),
		dataWriter: dataWriter,
		fragAsm:    fragAsm,
		exportable: w.exportable,
	}
	if w.exportable {
		state.exportTable = newExportTable()
	}

	rootRef, err := w.serializeNode(w.root, state)
	if err != nil {
		return err
	}
	if err := fragAsm.finish(); err != nil {
		return err
	}

	flags := SquashFlags(0)
	if w.exportable {
		flags |= EXPORTABLE
	}

	inodeTableStart := uint64(w.buf.Len())
	w.buf.Write(state.inodeTable.finish())

	dirTableStart := uint64(w.buf.Len())
	_, dirData := state.dirTable.finish()
	w.buf.Write(dirData)

	fragDataStart := uint64(w.buf.Len())
	fragData, fragIndex := fragTbl.write(codec, fragDataStart)
	w.buf.Write(fragData)
	fragTableStart := uint64(w.buf.Len())
	writeOffsetArray(&w.buf, fragIndex)

	exportTableStart := uint64(0xffffffffffffffff)
	if w.exportable {
		expDataStart := uint64(w.buf.Len())
		expData, expIndex := state.exportTable.write(codec, expDataStart)
		w.buf.Write(expData)
		exportTableStart = uint64(w.buf.Len())
		writeOffsetArray(&w.buf, expIndex)
	}

	idTableStart := uint64(w.buf.Len())
	idData, idIndex := ids.write(codec, idTableStart)
	w.buf.Write(idData)
	idTableStart = uint64(w.buf.Len())
	writeOffsetArray(&w.buf, idIndex)

	xattrIdTableStart := uint64(0xffffffffffffffff)
	if state.xattrTable.count() == 0 {
		flags |= NO_XATTRS
	} else {
		kvData, lookupData, localLookupIndex, err := state.xattrTable.finish(codec, 0)
		if err != nil {
			return err
		}
		w.buf.Write(kvData)
		lookupDataStart := uint64(w.buf.Len())
		w.buf.Write(lookupData)
		lookupIndex := make([]uint64, len(localLookupIndex))
		for i, off := range localLookupIndex {
			lookupIndex[i] = lookupDataStart + off
		}
		xattrIdTableStart = uint64(w.buf.Len())
		writeOffsetArray(&w.buf, lookupIndex)
	}

	bytesUsed := uint64(w.buf.Len())
	blockLog := uint16(bits.Len32(w.blockSize) - 1)

	sbw := newPackedWriter(superblockSize)
	sbw.u32(magicLE)
	sbw.u32(state.inodeTable.len())
	sbw.i32(w.modTime)
	sbw.u32(w.blockSize)
	sbw.u32(uint32(fragTbl.count()))
	sbw.u16(uint16(w.comp))
	sbw.u16(blockLog)
	sbw.u16(uint16(flags))
	sbw.u16(ids.len())
	sbw.u16(4)
	sbw.u16(0)
	sbw.u64(uint64(rootRef))
	sbw.u64(bytesUsed)
	sbw.u64(idTableStart)
	sbw.u64(xattrIdTableStart)
	sbw.u64(inodeTableStart)
	sbw.u64(dirTableStart)
	sbw.u64(fragTableStart)
	sbw.u64(exportTableStart)
	copy(w.buf.Bytes()[:superblockSize], sbw.Bytes())

	_, err = w.w.Write(w.buf.Bytes())
	return err
}

func writeOffsetArray(buf *bytes.Buffer, offsets []uint64) {
	var b8 [8]byte
	for _, off := range offsets {
		binary.LittleEndian.PutUint64(b8[:], off)
		buf.Write(b8[:])
	}
}
