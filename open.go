package squashfs

import (
	"encoding/binary"
	"io/fs"
	"os"
	"path"
	"strings"
)

// maxSymlinkDepth bounds path resolution, grounded on the historical POSIX
// convention (and the teacher's ErrTooManySymlinks) rather than any
// squashfs-specific limit.
const maxSymlinkDepth = 40

// Open opens the squashfs image at path and parses its superblock, closing
// the underlying file when Close is called.
func Open(path string) (*Superblock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	sb, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	sb.closer = f
	return sb, nil
}

// Close releases the underlying file if this Superblock was produced by
// Open. Superblocks built with New on a caller-owned io.ReaderAt are left
// untouched.
func (sb *Superblock) Close() error {
	if sb.closer != nil {
		return sb.closer.Close()
	}
	return nil
}

func (sb *Superblock) init() error {
	sb.inoIdx = make(map[uint32]inodeRef)
	if err := sb.loadIDTable(); err != nil {
		return err
	}
	root, err := sb.GetInodeRef(inodeRef(sb.RootInode))
	if err != nil {
		return err
	}
	sb.rootIno = root
	sb.rootInoN = uint64(root.Ino)
	return nil
}

// loadIDTable reads the full UID/GID value table into memory (§4.H); it is
// small (at most 2^16-1 32-bit values) so there is no benefit to the lazy,
// metablock-at-a-time access fragment/inode lookups use.
func (sb *Superblock) loadIDTable() error {
	if sb.IdCount == 0 {
		return nil
	}
	const perBlock = metablockSize / 4
	sb.idTable = make([]uint32, sb.IdCount)

	var r *metablockReader
	curBlock := -1
	for i := 0; i < int(sb.IdCount); i++ {
		blockIdx := i / perBlock
		if blockIdx != curBlock {
			ptr := make([]byte, 8)
			if _, err := sb.fs.ReadAt(ptr, int64(sb.IdTableStart)+int64(blockIdx)*8); err != nil {
				return err
			}
			off := binary.LittleEndian.Uint64(ptr)
			var err error
			r, err = sb.newTableReader(int64(off), 0)
			if err != nil {
				return err
			}
			curBlock = blockIdx
		}
		buf := make([]byte, 4)
		if err := r.readExact(buf); err != nil {
			return err
		}
		sb.idTable[i] = binary.LittleEndian.Uint32(buf)
	}
	return nil
}

// resolveExportRef looks up inoNum's inode_ref through the NFS export table
// (§4.N), present only when Flags has EXPORTABLE. The export table is a
// packed array of inode_ref values in inode_number order (exportTable.set's
// write-side counterpart), so resolution is one index-block read plus one
// 8-byte read, the same two-step shape loadIDTable uses for a single value
// rather than loading the whole table up front: unlike the id table (at most
// 65535 entries), an export table has one entry per inode and can be large.
func (sb *Superblock) resolveExportRef(inoNum uint32) (inodeRef, error) {
	if !sb.Flags.Has(EXPORTABLE) || sb.ExportTableStart == 0xffffffffffffffff {
		return 0, fs.ErrInvalid
	}
	if inoNum == 0 || inoNum > sb.InodeCnt {
		return 0, fs.ErrInvalid
	}

	const perBlock = metablockSize / 8
	idx := int(inoNum - 1)
	blockIdx := idx / perBlock

	ptr := make([]byte, 8)
	if _, err := sb.fs.ReadAt(ptr, int64(sb.ExportTableStart)+int64(blockIdx)*8); err != nil {
		return 0, err
	}
	off := binary.LittleEndian.Uint64(ptr)

	r, err := sb.newTableReader(int64(off), (idx%perBlock)*8)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 8)
	if err := r.readExact(buf); err != nil {
		return 0, err
	}
	return inodeRef(binary.LittleEndian.Uint64(buf)), nil
}

// GetUid resolves this inode's owning uid through the superblock's id table.
func (i *Inode) GetUid() uint32 {
	if int(i.UidIdx) < len(i.sb.idTable) {
		return i.sb.idTable[i.UidIdx]
	}
	return 0
}

// GetGid resolves this inode's owning gid through the superblock's id table.
func (i *Inode) GetGid() uint32 {
	if int(i.GidIdx) < len(i.sb.idTable) {
		return i.sb.idTable[i.GidIdx]
	}
	return 0
}

// FindInode resolves a slash-separated path from the root, optionally
// following a trailing symlink when resolveSymlink is true (intermediate
// path components are always followed).
func (sb *Superblock) FindInode(name string, resolveSymlink bool) (*Inode, error) {
	name = strings.Trim(name, "/")
	cur := sb.rootIno
	if name == "" || name == "." {
		return cur, nil
	}

	depth := 0
	parts := strings.Split(name, "/")
	for idx, part := range parts {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			return nil, fs.ErrInvalid
		}
		if !cur.IsDir() {
			return nil, ErrNotDirectory
		}
		next, err := cur.LookupRelativeInode(nil, part)
		if err != nil {
			return nil, err
		}
		last := idx == len(parts)-1
		for Type(next.Type).Basic() == SymlinkType && (!last || resolveSymlink) {
			depth++
			if depth > maxSymlinkDepth {
				return nil, ErrTooManySymlinks
			}
			target, err := next.Readlink()
			if err != nil {
				return nil, err
			}
			resolved, err := sb.resolveSymlinkFrom(cur, string(target))
			if err != nil {
				return nil, err
			}
			next = resolved
		}
		cur = next
	}
	return cur, nil
}

func (sb *Superblock) resolveSymlinkFrom(base *Inode, target string) (*Inode, error) {
	if strings.HasPrefix(target, "/") {
		return sb.FindInode(target, false)
	}
	return base.LookupRelativeInodePath(nil, target)
}

// *Superblock implements io/fs.FS, fs.StatFS and fs.ReadDirFS, the
// read-only filesystem surface this package exposes (§9 "Reader API").
var (
	_ fs.FS        = (*Superblock)(nil)
	_ fs.StatFS    = (*Superblock)(nil)
	_ fs.ReadDirFS = (*Superblock)(nil)
)

func (sb *Superblock) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	ino, err := sb.FindInode(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return ino.OpenFile(path.Base(name)), nil
}

func (sb *Superblock) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	ino, err := sb.FindInode(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return &fileinfo{name: path.Base(name), ino: ino}, nil
}

// Lstat behaves like Stat but does not follow a trailing symlink.
func (sb *Superblock) Lstat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: fs.ErrInvalid}
	}
	ino, err := sb.FindInode(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}
	return &fileinfo{name: path.Base(name), ino: ino}, nil
}

func (sb *Superblock) ReadDir(name string) ([]fs.DirEntry, error) {
	f, err := sb.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dir, ok := f.(fs.ReadDirFile)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrNotDirectory}
	}
	return dir.ReadDir(-1)
}

// setInodeRefCache records inor as the location of inode number num, so a
// later lookup by raw inode number (e.g. via the export table) is O(1).
func (sb *Superblock) setInodeRefCache(num uint32, inor inodeRef) {
	sb.inoIdxL.Lock()
	sb.inoIdx[num] = inor
	sb.inoIdxL.Unlock()
}
