package squashfs

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// magicLE/magicBE are the two byte patterns squashfs-tools and its readers
// accept at file offset 0 (§4.A superblock). Only little-endian ("hsqs") is
// produced by this package's Writer. New accepts either magic, but decodes
// every field as little-endian, so a genuinely big-endian image is not read
// correctly.
const (
	magicLE = 0x73717368
	magicBE = 0x68737173
)

const superblockSize = 96

// Superblock holds the fixed 96-byte record at file offset 0 plus the
// io.ReaderAt it was parsed from (§4.A). Exported fields mirror the wire
// layout field-for-field; unexported fields are read-path plumbing.
type Superblock struct {
	fs     io.ReaderAt
	codec  Codec               // codec for Comp; New fails with ErrDisabledCompression instead of leaving it nil
	order  binary.ByteOrder    // always binary.LittleEndian; kept as a field so read-side helpers built around encoding/binary.Read need no further changes
	closer *os.File            // set by Open, closed by Close; nil for New on a caller-owned reader

	idTable []uint32 // resolved uid/gid values, index by UidIdx/GidIdx (§4.H)

	rootIno  *Inode
	rootInoN uint64

	inoIdxL sync.RWMutex
	inoIdx  map[uint32]inodeRef

	Magic             uint32
	InodeCnt          uint32
	ModTime           int32
	BlockSize         uint32
	FragCount         uint32
	Comp              Kind
	BlockLog          uint16
	Flags             SquashFlags
	IdCount           uint16
	VMajor            uint16
	VMinor            uint16
	RootInode         uint64
	BytesUsed         uint64
	IdTableStart      uint64
	XattrIdTableStart uint64
	InodeTableStart   uint64
	DirTableStart     uint64
	FragTableStart    uint64
	ExportTableStart  uint64
}

// New parses the superblock at the start of fs and validates it per §4.A's
// invariants, returning a Superblock ready for inode/directory lookups.
// Unlike the historical squashfs-tools convention, this package does not
// special-case "sqsh" vs "hsqs" beyond picking the magic: all multi-byte
// fields are little-endian regardless, matching the format actually
// produced by modern squashfs-tools and this package's own Writer.
func New(fs io.ReaderAt) (*Superblock, error) {
	head := make([]byte, superblockSize)
	if _, err := fs.ReadAt(head, 0); err != nil {
		return nil, fmt.Errorf("squashfs: reading superblock: %w", err)
	}

	sb := &Superblock{fs: fs, order: binary.LittleEndian}
	if err := sb.unmarshal(head); err != nil {
		return nil, err
	}
	if err := sb.validate(); err != nil {
		return nil, err
	}

	if !IsSupported(sb.Comp) {
		return nil, fmt.Errorf("%w: %s", ErrDisabledCompression, sb.Comp)
	}
	sb.codec = NewCodec(sb.Comp)
	if sb.Flags.Has(COMPRESSOR_OPTIONS) {
		optData, err := sb.readCompressorOptions()
		if err != nil {
			return nil, err
		}
		if c, err := NewCodecFromOptions(sb.Comp, optData); err == nil {
			sb.codec = c
		}
	}

	if err := sb.init(); err != nil {
		return nil, err
	}

	return sb, nil
}

func (sb *Superblock) unmarshal(data []byte) error {
	r := newPackedReader(data)
	sb.Magic = r.u32()
	if sb.Magic != magicLE && sb.Magic != magicBE {
		return ErrInvalidFile
	}
	sb.InodeCnt = r.u32()
	sb.ModTime = r.i32()
	sb.BlockSize = r.u32()
	sb.FragCount = r.u32()
	sb.Comp = Kind(r.u16())
	sb.BlockLog = r.u16()
	sb.Flags = SquashFlags(r.u16())
	sb.IdCount = r.u16()
	sb.VMajor = r.u16()
	sb.VMinor = r.u16()
	sb.RootInode = r.u64()
	sb.BytesUsed = r.u64()
	sb.IdTableStart = r.u64()
	sb.XattrIdTableStart = r.u64()
	sb.InodeTableStart = r.u64()
	sb.DirTableStart = r.u64()
	sb.FragTableStart = r.u64()
	sb.ExportTableStart = r.u64()
	return r.Err()
}

// validate checks the invariants §4.A calls out: version pinned to 4.0,
// block_size a power of two in [4KiB,1MiB] consistent with block_log, no
// unknown feature flag bits (Open Question, resolved in favor of rejecting
// rather than silently ignoring unknown bits), and a compression id in 1..6.
func (sb *Superblock) validate() error {
	if sb.VMajor != 4 || sb.VMinor != 0 {
		return ErrInvalidVersion
	}
	if sb.BlockSize < 4096 || sb.BlockSize > maxBlockSize || sb.BlockSize&(sb.BlockSize-1) != 0 {
		return ErrCorruptBlockSizes
	}
	if uint32(1)<<sb.BlockLog != sb.BlockSize {
		return ErrCorruptBlockSizes
	}
	if sb.Flags&^allKnownFlags != 0 {
		return fmt.Errorf("%w: 0x%x", ErrUnsupportedOption, uint16(sb.Flags&^allKnownFlags))
	}
	if _, ok := KindFromID(uint16(sb.Comp)); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCompression, uint16(sb.Comp))
	}
	return nil
}

// readCompressorOptions reads the single, always-uncompressed metablock at
// byte offset 96 holding this archive's codec options (§4.C).
func (sb *Superblock) readCompressorOptions() ([]byte, error) {
	head := make([]byte, 2)
	if _, err := sb.fs.ReadAt(head, superblockSize); err != nil {
		return nil, err
	}
	raw := uint16(head[0]) | uint16(head[1])<<8
	if raw&0x8000 != 0 {
		return nil, ErrCompressedCompressorOptions
	}
	size := int(raw &^ 0x8000)
	data := make([]byte, size)
	if _, err := sb.fs.ReadAt(data, superblockSize+2); err != nil {
		return nil, err
	}
	return data, nil
}

// decompressBlock decompresses one standalone (non-metablock) compressed
// block -- a data block or fragment block -- whose uncompressed size is
// already known from context, unlike a metablock's self-framed size.
func (sb *Superblock) decompressBlock(data []byte, maxSize int) ([]byte, error) {
	if sb.codec == nil {
		return nil, ErrInvalidCompressor
	}
	dst := make([]byte, maxSize)
	n, err := sb.codec.Decompress(data, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}
