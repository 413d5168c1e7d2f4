package squashfs

import "errors"

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrInvalidFile is returned when the file format is not recognized as SquashFS
	ErrInvalidFile = errors.New("invalid file, squashfs signature not found")

	// ErrInvalidSuper is not returned by this package: superblock problems are
	// reported with the more specific errors below (ErrInvalidVersion,
	// ErrCorruptBlockSizes, ErrUnsupportedOption, ErrUnknownCompression, ...)
	ErrInvalidSuper = errors.New("invalid squashfs superblock")

	// ErrInvalidVersion is returned when the SquashFS version is not 4.0
	// This library only supports SquashFS 4.0 format
	ErrInvalidVersion = errors.New("invalid file version, expected squashfs 4.0")

	// ErrInodeNotExported is not returned by this package: GetInode reports an
	// inode number it cannot resolve through the export table as fs.ErrInvalid
	ErrInodeNotExported = errors.New("unknown squashfs inode and no NFS export table")

	// ErrNotDirectory is returned when attempting to perform directory operations on a non-directory
	ErrNotDirectory = errors.New("not a directory")

	// ErrTooManySymlinks is returned when symlink resolution exceeds the maximum depth
	// This prevents infinite loops in symlink resolution
	ErrTooManySymlinks = errors.New("too many levels of symbolic links")

	// ErrUnknownCompression is returned when the superblock names a compression id outside 1..6
	ErrUnknownCompression = errors.New("squashfs: unknown compression id")

	// ErrDisabledCompression is returned when the compression id is known but unsupported in this build
	ErrDisabledCompression = errors.New("squashfs: compression algorithm not supported in this build")

	// ErrCorruptBlockSizes is returned when block_size and block_log disagree, or block_size is out of range
	ErrCorruptBlockSizes = errors.New("squashfs: block size and block_log mismatch or out of range")

	// ErrUnsupportedOption is returned when the superblock has an unknown flag bit set
	ErrUnsupportedOption = errors.New("squashfs: unsupported superblock flag bit")

	// ErrInvalidCompressorOptions is returned when codec options are out of their valid range
	ErrInvalidCompressorOptions = errors.New("squashfs: invalid compressor options")

	// ErrHugeMetablock is returned when a metablock declares an on-disk size above 8KiB
	ErrHugeMetablock = errors.New("squashfs: metablock size exceeds 8KiB")

	// ErrUnexpectedMetablockSize is returned when a caller demands an exact-size metablock and gets a different one
	ErrUnexpectedMetablockSize = errors.New("squashfs: metablock size does not match expected size")

	// ErrCompressedCompressorOptions is returned when the compressor-options metablock claims compression
	ErrCompressedCompressorOptions = errors.New("squashfs: compressor options metablock must not be compressed")

	// ErrInvalidCompressor is returned when a metablock claims compression but no codec is bound
	ErrInvalidCompressor = errors.New("squashfs: metablock is compressed but no compressor is configured")

	// ErrArchiveFlushed is not returned by this package: Writer does not record
	// that Finalize has run, and a second Add or Finalize call is not rejected
	ErrArchiveFlushed = errors.New("squashfs: archive already flushed")

	// ErrArchivePoisoned is not returned by this package: a Finalize that fails
	// does not mark the Writer, and later calls on it are not rejected
	ErrArchivePoisoned = errors.New("squashfs: archive flush aborted by a previous error")

	// ErrSymlinkTargetEmpty is returned when a symlink with a zero-length target is created
	ErrSymlinkTargetEmpty = errors.New("squashfs: symlink target must not be empty")

	// ErrTooManyIDs is returned when the UID/GID table would exceed 2^16-1 entries
	ErrTooManyIDs = errors.New("squashfs: too many distinct uid/gid values")

	// ErrBlockTooLarge is not returned by this package: Finalize rejects a block
	// size above 1MiB with ErrCorruptBlockSizes
	ErrBlockTooLarge = errors.New("squashfs: data block exceeds 1MiB")
)
