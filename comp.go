package squashfs

import "fmt"

// Kind identifies a squashfs compression algorithm by its on-disk id (§4.C).
// The teacher package called this SquashComp; renamed here because it is no
// longer just a superblock field value but the key into the codec registry.
type Kind uint16

const (
	GZip Kind = 1
	LZMA Kind = 2
	LZO  Kind = 3
	XZ   Kind = 4
	LZ4  Kind = 5
	ZSTD Kind = 6
)

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint16(k))
}

var kindNames = map[Kind]string{
	GZip: "gzip",
	LZMA: "lzma",
	LZO:  "lzo",
	XZ:   "xz",
	LZ4:  "lz4",
	ZSTD: "zstd",
}

var nameKinds = map[string]Kind{
	"gzip": GZip,
	"lzma": LZMA,
	"lzo":  LZO,
	"xz":   XZ,
	"lz4":  LZ4,
	"zstd": ZSTD,
}

// KindFromID maps a superblock compression_id to a Kind. ok is false for any
// id outside 1..6 (ErrUnknownCompression territory, left to the caller).
func KindFromID(id uint16) (Kind, bool) {
	k := Kind(id)
	_, ok := kindNames[k]
	return k, ok
}

// KindFromName maps a codec name (as used in compressor option CLIs/configs)
// to a Kind. ok is false for unrecognised names.
func KindFromName(name string) (Kind, bool) {
	k, ok := nameKinds[name]
	return k, ok
}

// codecFactories holds a zero-options constructor per supported Kind.
// Per-codec files (comp_gzip.go, comp_xz.go for both xz and lzma,
// comp_zstd.go, comp_lz4.go) register themselves here in init(), generalizing the
// teacher's build-tag-gated comp_xz.go/comp_zstd.go pattern to every codec.
var codecFactories = map[Kind]func() Codec{}

func registerCodec(k Kind, factory func() Codec) {
	codecFactories[k] = factory
}

// IsSupported reports whether this build can compress/decompress the given
// Kind. LZO is always unsupported: no maintained pure-Go implementation
// exists without cgo (see DESIGN.md).
func IsSupported(k Kind) bool {
	_, ok := codecFactories[k]
	return ok
}

// Codec is the per-algorithm capability set required by §4.C: a zero-value
// constructor, an options-driven constructor, and symmetric
// compress/decompress operations sized by the caller.
type Codec interface {
	// Compress writes the compressed form of src into dst and returns the
	// number of bytes written. If dst is too small to hold the compressed
	// result, ErrShortOutput is returned and the caller falls back to
	// storing src uncompressed (§4.D compress fallback rule).
	Compress(src, dst []byte) (int, error)

	// Decompress writes the decompressed form of src into dst and returns
	// the number of bytes written. Corrupt input surfaces as
	// ErrCorruptInput.
	Decompress(src, dst []byte) (int, error)

	// Kind reports which algorithm this codec instance implements.
	Kind() Kind

	// MarshalOptions serialises this codec's options for the
	// compressor-options metablock. A nil/empty return means "use
	// defaults, omit the options section".
	MarshalOptions() []byte
}

// NewCodec constructs a codec with default options for k. It panics if k is
// not supported; callers that accept untrusted compression ids must check
// IsSupported first (as Open does).
func NewCodec(k Kind) Codec {
	factory, ok := codecFactories[k]
	if !ok {
		panic(fmt.Sprintf("squashfs: codec %s not supported in this build", k))
	}
	return factory()
}

// NewCodecFromOptions constructs a codec for k configured from a serialised
// compressor-options record, validating the decoded values per §4.C.
func NewCodecFromOptions(k Kind, data []byte) (Codec, error) {
	if !IsSupported(k) {
		return nil, fmt.Errorf("%w: %s", ErrDisabledCompression, k)
	}
	if parser, ok := codecOptionParsers[k]; ok {
		return parser(data)
	}
	return NewCodec(k), nil
}

var codecOptionParsers = map[Kind]func([]byte) (Codec, error){}

func registerCodecOptionParser(k Kind, parser func([]byte) (Codec, error)) {
	codecOptionParsers[k] = parser
}

// ErrShortOutput is returned by Codec.Compress when dst is not large enough
// to hold the compressed output. It is a local, recoverable condition per
// §7 ("Recoverable conditions ... handled locally") and is never returned
// to a library caller directly.
var ErrShortOutput = fmt.Errorf("squashfs: compressed output did not fit destination buffer")

// ErrCorruptInput is returned by Codec.Decompress when src cannot be decoded.
var ErrCorruptInput = fmt.Errorf("squashfs: corrupt compressed block")
