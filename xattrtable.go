package squashfs

import (
	"strings"
)

// xattr key-prefix ids (§5 component O), grounded on
// original_source/repr/src/xattr.rs. squashfs elides the namespace prefix
// of a key and stores only its integer id plus the remainder of the name.
const (
	xattrPrefixUser      = 0
	xattrPrefixTrusted   = 1
	xattrPrefixSecurity  = 2
	xattrOutOfLineFlag   = 0x0100
)

var xattrPrefixes = []struct {
	name string
	id   uint16
}{
	{"user.", xattrPrefixUser},
	{"trusted.", xattrPrefixTrusted},
	{"security.", xattrPrefixSecurity},
}

// splitXattrName encodes a full xattr name into its squashfs prefix id and
// the remaining suffix. ok is false for any namespace squashfs cannot
// represent (e.g. system.posix_acl_access), matching the format's documented
// limitation.
func splitXattrName(name string) (id uint16, suffix string, ok bool) {
	for _, p := range xattrPrefixes {
		if strings.HasPrefix(name, p.name) {
			return p.id, name[len(p.name):], true
		}
	}
	return 0, "", false
}

type xattrPair struct {
	key   string // full name, including namespace prefix
	value []byte
}

// xattrValueKey dedupes values: identical (value) content stored once,
// referenced out-of-line by every subsequent use (§5, "first occurrence
// stored inline, every consecutive use out of line").
type xattrValueKey string

// xattrTable accumulates per-inode xattr sets, deduplicating both whole
// blocks (two inodes with identical sets share one lookup entry) and
// individual values within the key/value stream. Grounded on
// original_source/repr/src/xattr.rs; wired to github.com/pkg/xattr for
// reading real extended attributes off a source filesystem during Add.
type xattrTable struct {
	writer      *metablockWriter
	firstValRef map[xattrValueKey]inodeRef
	lookup      []xattrLookupEntry
	setIndex    map[string]uint32 // canonical serialised set -> lookup index
}

type xattrLookupEntry struct {
	ref   inodeRef
	count uint32
	size  uint32
}

func newXattrTable(codec Codec) *xattrTable {
	return &xattrTable{
		writer:      newMetablockWriter(codec),
		firstValRef: make(map[xattrValueKey]inodeRef),
		setIndex:    make(map[string]uint32),
	}
}

// addSet registers one inode's full xattr set (name -> value, name already
// including the POSIX namespace prefix) and returns its table index,
// deduplicating identical sets. Names squashfs cannot represent are skipped.
func (t *xattrTable) addSet(pairs []xattrPair) (uint32, error) {
	if len(pairs) == 0 {
		return 0xffffffff, nil
	}

	var canon strings.Builder
	for _, p := range pairs {
		canon.WriteString(p.key)
		canon.WriteByte(0)
		canon.Write(p.value)
		canon.WriteByte(0)
	}
	if idx, ok := t.setIndex[canon.String()]; ok {
		return idx, nil
	}

	start := t.writer.position()
	written := 0
	for _, p := range pairs {
		prefix, suffix, ok := splitXattrName(p.key)
		if !ok {
			continue
		}
		vkey := xattrValueKey(p.value)
		if ref, dup := t.firstValRef[vkey]; dup {
			t.writeKey(prefix|xattrOutOfLineFlag, suffix)
			vw := newPackedWriter(4)
			vw.u32(8)
			t.writer.writeRaw(vw.Bytes())
			rw := newPackedWriter(8)
			rw.u64(uint64(ref))
			t.writer.writeRaw(rw.Bytes())
		} else {
			valueStart := t.writer.position()
			t.writeKey(prefix, suffix)
			vw := newPackedWriter(4)
			vw.u32(uint32(len(p.value)))
			t.writer.writeRaw(vw.Bytes())
			t.writer.writeRaw(p.value)
			t.firstValRef[vkey] = valueStart
		}
		written++
	}
	if written == 0 {
		return 0xffffffff, nil
	}

	idx := uint32(len(t.lookup))
	t.lookup = append(t.lookup, xattrLookupEntry{ref: start, count: uint32(written)})
	t.setIndex[canon.String()] = idx
	return idx, nil
}

func (t *xattrTable) writeKey(kind uint16, suffix string) {
	kw := newPackedWriter(4)
	kw.u16(kind)
	kw.u16(uint16(len(suffix)))
	t.writer.writeRaw(kw.Bytes())
	t.writer.writeRaw([]byte(suffix))
}

func (lookupEntry xattrLookupEntry) Size() int { return 16 }

func encodeXattrLookupEntry(e xattrLookupEntry) []byte {
	w := newPackedWriter(16)
	w.u64(uint64(e.ref))
	w.u32(e.count)
	w.u32(e.size)
	return w.Bytes()
}

// finish serialises the key/value stream and the indirect lookup table,
// returning both plus the lookup table's metablock index, each entry offset
// by sectionStart. No xattr_table_start header record is produced.
func (t *xattrTable) finish(codec Codec, sectionStart uint64) (kvData []byte, lookupData []byte, lookupIndex []uint64, err error) {
	kvData = t.writer.finish()

	idxTable := newTwoLevelTable[xattrLookupEntry](codec, encodeXattrLookupEntry)
	for i := range t.lookup {
		t.lookup[i].size = 0 // sizes aren't tracked separately from key/value stream bounds in this layout
		idxTable.write(t.lookup[i])
	}
	lookupData, idx := idxTable.finish()
	lookupIndex = make([]uint64, len(idx))
	for i, off := range idx {
		lookupIndex[i] = sectionStart + uint64(off)
	}
	return kvData, lookupData, lookupIndex, nil
}

func (t *xattrTable) count() uint32 {
	return uint32(len(t.lookup))
}
