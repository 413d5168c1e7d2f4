package squashfs

// twoLevelTable builds one of squashfs's packed-array-plus-index tables
// (UID/GID, fragment, xattr, export): fixed-size records stream into a
// metablock writer, and every time a record's write lands exactly on a new
// metablock boundary, that metablock's block_start is appended to a
// secondary index. Grounded on original_source/src/write/two_level.rs;
// expressed with Go generics rather than a phantom-typed wrapper: T is the
// record type that write accepts and hands to encode; records are not stored.
type twoLevelTable[T packed] struct {
	writer *metablockWriter
	index  []uint32
	encode func(T) []byte
}

func newTwoLevelTable[T packed](codec Codec, encode func(T) []byte) *twoLevelTable[T] {
	return &twoLevelTable[T]{
		writer: newMetablockWriter(codec),
		encode: encode,
	}
}

func (t *twoLevelTable[T]) write(item T) {
	pos := t.writer.position()
	if pos.Offset() == 0 {
		t.index = append(t.index, uint32(pos.Index()))
	}
	t.writer.writeRaw(t.encode(item))
}

// finish returns the assembled metablock stream and its secondary index.
func (t *twoLevelTable[T]) finish() ([]byte, []uint32) {
	data := t.writer.finish()
	return data, t.index
}
