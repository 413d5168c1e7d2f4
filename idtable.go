package squashfs

import "fmt"

// idEntry is a single UID/GID table record: a raw 32-bit id (§3 "UID/GID
// table", one of the two deduplicated lookup tables squashfs uses instead of
// storing full ids in every inode).
type idEntry uint32

func (idEntry) Size() int { return 4 }

func encodeIDEntry(e idEntry) []byte {
	w := newPackedWriter(4)
	w.u32(uint32(e))
	return w.Bytes()
}

// idTable deduplicates UID/GID values into a dense index, grounded on
// original_source/src/write/uid_gid.rs. IndexSet there becomes a map (value
// -> index) plus an append-only slice (index -> value), the standard Go
// substitute for an order-preserving set.
type idTable struct {
	order []idEntry
	index map[idEntry]uint16
}

func newIDTable() *idTable {
	return &idTable{index: make(map[idEntry]uint16)}
}

// add interns id, returning its table index. Indexes are assigned in
// first-seen order and are stable for the table's lifetime.
func (t *idTable) add(id uint32) (uint16, error) {
	e := idEntry(id)
	if idx, ok := t.index[e]; ok {
		return idx, nil
	}
	if len(t.order) >= 1<<16-1 {
		return 0, fmt.Errorf("%w: more than 65535 distinct uid/gid values", ErrTooManyIDs)
	}
	idx := uint16(len(t.order))
	t.order = append(t.order, e)
	t.index[e] = idx
	return idx, nil
}

func (t *idTable) len() uint16 {
	return uint16(len(t.order))
}

// write serialises the table as a two-level table (component G) and returns
// the data section plus a slice of absolute metablock offsets (start_offset
// already added), ready to be appended after the data section as the index.
func (t *idTable) write(codec Codec, sectionStart uint64) (data []byte, index []uint64) {
	table := newTwoLevelTable[idEntry](codec, encodeIDEntry)
	for _, id := range t.order {
		table.write(id)
	}
	data, idx := table.finish()
	index = make([]uint64, len(idx))
	for i, off := range idx {
		index[i] = sectionStart + uint64(off)
	}
	return data, index
}
