package squashfs

import "io"

// readFullCapped reads from r into dst until dst is full or r is exhausted.
// Unlike io.ReadFull it treats a short read terminated by io.EOF as success,
// since callers size dst to the known uncompressed block length and a
// stream that ends exactly there is the expected case, not an error.
func readFullCapped(r io.Reader, dst []byte) (int, error) {
	n, err := io.ReadFull(r, dst)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}
