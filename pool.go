package squashfs

import "runtime"

// metablockSize is the uncompressed size of one metadata block (§3 "Metablock reference").
const metablockSize = 8192

// maxBlockSize is the largest permitted data block size (§3 "Datablock size").
const maxBlockSize = 1024 * 1024

// bufferPool is a process-wide bounded pool of reusable byte buffers with two
// size classes: metablock-sized (~8KiB) and datablock-sized (~1MiB). It is the
// only process-wide mutable state in the library (§5, §9 "Global state").
//
// Acquire never blocks: if the free list is empty, a fresh buffer is
// allocated. Release resets length to zero and returns the buffer to the free
// list unless it is already at capacity, in which case the buffer is simply
// dropped. Both operations are safe for concurrent use via buffered channels
// acting as bounded free lists, the idiomatic Go analogue of the mutex-guarded
// free list in the original Rust implementation (src/pool.rs, src/write/pool.rs).
type bufferPool struct {
	metablocks chan []byte
	datablocks chan []byte
}

var globalBufferPool = newBufferPool(runtime.GOMAXPROCS(0))

// newBufferPool creates a pool sized proportionally to workers: workers*3/2+1
// metablock buffers and workers+1 datablock buffers, following the
// original's `num_cpus::get() * 3/2` and `num_cpus::get()` sizing.
func newBufferPool(workers int) *bufferPool {
	if workers < 1 {
		workers = 1
	}
	return &bufferPool{
		metablocks: make(chan []byte, workers*3/2+1),
		datablocks: make(chan []byte, workers+1),
	}
}

func (p *bufferPool) getMetablock() []byte {
	select {
	case b := <-p.metablocks:
		return b[:0]
	default:
		return make([]byte, 0, metablockSize)
	}
}

func (p *bufferPool) putMetablock(b []byte) {
	if cap(b) == 0 {
		return
	}
	select {
	case p.metablocks <- b[:0]:
	default:
		// pool full, drop the buffer
	}
}

func (p *bufferPool) getDatablock() []byte {
	select {
	case b := <-p.datablocks:
		return b[:0]
	default:
		return make([]byte, 0, maxBlockSize)
	}
}

func (p *bufferPool) putDatablock(b []byte) {
	if cap(b) == 0 {
		return
	}
	select {
	case p.datablocks <- b[:0]:
	default:
		// pool full, drop the buffer
	}
}
