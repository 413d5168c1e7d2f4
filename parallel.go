package squashfs

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ParallelCompressor runs a fixed pool of worker goroutines that each own an
// independent Codec instance, grounded on
// original_source/src/write/compress_threads.rs. crossbeam channels and OS
// threads there become unbuffered Go channels and goroutines here; the
// Rust Drop-based thread joiner becomes golang.org/x/sync/errgroup, recruited
// from distr1-distri's go.mod for exactly this worker-lifecycle-join role.
type ParallelCompressor struct {
	requests chan compressRequest
	group    *errgroup.Group
	cancel   context.CancelFunc
}

type requestKind int

const (
	requestCompress requestKind = iota
	requestDecompress
)

type compressRequest struct {
	data        []byte
	kind        requestKind
	maxOutSize  int
	reply       chan compressReply
}

// CompressResult is a completed compress or decompress operation. Compressed
// is false when Compress fell back to storing data uncompressed because the
// compressed form did not fit in len(data)-1 bytes (§4.D compress fallback).
type CompressResult struct {
	Data       []byte
	Compressed bool
}

type compressReply struct {
	result CompressResult
	err    error
}

// NewParallelCompressor starts workers goroutines, each constructing an
// independent Codec of kind k via NewCodec. workers must be >= 1.
func NewParallelCompressor(workers int, k Kind) *ParallelCompressor {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	pc := &ParallelCompressor{
		requests: make(chan compressRequest),
		group:    group,
		cancel:   cancel,
	}
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			codec := NewCodec(k)
			pc.workerLoop(ctx, codec)
			return nil
		})
	}
	return pc
}

func (p *ParallelCompressor) workerLoop(ctx context.Context, codec Codec) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-p.requests:
			if !ok {
				return
			}
			p.handle(codec, req)
		}
	}
}

func (p *ParallelCompressor) handle(codec Codec, req compressRequest) {
	switch req.kind {
	case requestCompress:
		outSize := len(req.data) - 1
		if outSize < 0 {
			outSize = 0
		}
		dst := globalBufferPool.getDatablock()
		if cap(dst) < outSize {
			dst = make([]byte, 0, outSize)
		}
		dst = dst[:outSize]
		n, err := codec.Compress(req.data, dst)
		if err == nil {
			out := make([]byte, n)
			copy(out, dst[:n])
			globalBufferPool.putDatablock(dst)
			req.reply <- compressReply{result: CompressResult{Data: out, Compressed: true}}
			return
		}
		if err == ErrShortOutput {
			globalBufferPool.putDatablock(dst)
			out := make([]byte, len(req.data))
			copy(out, req.data)
			req.reply <- compressReply{result: CompressResult{Data: out, Compressed: false}}
			return
		}
		globalBufferPool.putDatablock(dst)
		req.reply <- compressReply{err: err}
	case requestDecompress:
		dst := globalBufferPool.getDatablock()
		if cap(dst) < req.maxOutSize {
			dst = make([]byte, 0, req.maxOutSize)
		}
		dst = dst[:req.maxOutSize]
		n, err := codec.Decompress(req.data, dst)
		if err != nil {
			globalBufferPool.putDatablock(dst)
			req.reply <- compressReply{err: err}
			return
		}
		out := make([]byte, n)
		copy(out, dst[:n])
		globalBufferPool.putDatablock(dst)
		req.reply <- compressReply{result: CompressResult{Data: out, Compressed: true}}
	}
}

// Compress submits data for compression and returns a channel that will
// receive exactly one reply, mirroring the one-shot reply channel of the
// original's Request.reply.
func (p *ParallelCompressor) Compress(data []byte) <-chan struct {
	Result CompressResult
	Err    error
} {
	reply := make(chan compressReply, 1)
	out := make(chan struct {
		Result CompressResult
		Err    error
	}, 1)
	p.requests <- compressRequest{data: data, kind: requestCompress, reply: reply}
	go func() {
		r := <-reply
		out <- struct {
			Result CompressResult
			Err    error
		}{r.result, r.err}
	}()
	return out
}

// Decompress submits data for decompression into a buffer sized maxOutSize.
func (p *ParallelCompressor) Decompress(data []byte, maxOutSize int) <-chan struct {
	Result CompressResult
	Err    error
} {
	reply := make(chan compressReply, 1)
	out := make(chan struct {
		Result CompressResult
		Err    error
	}, 1)
	p.requests <- compressRequest{data: data, kind: requestDecompress, maxOutSize: maxOutSize, reply: reply}
	go func() {
		r := <-reply
		out <- struct {
			Result CompressResult
			Err    error
		}{r.result, r.err}
	}()
	return out
}

// Close stops all workers and waits for them to exit, mirroring the
// original's Drop-order close-sender-then-join-threads sequence.
func (p *ParallelCompressor) Close() error {
	close(p.requests)
	p.cancel()
	return p.group.Wait()
}
