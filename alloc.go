package lowlevel

import (
	"sync"

	"github.com/pkg/errors"
)

var debruijinPos = [...]byte{0, 9, 1, 10, 13, 21, 2, 29, 11, 14, 16, 18, 22, 25, 3, 30, 8, 12, 20, 28, 15, 17, 24, 7, 19, 27, 23, 6, 26, 5, 4, 31}

// chunkAllocator recycles the read task's scratch buffers for header
// responses, adapted from smux's Allocator: a power-of-2 bucketed
// sync.Pool, sized for the small metadata-heavy replies (status, handle,
// attrs, name) that dominate an SFTP session rather than smux's raw frame
// payloads.
type chunkAllocator struct {
	buckets []sync.Pool
}

// newChunkAllocator builds an allocator covering 64B to 64MiB chunks;
// anything bigger is handed to the GC as a one-off allocation (bulk
// write/read payloads travel through vectored I/O, not this pool).
func newChunkAllocator() *chunkAllocator {
	a := &chunkAllocator{buckets: make([]sync.Pool, 21)} // 2^6 .. 2^26
	for k := range a.buckets {
		size := 1 << uint(k+6)
		a.buckets[k].New = func() interface{} {
			b := make([]byte, size)
			return &b
		}
	}
	return a
}

func (a *chunkAllocator) get(size int) *[]byte {
	if size <= 0 {
		return nil
	}
	if size > 1<<26 {
		b := make([]byte, size)
		return &b
	}
	bits := msb(size)
	if bits < 6 {
		bits = 6
	}
	idx := bits - 6
	if size == 1<<bits {
		p := a.buckets[idx].Get().(*[]byte)
		*p = (*p)[:size]
		return p
	}
	p := a.buckets[idx+1].Get().(*[]byte)
	*p = (*p)[:size]
	return p
}

func (a *chunkAllocator) put(p *[]byte) error {
	if p == nil {
		return errors.New("chunk allocator: put of nil buffer")
	}
	c := cap(*p)
	if c == 0 {
		return errors.New("chunk allocator: put of empty buffer")
	}
	bits := msb(c)
	if c != 1<<bits || bits < 6 || int(bits) >= len(a.buckets)+6 {
		// Not one of our bucket sizes (e.g. an oversized one-off
		// allocation); just let the GC reclaim it.
		return nil
	}
	a.buckets[bits-6].Put(p)
	return nil
}

// msb returns the position of the most significant set bit of size,
// via the De Bruijn sequence trick smux's allocator uses.
func msb(size int) byte {
	v := uint32(size)
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	return debruijinPos[(v*0x07C4ACDD)>>27]
}
