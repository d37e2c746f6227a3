package lowlevel

import (
	"io"
	"sync"

	"github.com/sagernet/sing/common/buf"
	"github.com/sagernet/sing/common/bufio"
	N "github.com/sagernet/sing/common/network"
)

// writeBuffer is the multi-producer single-consumer chunk queue from
// spec.md §4.2. Any number of WriteEnd callers append whole encoded
// requests to it concurrently; exactly one flush task drains it. It plays
// the role smux's sendLoop channel plays, but as a plain mutex-guarded
// slice rather than a channel of frames, since a request here is a
// variable number of already-framed chunks that must reach the wire
// contiguously and in push order -- something a buffered channel of
// []byte values gives for free only if every push is a single send.
type writeBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
	notify notifier

	// groups counts logical requests (one beginPush/finish pair each)
	// appended since the last drain, independent of how many chunks a
	// multi-chunk (zero-copy write) request contributed. The flush task
	// subtracts the value drain() returns from pendingRequests so that
	// counter tracks "pushed since last completed drain" per spec.md §3,
	// rather than "responses not yet received".
	groups int
}

func newWriteBuffer() *writeBuffer {
	return &writeBuffer{notify: newNotifier()}
}

// pushGuard scopes one producer's multi-chunk append: a WriteEnd request
// that spans more than one chunk (header + raw data, for a write request)
// must land in the queue as a contiguous run, never interleaved with
// another goroutine's chunks, the same way a caller of smux's writeFrame
// holds dataLock for the whole of one frame's serialization.
type pushGuard struct {
	wb *writeBuffer
}

// beginPush locks the queue for the duration of one logical request's
// append and returns a guard whose push method appends one chunk at a
// time; the caller must call guard.finish when done.
func (wb *writeBuffer) beginPush() pushGuard {
	wb.mu.Lock()
	return pushGuard{wb: wb}
}

func (g pushGuard) push(chunk []byte) {
	g.wb.chunks = append(g.wb.chunks, chunk)
}

func (g pushGuard) finish(immediate bool) {
	g.wb.groups++
	g.wb.mu.Unlock()
	if immediate {
		g.wb.notify.signal()
	}
}

// drain swaps the live chunk slice out for backup (an empty slice the
// flush task hands back in), so producers can keep appending to a fresh
// slice while the flush task writes out the old one without holding the
// lock across a syscall -- the same swap-based handoff smux's sendLoop
// uses between its priority queue and the network conn. The write that
// follows is not interruptible: the flush task writes the drained chunks
// to completion or fails, and on a write failure those chunks are dropped
// along with the connection rather than handed to a later flush.
func (wb *writeBuffer) drain(backup [][]byte) (drained [][]byte, remaining [][]byte, groups int) {
	wb.mu.Lock()
	drained = wb.chunks
	wb.chunks = backup[:0]
	remaining = wb.chunks
	groups = wb.groups
	wb.groups = 0
	wb.mu.Unlock()
	return drained, remaining, groups
}

func (wb *writeBuffer) isEmpty() bool {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return len(wb.chunks) == 0
}

// atomicWriteCeiling bounds how many bytes a single vectored write may
// aggregate before the underlying transport can no longer guarantee the
// write lands as one atomic unit (a pty or pipe may interleave a larger
// write with another writer's bytes). Conservative stdio-pipe value; see
// spec.md §4.2.
const atomicWriteCeiling = 1 << 16

// flushChunks writes drained out to w. When the aggregate size fits under
// atomicWriteCeiling it is written as a single vectored operation via
// sing's VectorisedWriter, the same "one syscall, whole frame" shape
// smux's sendLoop gets for free from a single net.Conn.Write of a
// pre-marshaled frame; when w cannot be vectorised (vw is nil) the chunks
// are copied into one buffer and written with a single Write instead.
// Larger aggregates fall back to writing each chunk in turn, since
// atomicity is no longer promised past the ceiling anyway.
func flushChunks(w io.Writer, vw N.VectorisedWriter, drained [][]byte) error {
	if len(drained) == 0 {
		return nil
	}

	total := 0
	for _, c := range drained {
		total += len(c)
	}

	if total <= atomicWriteCeiling {
		if vw != nil {
			buffers := make([]*buf.Buffer, len(drained))
			for i, c := range drained {
				buffers[i] = buf.As(c)
			}
			return vw.WriteVectorised(buffers)
		}
		if len(drained) > 1 {
			joined := make([]byte, 0, total)
			for _, c := range drained {
				joined = append(joined, c...)
			}
			drained = [][]byte{joined}
		}
	}

	for _, c := range drained {
		if _, err := w.Write(c); err != nil {
			return err
		}
	}
	return nil
}

// newVectorisedWriter adapts w for vectorised writes when it supports
// them (e.g. a *net.TCPConn or *os.File). For a writer sing cannot
// vectorise it returns nil, and flushChunks then uses plain Write calls.
func newVectorisedWriter(w io.Writer) N.VectorisedWriter {
	vw, _ := bufio.CreateVectorisedWriter(w)
	return vw
}
