package lowlevel

import (
	"io"
	"sync"
	"sync/atomic"

	N "github.com/sagernet/sing/common/network"
)

// notifier is a coalescing wakeup channel: any number of signal calls
// between two receives collapse into a single wakeup, the same idiom
// smux's Session uses for its internal die/chReadEvent/chWriteEvent
// channels (a buffered channel of size 1 with a non-blocking send).
type notifier struct {
	ch chan struct{}
}

func newNotifier() notifier {
	return notifier{ch: make(chan struct{}, 1)}
}

func (n notifier) signal() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n notifier) channel() <-chan struct{} {
	return n.ch
}

// shutdownStage is the engine's three-stage shutdown state machine from
// spec.md §4.6: running, until the last WriteEnd (and its clones) has
// gone away; noMoreProducers, set by that final release, meaning no
// further requests will ever be submitted; allResponsesRead, set by the
// read task once every outstanding slot has its response, which is the
// flush task's cue to drain whatever is left and exit.
type shutdownStage int32

const (
	shutdownRunning shutdownStage = iota
	shutdownNoMoreProducers
	shutdownAllResponsesRead
)

// sharedState holds the atomic counters and refcounts every goroutine in
// the engine reads or updates without a lock, mirroring the counters a
// Rust Arc<Connection> would otherwise expose via strong_count() and
// AtomicU64 fields, generalized here into explicit fields since Go has no
// built-in strong-count tracking.
type sharedState struct {
	requestsSent    atomic.Uint64
	pendingRequests atomic.Int64
	connClosed      atomic.Bool
	stage           atomic.Int32

	// writeEndRefs counts live WriteEnd handles (the original plus any
	// clone obtained for a second goroutine). releaseWriteEndRef advances
	// the stage past shutdownRunning only once this reaches zero.
	writeEndRefs atomic.Int64

	shutdownNotify notifier

	// readNotify wakes the read task: signalled by the flush task before
	// each drain (responses can only follow flushed requests), by a
	// direct-atomic write (which bypasses the flush task entirely), and
	// by the shutdown transitions the read task has to observe.
	readNotify notifier

	// writeMu serializes every write that actually reaches the wire: the
	// flush task's drain and a producer's direct-atomic write both take
	// it, so a direct-atomic write's bytes can never land interleaved
	// with a concurrent drain's, the same guarantee a single flush-task
	// owner gives the buffered path for free.
	writeMu sync.Mutex
	w       io.Writer
	vw      N.VectorisedWriter
}

func newSharedState() *sharedState {
	s := &sharedState{shutdownNotify: newNotifier(), readNotify: newNotifier()}
	s.writeEndRefs.Store(1)
	return s
}

func (s *sharedState) addWriteEndRef() {
	s.writeEndRefs.Add(1)
}

// releaseWriteEndRef drops one WriteEnd reference and, if it was the
// last one, advances the shutdown stage past shutdownRunning and wakes
// the flush task.
func (s *sharedState) releaseWriteEndRef() {
	if s.writeEndRefs.Add(-1) == 0 {
		s.advanceStage(shutdownRunning, shutdownNoMoreProducers)
		s.shutdownNotify.signal()
		s.readNotify.signal()
	}
}

// advanceStage moves the shutdown stage forward from "from" to "to",
// never backward and never skipping a stage a concurrent advance already
// passed. Returns whether this call performed the transition.
func (s *sharedState) advanceStage(from, to shutdownStage) bool {
	return s.stage.CompareAndSwap(int32(from), int32(to))
}

func (s *sharedState) currentStage() shutdownStage {
	return shutdownStage(s.stage.Load())
}

func (s *sharedState) markConnClosed() {
	s.connClosed.Store(true)
}

func (s *sharedState) isConnClosed() bool {
	return s.connClosed.Load()
}

func (s *sharedState) recordSent(n uint64) {
	s.requestsSent.Add(n)
	s.pendingRequests.Add(int64(n))
}

// recordSentDirect accounts for a direct-atomic write: requestsSent still
// advances (the request did go out), but pendingRequests does not, since a
// direct write never enters the write buffer for the flush task to drain.
func (s *sharedState) recordSentDirect(n uint64) {
	s.requestsSent.Add(n)
}

// recordDrained subtracts n (the number of logical requests a completed
// drain consumed from the write buffer) from pendingRequests, keeping the
// invariant that pendingRequests equals the pushes observed since the
// last completed drain, per spec.md §8 invariant 6 -- not the number of
// responses still outstanding.
func (s *sharedState) recordDrained(n int) {
	s.pendingRequests.Add(-int64(n))
}
