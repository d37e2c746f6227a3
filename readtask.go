package lowlevel

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/go-kit/log/level"

	"github.com/nyngwang/sftp-lowlevel/protocol"
)

// readTask is the single background goroutine draining the connection's
// read half, generalizing read_end.rs's read_in_one_packet loop the way
// smux's recvLoop keeps pulling frames off the wire and dispatching them
// to the stream they belong to, except here every "stream" is a single
// arena slot rather than a long-lived multiplexed connection.
type readTask struct {
	buf    *readBuffer
	arena  *arena
	shared *sharedState
	config *Config
	alloc  *chunkAllocator
}

func newReadTask(r io.Reader, a *arena, shared *sharedState, config *Config) *readTask {
	return &readTask{
		buf:    newReadBuffer(r, 32*1024),
		arena:  a,
		shared: shared,
		config: config,
		alloc:  newChunkAllocator(),
	}
}

// run drives the read loop: wait on readNotify, take a snapshot of
// requestsSent (resetting the counter), process exactly that many
// response packets, repeat. A fatal error is returned to the connection,
// the way read_end.rs's background task reports its terminal error back
// on exit. The task never blocks in a stream read unless at least one
// request is known to be outstanding, so the "no more producers" signal
// can always reach it; once shutdown stage 1 holds and every reserved
// slot has a delivered response, it advances the stage to 2, wakes the
// flush task, and exits.
func (rt *readTask) run() error {
	logger := rt.config.logger()
	for {
		<-rt.shared.readNotify.channel()
		if rt.shared.isConnClosed() {
			return nil
		}

		n := rt.shared.requestsSent.Swap(0)
		for done := uint64(0); done < n; {
			if err := rt.readOnePacket(); err != nil {
				if IsInvalidResponseID(err) {
					// Recoverable per spec.md §4.5/§7: the offending
					// packet's bytes were already fully consumed by
					// readOnePacket, so the stream stays aligned on the
					// next frame. A spurious packet does not consume the
					// snapshot budget; the real response is still coming.
					level.Warn(logger).Log("msg", "invalid response id", "err", err)
					continue
				}
				if errors.Is(err, io.EOF) {
					err = wrapIOError(io.ErrUnexpectedEOF, "stream ended with responses outstanding")
				}
				level.Error(logger).Log("msg", "read task failed", "err", err)
				return err
			}
			done++
		}

		if rt.shared.currentStage() >= shutdownNoMoreProducers &&
			rt.shared.requestsSent.Load() == 0 && !rt.arena.hasPending() {
			rt.shared.advanceStage(shutdownNoMoreProducers, shutdownAllResponsesRead)
			level.Info(logger).Log("msg", "all responses read, shutting down")
			rt.shared.shutdownNotify.signal()
			return nil
		}
	}
}

// readOnePacket reads exactly one wire frame: a 4-byte length, the
// 1-byte type, the 4-byte response id, and then either a header payload
// (decoded in place) or a bulk data payload (streamed straight into the
// destination UserBuffer registered for that id).
func (rt *readTask) readOnePacket() error {
	var lenAndType [5]byte
	if err := rt.buf.readExactInto(lenAndType[:]); err != nil {
		return err
	}
	bodyLen := int(binary.BigEndian.Uint32(lenAndType[0:4]))
	packetType := lenAndType[4]
	if bodyLen < 5 {
		return wrapFormatError(errShortFrame, "response frame shorter than a type+id field")
	}

	var idBuf [4]byte
	if err := rt.buf.readExactInto(idBuf[:]); err != nil {
		return err
	}
	id := SlotID(binary.BigEndian.Uint32(idBuf[:]))
	remaining := bodyLen - 5

	if protocol.IsData(packetType) {
		return rt.handleDataPacket(id, remaining)
	}
	if protocol.IsExtendedReply(packetType) {
		return rt.handleExtendedReply(id, remaining)
	}
	return rt.handleHeaderPacket(id, packetType, remaining)
}

// handleHeaderPacket decodes a status/handle/name/attrs reply. The raw
// frame bytes only live for the duration of ParseHeader (which copies any
// string/byte fields it keeps into the returned ResponseInner), so the
// scratch buffer is borrowed from the chunk allocator and returned
// immediately after decoding instead of being freed to the GC -- the same
// reuse smux's recvLoop gets from defaultAllocator for its PSH payloads.
func (rt *readTask) handleHeaderPacket(id SlotID, packetType byte, remaining int) error {
	var body []byte
	pBody := rt.alloc.get(remaining)
	if pBody != nil {
		body = *pBody
	}
	readErr := rt.buf.readExactInto(body)
	if readErr != nil {
		if pBody != nil {
			rt.alloc.put(pBody) //nolint:errcheck
		}
		return readErr
	}
	inner, err := protocol.ParseHeader(packetType, body)
	if pBody != nil {
		rt.alloc.put(pBody) //nolint:errcheck
	}
	if err != nil {
		// A packet we could not parse still has to be accounted for so
		// the stream stays framed correctly for the next packet; since
		// readExactInto already consumed exactly remaining bytes, there
		// is nothing further to recover here, unlike the boxed
		// recursive-error case in the original crate where recovery
		// itself could fail independently.
		return wrapFormatError(err, "decoding header response")
	}
	resp := Response{Kind: ResponseKindHeader, Header: inner}
	if !rt.arena.fulfill(id, resp) {
		return newError(ErrKindInvalidResponseID, ErrInvalidResponseID)
	}
	return nil
}

// handleDataPacket consumes an SSH_FXP_DATA payload. Per spec.md §4.5 step
// 3, the data shape carries its own 4-byte inner length ahead of the raw
// bytes (mirroring the length-prefixed "string data" field of the wire
// format), distinct from the outer frame length already parsed by the
// caller; that inner length must be pre-consumed before the byte count it
// announces can be streamed into the destination.
func (rt *readTask) handleDataPacket(id SlotID, remaining int) error {
	if remaining < 4 {
		return wrapFormatError(errShortFrame, "data response shorter than its inner length field")
	}
	var innerLenBuf [4]byte
	if err := rt.buf.readExactInto(innerLenBuf[:]); err != nil {
		return err
	}
	innerLen := int(binary.BigEndian.Uint32(innerLenBuf[:]))
	remaining -= 4
	if innerLen > remaining {
		return wrapFormatError(errShortFrame, "data response inner length exceeds frame")
	}
	trailing := remaining - innerLen

	dest, ok := rt.arena.destinationFor(id)
	if ok && dest.Cap() < innerLen {
		// Shape mismatch: the registered buffer is too small for this
		// reply. Per spec.md §4.5 step 3 the engine must never silently
		// truncate into it, so it falls back to a fresh allocation
		// exactly as if no destination had been registered at all.
		ok = false
	}
	if !ok {
		// No usable destination registered: either a stale id, a caller
		// that issued a raw request expecting an allocated buffer, or a
		// too-small registered buffer. Either way, drain the bytes so the
		// stream stays framed, then report InvalidResponseID if the slot
		// truly doesn't exist.
		allocated := make([]byte, innerLen)
		if err := rt.buf.readExactInto(allocated); err != nil {
			return err
		}
		if err := rt.buf.subdrain(trailing, func([]byte) {}); err != nil {
			return err
		}
		if rt.arena.fulfill(id, Response{Kind: ResponseKindAllocated, Allocated: allocated}) {
			return nil
		}
		return newError(ErrKindInvalidResponseID, ErrInvalidResponseID)
	}

	written := 0
	err := rt.buf.subdrain(innerLen, func(chunk []byte) {
		written += dest.Put(chunk)
	})
	if err != nil {
		return err
	}
	if err := rt.buf.subdrain(trailing, func([]byte) {}); err != nil {
		return err
	}
	if !rt.arena.fulfill(id, Response{Kind: ResponseKindBuffer, Buffer: dest, N: written}) {
		return newError(ErrKindInvalidResponseID, ErrInvalidResponseID)
	}
	return nil
}

func (rt *readTask) handleExtendedReply(id SlotID, remaining int) error {
	body := make([]byte, remaining)
	if err := rt.buf.readExactInto(body); err != nil {
		return err
	}
	if !rt.arena.fulfill(id, Response{Kind: ResponseKindExtendedReply, ExtendedBody: body}) {
		return newError(ErrKindInvalidResponseID, ErrInvalidResponseID)
	}
	return nil
}

var errShortFrame = errors.New("response frame too short to contain a request id")
