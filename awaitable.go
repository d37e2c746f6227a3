package lowlevel

import (
	"context"

	"github.com/nyngwang/sftp-lowlevel/protocol"
)

// awaitableSlot is the low-level rendezvous primitive embedded in each
// arena slot: a one-shot channel the read task (or the shutdown path)
// delivers into exactly once. It plays the role the original crate gave
// a oneshot::Sender/Receiver pair, chosen over a sync.Cond or raw mutex
// because a buffered channel of size 1 gives a non-blocking, GC-friendly
// single delivery with a ready-made select-compatible receive end, the
// same tool smux reaches for in its notifier fields.
type awaitableSlot struct {
	ch chan slotResult
}

type slotResult struct {
	resp Response
	err  error
}

func newAwaitableSlot() awaitableSlot {
	return awaitableSlot{ch: make(chan slotResult, 1)}
}

func (a *awaitableSlot) deliver(resp Response) {
	if a.ch == nil {
		return
	}
	select {
	case a.ch <- slotResult{resp: resp}:
	default:
	}
}

func (a *awaitableSlot) deliverError(err error) {
	if a.ch == nil {
		return
	}
	select {
	case a.ch <- slotResult{err: err}:
	default:
	}
}

func (a *awaitableSlot) wait(ctx context.Context) (Response, error) {
	select {
	case r := <-a.ch:
		return r.resp, r.err
	case <-ctx.Done():
		return Response{}, context.Cause(ctx)
	}
}

// Awaitable is the handle a caller of WriteEnd's send_* methods gets back:
// a single-use future over one arena slot. Wait blocks until the read
// task (or shutdown) delivers a result, then releases the slot.
type Awaitable struct {
	arena *arena
	id    SlotID
	slot  *slot
}

func newAwaitable(a *arena, id SlotID) *Awaitable {
	return &Awaitable{arena: a, id: id}
}

// Wait blocks for the response and releases the underlying arena slot
// whether it succeeds or fails, so callers never need to remember to
// release it themselves.
func (aw *Awaitable) Wait(ctx context.Context) (Response, error) {
	defer aw.arena.release(aw.id)

	aw.arena.mu.Lock()
	if int(aw.id) >= len(aw.arena.slots) {
		aw.arena.mu.Unlock()
		return Response{}, ErrInvalidResponseID
	}
	s := &aw.arena.slots[aw.id]
	if s.waiter.ch == nil {
		s.waiter = newAwaitableSlot()
	}
	waiter := s.waiter
	aw.arena.mu.Unlock()

	return waiter.wait(ctx)
}

// AwaitableStatus, AwaitableHandle, ... are typed facades over Awaitable
// for operations whose reply shape is known at the call site, so callers
// get a concrete type back instead of having to type-switch on
// Response.Header themselves. Each wraps the same underlying Awaitable;
// the reply type only differs in each facade's Wait.

// AwaitableStatus wraps requests whose only valid reply is SSH_FXP_STATUS
// (remove, rename, mkdir, rmdir, setstat, fsetstat, symlink, close, ...).
type AwaitableStatus struct{ inner *Awaitable }

// Wait resolves to the decoded status, or an error if the wire reply
// wasn't a status frame at all (a protocol violation by the server).
func (a AwaitableStatus) Wait(ctx context.Context) (protocol.StatusResponse, error) {
	resp, err := a.inner.Wait(ctx)
	if err != nil {
		return protocol.StatusResponse{}, err
	}
	return asStatus(resp)
}

// AwaitableHandle wraps open/opendir requests.
type AwaitableHandle struct{ inner *Awaitable }

func (a AwaitableHandle) Wait(ctx context.Context) (protocol.HandleResponse, error) {
	resp, err := a.inner.Wait(ctx)
	if err != nil {
		return protocol.HandleResponse{}, err
	}
	return asHandle(resp)
}

// AwaitableNameEntries wraps realpath/readlink (single entry, but returned
// through the same NAME shape as readdir) and readdir (many entries).
type AwaitableNameEntries struct{ inner *Awaitable }

func (a AwaitableNameEntries) Wait(ctx context.Context) (protocol.NameResponse, error) {
	resp, err := a.inner.Wait(ctx)
	if err != nil {
		return protocol.NameResponse{}, err
	}
	return asName(resp)
}

// AwaitableAttrs wraps stat/lstat/fstat requests.
type AwaitableAttrs struct{ inner *Awaitable }

func (a AwaitableAttrs) Wait(ctx context.Context) (protocol.AttrsResponse, error) {
	resp, err := a.inner.Wait(ctx)
	if err != nil {
		return protocol.AttrsResponse{}, err
	}
	return asAttrs(resp)
}

// AwaitableData wraps read requests: N is how many bytes were actually
// delivered into the UserBuffer supplied at send time.
type AwaitableData struct{ inner *Awaitable }

func (a AwaitableData) Wait(ctx context.Context) (int, error) {
	resp, err := a.inner.Wait(ctx)
	if err != nil {
		return 0, err
	}
	if resp.Kind != ResponseKindBuffer && resp.Kind != ResponseKindAllocated {
		return 0, statusOrMismatch(resp)
	}
	if resp.Kind == ResponseKindAllocated {
		return len(resp.Allocated), nil
	}
	return resp.N, nil
}

// AwaitableLimits wraps the limits@openssh.com extension reply.
type AwaitableLimits struct{ inner *Awaitable }

func (a AwaitableLimits) Wait(ctx context.Context) (protocol.LimitsResponse, error) {
	resp, err := a.inner.Wait(ctx)
	if err != nil {
		return protocol.LimitsResponse{}, err
	}
	if resp.Kind != ResponseKindExtendedReply {
		return protocol.LimitsResponse{}, statusOrMismatch(resp)
	}
	return protocol.ParseLimits(resp.ExtendedBody)
}

func asStatus(resp Response) (protocol.StatusResponse, error) {
	if resp.Kind != ResponseKindHeader {
		return protocol.StatusResponse{}, statusOrMismatch(resp)
	}
	if s, ok := resp.Header.(protocol.StatusResponse); ok {
		return s, nil
	}
	return protocol.StatusResponse{}, newError(ErrKindFormat, errWrongReplyShape)
}

func asHandle(resp Response) (protocol.HandleResponse, error) {
	if resp.Kind != ResponseKindHeader {
		return protocol.HandleResponse{}, statusOrMismatch(resp)
	}
	if h, ok := resp.Header.(protocol.HandleResponse); ok {
		return h, nil
	}
	return protocol.HandleResponse{}, newError(ErrKindFormat, errWrongReplyShape)
}

func asName(resp Response) (protocol.NameResponse, error) {
	if resp.Kind != ResponseKindHeader {
		return protocol.NameResponse{}, statusOrMismatch(resp)
	}
	if n, ok := resp.Header.(protocol.NameResponse); ok {
		return n, nil
	}
	return protocol.NameResponse{}, newError(ErrKindFormat, errWrongReplyShape)
}

func asAttrs(resp Response) (protocol.AttrsResponse, error) {
	if resp.Kind != ResponseKindHeader {
		return protocol.AttrsResponse{}, statusOrMismatch(resp)
	}
	if a, ok := resp.Header.(protocol.AttrsResponse); ok {
		return a, nil
	}
	return protocol.AttrsResponse{}, newError(ErrKindFormat, errWrongReplyShape)
}

// statusOrMismatch turns an unexpected-but-valid status reply (typically
// an error status the server sent instead of the requested shape) into a
// StatusError, and anything else into a generic format mismatch.
func statusOrMismatch(resp Response) error {
	if resp.Kind == ResponseKindHeader {
		if s, ok := resp.Header.(protocol.StatusResponse); ok {
			return &StatusError{Status: s}
		}
	}
	return newError(ErrKindFormat, errWrongReplyShape)
}
