package lowlevel

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/nyngwang/sftp-lowlevel/protocol"
)

// TestReadTaskRecoversFromInvalidResponseID covers scenario S4: a response
// naming a request id with no live arena slot must not kill the read loop.
// The offending frame's bytes are still fully consumed so the stream stays
// aligned, and the very next, legitimate response still reaches its
// caller without eating into the packet budget of the wakeup.
func TestReadTaskRecoversFromInvalidResponseID(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()
	defer pw.Close()

	shared := newSharedState()
	a := newArena()
	config := DefaultConfig()
	rt := newReadTask(pr, a, shared, config)

	id := a.reserve()
	aw := newAwaitable(a, id)
	shared.recordSent(1)
	shared.readNotify.signal()

	runDone := make(chan error, 1)
	go func() { runDone <- rt.run() }()

	go func() {
		pw.Write(statusFrame(999, protocol.SSHFXOk, "", ""))        //nolint:errcheck
		pw.Write(statusFrame(uint32(id), protocol.SSHFXOk, "", "")) //nolint:errcheck
	}()

	resp, err := aw.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	status, ok := resp.Header.(protocol.StatusResponse)
	if !ok || status.Code != protocol.SSHFXOk {
		t.Fatalf("got %+v, want a status reply with SSH_FX_OK", resp)
	}

	// With the one real response delivered, the no-more-producers signal
	// must be enough for the task to finish on its own.
	shared.advanceStage(shutdownRunning, shutdownNoMoreProducers)
	shared.readNotify.signal()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("run() returned an error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("read task did not exit after the shutdown signal")
	}
}

// TestReadTaskAdvancesToStageTwoOnceEveryPendingSlotIsFulfilled covers the
// stage-1-to-stage-2 transition from §4.6: once no more producers are
// registered and the arena has nothing left pending, the read task must
// advance the shutdown stage and exit on its own, without waiting to
// observe eof on the stream first. fulfill() flips a slot out of
// slotPending as soon as the response arrives, which is what lets the
// read task's budget-complete check see hasPending() == false
// immediately, without needing to wait for the caller to also call Wait.
func TestReadTaskAdvancesToStageTwoOnceEveryPendingSlotIsFulfilled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()
	defer pw.Close()

	shared := newSharedState()
	a := newArena()
	config := DefaultConfig()
	rt := newReadTask(pr, a, shared, config)

	id := a.reserve()
	aw := newAwaitable(a, id)
	shared.recordSent(1)

	shared.advanceStage(shutdownRunning, shutdownNoMoreProducers)
	shared.readNotify.signal()

	runDone := make(chan error, 1)
	go func() { runDone <- rt.run() }()

	pw.Write(statusFrame(uint32(id), protocol.SSHFXOk, "", "")) //nolint:errcheck

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("run() returned an error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("read task should have advanced to stage 2 and exited on its own")
	}
	if shared.currentStage() != shutdownAllResponsesRead {
		t.Fatalf("stage = %v, want shutdownAllResponsesRead", shared.currentStage())
	}

	if _, err := aw.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

// TestReadTaskFailsOnEOFWithResponsesOutstanding: a stream that ends while
// the task still owes a caller a response is a dead session, not a clean
// shutdown -- run() must surface it as an I/O error so the connection can
// abandon every live awaitable.
func TestReadTaskFailsOnEOFWithResponsesOutstanding(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()

	shared := newSharedState()
	a := newArena()
	config := DefaultConfig()
	rt := newReadTask(pr, a, shared, config)

	a.reserve()
	shared.recordSent(1)
	shared.readNotify.signal()

	runDone := make(chan error, 1)
	go func() { runDone <- rt.run() }()

	pw.Close()

	select {
	case err := <-runDone:
		if err == nil {
			t.Fatal("run() should fail when the stream ends with a response outstanding")
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("got %v, want an unexpected-eof error", err)
		}
	case <-time.After(time.Second):
		t.Fatal("read task did not exit after the stream closed")
	}
}

// TestReadTaskExitsWhenConnectionMarkedClosed: the flush task's fatal
// paths mark the connection closed and signal the read task; a wakeup in
// that state must exit instead of swallowing another packet budget.
func TestReadTaskExitsWhenConnectionMarkedClosed(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()
	defer pw.Close()

	shared := newSharedState()
	a := newArena()
	config := DefaultConfig()
	rt := newReadTask(pr, a, shared, config)

	shared.markConnClosed()
	shared.readNotify.signal()

	runDone := make(chan error, 1)
	go func() { runDone <- rt.run() }()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("run() returned an error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("read task did not exit after the connection was marked closed")
	}
}
