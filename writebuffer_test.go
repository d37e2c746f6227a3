package lowlevel

import (
	"bytes"
	"testing"
)

func TestWriteBufferDrainReturnsPushedChunksInOrder(t *testing.T) {
	wb := newWriteBuffer()

	g := wb.beginPush()
	g.push([]byte("a"))
	g.push([]byte("b"))
	g.finish(false)

	g2 := wb.beginPush()
	g2.push([]byte("c"))
	g2.finish(false)

	drained, _, groups := wb.drain(nil)
	if groups != 2 {
		t.Fatalf("groups = %d, want 2", groups)
	}
	var got []byte
	for _, c := range drained {
		got = append(got, c...)
	}
	if !bytes.Equal(got, []byte("abc")) {
		t.Fatalf("drained = %q, want %q", got, "abc")
	}
}

func TestWriteBufferDrainSwapsInBackupSlice(t *testing.T) {
	wb := newWriteBuffer()

	g := wb.beginPush()
	g.push([]byte("x"))
	g.finish(false)

	backup := make([][]byte, 0, 8)
	_, remaining, _ := wb.drain(backup)
	if cap(remaining) != cap(backup) {
		t.Fatal("drain should reuse the caller's backup slice as the new live queue")
	}
	if !wb.isEmpty() {
		t.Fatal("queue should be empty immediately after a drain with no concurrent pushes")
	}
}

func TestWriteBufferFinishImmediateSignalsNotifier(t *testing.T) {
	wb := newWriteBuffer()

	g := wb.beginPush()
	g.push([]byte("x"))
	g.finish(true)

	select {
	case <-wb.notify.channel():
	default:
		t.Fatal("finish(true) should have signalled the notifier")
	}
}

func TestWriteBufferFinishNonImmediateDoesNotSignal(t *testing.T) {
	wb := newWriteBuffer()

	g := wb.beginPush()
	g.push([]byte("x"))
	g.finish(false)

	select {
	case <-wb.notify.channel():
		t.Fatal("finish(false) should not have signalled the notifier")
	default:
	}
}

func TestNotifierCoalescesMultipleSignals(t *testing.T) {
	n := newNotifier()
	n.signal()
	n.signal()
	n.signal()

	select {
	case <-n.channel():
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-n.channel():
		t.Fatal("signals should have coalesced into a single wakeup")
	default:
	}
}
