package lowlevel

import (
	"context"
	"io"
	"time"

	"github.com/go-kit/log/level"

	N "github.com/sagernet/sing/common/network"
)

// flushTask is the single background goroutine owning the write half of
// the connection. It wakes on either a push-notify signal or its
// periodic tick, drains the write buffer, and writes the result out,
// generalizing tasks.rs's flush future the same way smux's sendLoop
// drains its shaper heap on every iteration of its select loop.
type flushTask struct {
	w      io.Writer
	vw     N.VectorisedWriter
	wbuf   *writeBuffer
	shared *sharedState
	arena  *arena
	config *Config

	backup [][]byte
}

func newFlushTask(w io.Writer, wbuf *writeBuffer, shared *sharedState, a *arena, config *Config) *flushTask {
	return &flushTask{
		w:      w,
		vw:     newVectorisedWriter(w),
		wbuf:   wbuf,
		shared: shared,
		arena:  a,
		config: config,
		backup: make([][]byte, 0, config.WriteEndBufferSize),
	}
}

// run drives the flush loop until the read task has advanced the shutdown
// stage to shutdownAllResponsesRead (normal exit, nothing abandoned), ctx
// is cancelled (Connection.Close or a read-task failure), or a write fails
// (fatal; the connection is unusable past that point). On ctx cancellation
// it makes one last best-effort drain and then abandons every slot still
// pending; a write failure abandons them too, so no caller blocks forever.
func (ft *flushTask) run(ctx context.Context, cause context.CancelCauseFunc) error {
	logger := ft.config.logger()
	ticker := time.NewTicker(ft.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ft.drainOnce() //nolint:errcheck
			ft.shared.markConnClosed()
			ft.arena.abandonAll()
			ft.shared.readNotify.signal()
			return nil
		case <-ft.wbuf.notify.channel():
		case <-ft.shared.shutdownNotify.channel():
		case <-ticker.C:
		}

		// Wake the read task before draining: any response the server
		// sends can only follow a request this drain puts on the wire.
		ft.shared.readNotify.signal()

		if err := ft.drainOnce(); err != nil {
			level.Error(logger).Log("msg", "flush task failed", "err", err)
			ft.shared.markConnClosed()
			ft.arena.abandonAll()
			ft.shared.readNotify.signal()
			cause(err)
			return err
		}

		// Stage 2 is only set by the read task once every response has
		// been delivered (arena.hasPending() == false); a normal exit here
		// never needs to abandon anything, unlike the ctx.Done() and
		// write-failure paths above.
		if ft.shared.currentStage() == shutdownAllResponsesRead {
			return nil
		}
	}
}

func (ft *flushTask) drainOnce() error {
	drained, _, groups := ft.wbuf.drain(ft.backup)
	ft.backup = drained[:0]
	if groups > 0 {
		ft.shared.recordDrained(groups)
	}
	if len(drained) == 0 {
		return nil
	}
	ft.shared.writeMu.Lock()
	err := flushChunks(ft.w, ft.vw, drained)
	ft.shared.writeMu.Unlock()
	return wrapIOErrorIfAny(err)
}

func wrapIOErrorIfAny(err error) error {
	if err == nil {
		return nil
	}
	return wrapIOError(err, "flushing write buffer")
}
