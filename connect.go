package lowlevel

import (
	"context"
	"fmt"
	"io"

	"github.com/go-kit/log/level"

	"github.com/nyngwang/sftp-lowlevel/protocol"
)

// Connection owns the background flush and read tasks for one SFTP wire
// connection. Callers obtain a WriteEnd from it to issue requests and
// call Close to shut down. The context passed to Connect bounds only the
// hello handshake; cancelling it afterwards does not stop the tasks.
type Connection struct {
	shared *sharedState
	arena  *arena
	wbuf   *writeBuffer
	rw     io.ReadWriter
	cancel context.CancelCauseFunc

	flushDone chan error
	readDone  chan error
}

// Connect performs the SSH_FXP_INIT/SSH_FXP_VERSION handshake over rw and,
// once the server's version is accepted, starts the flush and read
// background tasks and returns the WriteEnd callers use to issue
// requests, generalizing connection.rs's negotiate()-then-spawn sequence.
func Connect(ctx context.Context, rw io.ReadWriter, config *Config) (*WriteEnd, *Connection, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, nil, err
	}

	ext, err := helloHandshake(ctx, rw, config)
	if err != nil {
		return nil, nil, err
	}

	shared := newSharedState()
	shared.w = rw
	shared.vw = newVectorisedWriter(rw)
	a := newArena()
	wbuf := newWriteBuffer()

	taskCtx, cancel := context.WithCancelCause(context.Background())

	ft := newFlushTask(rw, wbuf, shared, a, config)
	rt := newReadTask(rw, a, shared, config)

	conn := &Connection{
		shared:    shared,
		arena:     a,
		wbuf:      wbuf,
		rw:        rw,
		cancel:    cancel,
		flushDone: make(chan error, 1),
		readDone:  make(chan error, 1),
	}

	go func() {
		conn.flushDone <- ft.run(taskCtx, cancel)
	}()
	go func() {
		err := rt.run()
		if err != nil {
			// The read half is dead: no outstanding awaitable can ever
			// be answered, so resolve them all and take the flush task
			// down with us.
			shared.markConnClosed()
			a.abandonAll()
			cancel(err)
		}
		conn.readDone <- err
	}()

	we := newWriteEnd(shared, a, wbuf, config, ext)
	return we, conn, nil
}

// Wait blocks until both background tasks have exited, returning the
// first error either of them observed, if any.
func (c *Connection) Wait() error {
	flushErr := <-c.flushDone
	readErr := <-c.readDone
	if flushErr != nil {
		return flushErr
	}
	return readErr
}

// Close cancels both background tasks immediately, without waiting for
// the write buffer to drain. If the underlying stream is closable it is
// closed too, the way smux's Session.Close closes its conn, so a read
// task blocked mid-packet unblocks rather than waiting on a server that
// will never speak again.
func (c *Connection) Close() {
	c.cancel(ErrAwaitableReleased)
	c.shared.markConnClosed()
	c.shared.readNotify.signal()
	if closer, ok := c.rw.(io.Closer); ok {
		closer.Close() //nolint:errcheck
	}
}

// helloHandshake sends SSH_FXP_INIT and waits for the server's
// SSH_FXP_VERSION reply, enforcing config.HelloTimeout and
// config.MaxHelloLen, the way connection.rs's receive_server_version
// bounds both the wait and the payload size before trusting anything the
// server claims to support.
func helloHandshake(ctx context.Context, rw io.ReadWriter, config *Config) (protocol.Extensions, error) {
	logger := config.logger()
	enc := protocol.NewEncoder()
	hello := protocol.EncodeHello(enc, config.ProtocolVersion)
	if _, err := rw.Write(hello); err != nil {
		return protocol.Extensions{}, wrapIOError(err, "sending hello")
	}

	if config.HelloTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.HelloTimeout)
		defer cancel()
	}

	type result struct {
		sv  protocol.ServerVersion
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		sv, err := readServerVersion(rw, config.MaxHelloLen)
		resultCh <- result{sv: sv, err: err}
	}()

	select {
	case <-ctx.Done():
		return protocol.Extensions{}, newError(ErrKindIO, ctx.Err())
	case r := <-resultCh:
		if r.err != nil {
			return protocol.Extensions{}, r.err
		}
		if r.sv.Version != config.ProtocolVersion {
			return protocol.Extensions{}, &Error{Kind: ErrKindUnsupportedProtocol, Version: r.sv.Version}
		}
		level.Info(logger).Log("msg", "sftp hello complete", "version", r.sv.Version)
		return r.sv.Extensions, nil
	}
}

func readServerVersion(rw io.ReadWriter, maxLen uint32) (protocol.ServerVersion, error) {
	buf := newReadBuffer(rw, 4096)
	var lenAndType [5]byte
	if err := buf.readExactInto(lenAndType[:]); err != nil {
		return protocol.ServerVersion{}, wrapIOError(err, "reading hello length")
	}
	bodyLen := be32(lenAndType[0:4])
	if bodyLen < 1 {
		return protocol.ServerVersion{}, wrapFormatError(fmt.Errorf("hello body too short"), "hello")
	}
	if uint32(bodyLen)-1 > maxLen {
		return protocol.ServerVersion{}, newError(ErrKindHelloTooLong, fmt.Errorf("hello body length %d exceeds max %d", bodyLen-1, maxLen))
	}
	if lenAndType[4] != protocol.SSHFXPVersion {
		return protocol.ServerVersion{}, wrapFormatError(fmt.Errorf("expected SSH_FXP_VERSION, got type %d", lenAndType[4]), "hello")
	}
	body := make([]byte, bodyLen-1)
	if err := buf.readExactInto(body); err != nil {
		return protocol.ServerVersion{}, wrapIOError(err, "reading hello body")
	}
	sv, err := protocol.ParseServerVersion(body)
	if err != nil {
		return protocol.ServerVersion{}, wrapFormatError(err, "decoding hello body")
	}
	return sv, nil
}

func be32(b []byte) int {
	return int(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}
