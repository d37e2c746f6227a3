package lowlevel

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/nyngwang/sftp-lowlevel/protocol"
)

func testConfig() *Config {
	c := DefaultConfig()
	c.FlushInterval = 2 * time.Millisecond
	c.HelloTimeout = 2 * time.Second
	return c
}

// TestHelloVersionMismatchIsUnsupportedProtocolError covers scenario S1: a
// server that answers the hello with a protocol version the client does
// not speak must fail Connect with ErrKindUnsupportedProtocol naming the
// server's version, not silently proceed.
func TestHelloVersionMismatchIsUnsupportedProtocolError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		fs := newFakeServer(server)
		if _, err := fs.readHello(); err != nil {
			return
		}
		fs.writeVersion(4) //nolint:errcheck
	}()

	_, _, err := Connect(context.Background(), client, testConfig())
	if err == nil {
		t.Fatal("expected an error for a mismatched protocol version")
	}
	var sftpErr *Error
	if !errors.As(err, &sftpErr) || sftpErr.Kind != ErrKindUnsupportedProtocol {
		t.Fatalf("got %v, want ErrKindUnsupportedProtocol", err)
	}
	if sftpErr.Version != 4 {
		t.Fatalf("Version = %d, want 4", sftpErr.Version)
	}
}

// TestSingleOpenRoundTrip covers scenario S2: a single request sent and
// answered carries its payload back to the exact caller that sent it.
func TestSingleOpenRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverReady := make(chan struct{})
	go func() {
		fs := newFakeServer(server)
		fs.readHello()                               //nolint:errcheck
		fs.writeVersion(protocol.SSH2FilexferVersion) //nolint:errcheck
		close(serverReady)

		_, id, _, err := fs.readRequest()
		if err != nil {
			return
		}
		fs.writeHandle(id, "handle-1") //nolint:errcheck
	}()

	we, conn, err := Connect(context.Background(), client, testConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-serverReady

	aw, err := we.Open("/tmp/foo", protocol.FxfRead, protocol.FileAttrs{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	resp, err := aw.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(resp.Handle) != "handle-1" {
		t.Fatalf("handle = %q, want %q", resp.Handle, "handle-1")
	}

	we.Close()
	server.Close()
	if err := conn.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

// TestOutOfOrderResponsesReachTheCorrectCaller covers scenario S3: two
// concurrent requests whose responses arrive in the opposite order from
// how they were sent must still each resolve the awaitable that actually
// sent the matching request id.
func TestOutOfOrderResponsesReachTheCorrectCaller(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cfg := testConfig()
	cfg.MaxPendingRequests = 1

	serverReady := make(chan struct{})
	go func() {
		fs := newFakeServer(server)
		fs.readHello()                               //nolint:errcheck
		fs.writeVersion(protocol.SSH2FilexferVersion) //nolint:errcheck
		close(serverReady)

		_, id1, _, err := fs.readRequest()
		if err != nil {
			return
		}
		_, id2, _, err := fs.readRequest()
		if err != nil {
			return
		}
		// Answer the second request first.
		fs.writeHandle(id2, "second") //nolint:errcheck
		fs.writeHandle(id1, "first")  //nolint:errcheck
	}()

	we, conn, err := Connect(context.Background(), client, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-serverReady

	aw1, err := we.Open("/a", protocol.FxfRead, protocol.FileAttrs{})
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	aw2, err := we.Open("/b", protocol.FxfRead, protocol.FileAttrs{})
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}

	resp1, err := aw1.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait 1: %v", err)
	}
	resp2, err := aw2.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait 2: %v", err)
	}
	if string(resp1.Handle) != "first" {
		t.Fatalf("first awaitable got handle %q, want %q", resp1.Handle, "first")
	}
	if string(resp2.Handle) != "second" {
		t.Fatalf("second awaitable got handle %q, want %q", resp2.Handle, "second")
	}

	we.Close()
	server.Close()
	conn.Wait() //nolint:errcheck
}

// TestGracefulShutdownWaitsForAllPendingResponses covers scenario S6: once
// the last WriteEnd is closed while requests are still outstanding, the
// engine must wait for every one of them to be answered before tearing
// down -- none of them may resolve with ErrAwaitableReleased just because
// the producer side went away first.
func TestGracefulShutdownWaitsForAllPendingResponses(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cfg := testConfig()
	cfg.MaxPendingRequests = 1

	serverReady := make(chan struct{})
	requests := make(chan uint32, 2)
	go func() {
		fs := newFakeServer(server)
		fs.readHello()                               //nolint:errcheck
		fs.writeVersion(protocol.SSH2FilexferVersion) //nolint:errcheck
		close(serverReady)

		for i := 0; i < 2; i++ {
			_, id, _, err := fs.readRequest()
			if err != nil {
				return
			}
			requests <- id
		}
		id1 := <-requests
		id2 := <-requests
		fs.writeHandle(id1, "h1") //nolint:errcheck
		fs.writeHandle(id2, "h2") //nolint:errcheck
	}()

	we, conn, err := Connect(context.Background(), client, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-serverReady

	aw1, err := we.Open("/a", protocol.FxfRead, protocol.FileAttrs{})
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	aw2, err := we.Open("/b", protocol.FxfRead, protocol.FileAttrs{})
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}

	// Drop the last producer reference while both requests are still
	// outstanding: the connection must not abandon them.
	we.Close()

	resp1, err1 := aw1.Wait(context.Background())
	resp2, err2 := aw2.Wait(context.Background())
	if err1 != nil {
		t.Fatalf("awaitable 1 resolved with an error during graceful shutdown: %v", err1)
	}
	if err2 != nil {
		t.Fatalf("awaitable 2 resolved with an error during graceful shutdown: %v", err2)
	}
	if errors.Is(err1, ErrAwaitableReleased) || errors.Is(err2, ErrAwaitableReleased) {
		t.Fatal("no awaitable should resolve with ErrAwaitableReleased during a graceful shutdown")
	}
	if string(resp1.Handle) != "h1" || string(resp2.Handle) != "h2" {
		t.Fatalf("got handles %q, %q", resp1.Handle, resp2.Handle)
	}

	if err := conn.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

// TestHelloLengthBoundary: a server version payload of exactly MaxHelloLen
// bytes is accepted; one byte more is rejected as a too-long hello before
// any of it is parsed.
func TestHelloLengthBoundary(t *testing.T) {
	run := func(payloadLen int) error {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		go func() {
			fs := newFakeServer(server)
			if _, err := fs.readHello(); err != nil {
				return
			}
			body := make([]byte, payloadLen)
			binary.BigEndian.PutUint32(body[0:4], protocol.SSH2FilexferVersion)
			server.Write(frameNoID(protocol.SSHFXPVersion, body)) //nolint:errcheck
		}()

		we, conn, err := Connect(context.Background(), client, testConfig())
		if err == nil {
			we.Close()
			conn.Wait() //nolint:errcheck
		}
		return err
	}

	if err := run(4096); err != nil {
		t.Fatalf("a %d-byte hello payload should be accepted, got %v", 4096, err)
	}

	err := run(4097)
	var sftpErr *Error
	if !errors.As(err, &sftpErr) || sftpErr.Kind != ErrKindHelloTooLong {
		t.Fatalf("got %v, want ErrKindHelloTooLong for a 4097-byte hello payload", err)
	}
}
