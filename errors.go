package lowlevel

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nyngwang/sftp-lowlevel/protocol"
)

// ErrorKind classifies the terminal and per-request failures the engine
// can produce: spec.md §7's eight error kinds, with the hello-too-long
// case given its own kind, nine in all.
type ErrorKind int

const (
	// ErrKindUnsupportedProtocol: the server's SSH_FXP_VERSION reply
	// named a protocol version the engine does not speak.
	ErrKindUnsupportedProtocol ErrorKind = iota
	// ErrKindHelloTooLong: the server's hello payload length exceeded
	// Config.MaxHelloLen before any of it was trusted or parsed.
	ErrKindHelloTooLong
	// ErrKindIO: the underlying stream returned an error (including the
	// write-zero sentinel and unexpected EOF).
	ErrKindIO
	// ErrKindFormat: encoding or decoding a frame failed.
	ErrKindFormat
	// ErrKindBufferTooLong: an outbound payload exceeds the 32-bit wire
	// length field.
	ErrKindBufferTooLong
	// ErrKindInvalidResponseID: no matching slot in the arena.
	ErrKindInvalidResponseID
	// ErrKindWriteTooLargeToBeAtomic: a direct-atomic write's aggregate
	// exceeds the platform's atomic-write ceiling.
	ErrKindWriteTooLargeToBeAtomic
	// ErrKindRecursive: consuming the bytes of an already-failed packet
	// itself failed.
	ErrKindRecursive
	// ErrKindAwaitable: a waiter was released without a response because
	// the connection died.
	ErrKindAwaitable
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindUnsupportedProtocol:
		return "unsupported protocol"
	case ErrKindHelloTooLong:
		return "server hello message too long"
	case ErrKindIO:
		return "io error"
	case ErrKindFormat:
		return "format error"
	case ErrKindBufferTooLong:
		return "buffer too long"
	case ErrKindInvalidResponseID:
		return "invalid response id"
	case ErrKindWriteTooLargeToBeAtomic:
		return "write too large to be atomic"
	case ErrKindRecursive:
		return "recursive errors"
	case ErrKindAwaitable:
		return "awaitable error"
	default:
		return "unknown error"
	}
}

// Error is the engine's single error type. Cause carries the underlying
// error (an io.Error, a protocol decode error, ...) wrapped with
// github.com/pkg/errors, so formatting Cause (not the *Error itself, which
// has no Format method) with %+v prints a stack trace from the point it
// was first wrapped, the same way xtaci/kcptun's client/server main
// packages report failures.
type Error struct {
	Kind    ErrorKind
	Version uint32 // populated only for ErrKindUnsupportedProtocol
	Cause   error
}

func (e *Error) Error() string {
	if e.Kind == ErrKindUnsupportedProtocol {
		return fmt.Sprintf("sftp: server speaks unsupported protocol version %d", e.Version)
	}
	if e.Cause != nil {
		return fmt.Sprintf("sftp: %s: %s", e.Kind, e.Cause)
	}
	return fmt.Sprintf("sftp: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// RecursiveError preserves both the original failure and the secondary
// failure that happened while trying to recover from it (consuming an
// invalid packet's remaining bytes), ported from
// Error::RecursiveErrors(Box<(Error, Error)>) in the original crate.
type RecursiveError struct {
	First, Second error
}

func (e *RecursiveError) Error() string {
	return fmt.Sprintf("sftp: recursive errors: %s (while recovering from: %s)", e.Second, e.First)
}

func (e *RecursiveError) Unwrap() []error { return []error{e.First, e.Second} }

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func wrapIOError(err error, context string) *Error {
	if err == nil {
		return nil
	}
	return newError(ErrKindIO, errors.Wrap(err, context))
}

func wrapFormatError(err error, context string) *Error {
	if err == nil {
		return nil
	}
	return newError(ErrKindFormat, errors.Wrap(err, context))
}

// ErrBufferTooLong is returned (wrapped in *Error) when a request's
// payload cannot fit the 32-bit wire length field.
var ErrBufferTooLong = errors.New("sftp protocol can only send at most 4GiB in one request")

// ErrInvalidResponseID is returned (wrapped in *Error) when a response
// names a request id with no live slot in the arena.
var ErrInvalidResponseID = errors.New("the response id is invalid")

// ErrWriteTooLargeToBeAtomic is returned when a direct-atomic write's
// aggregate length exceeds the platform's atomic write ceiling.
var ErrWriteTooLargeToBeAtomic = errors.New("write is too large to be written atomically")

// ErrAwaitableReleased is returned to a caller whose awaitable was
// released without ever receiving a response, because the connection
// died.
var ErrAwaitableReleased = errors.New("awaitable was released without a response: connection closed")

// IsInvalidResponseID reports whether err (or any error it wraps) is an
// InvalidResponseID failure -- the one kind the read task can recover
// from without killing the whole session.
func IsInvalidResponseID(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == ErrKindInvalidResponseID
	}
	return false
}

// errWrongReplyShape is wrapped into an *Error when the server answered a
// request with a header shape the decoder correctly parsed but that the
// operation which sent the request cannot have produced (a bug on the
// server's side, not a wire-format violation).
var errWrongReplyShape = errors.New("server replied with the wrong response shape for this request")

// StatusError wraps an SSH_FXP_STATUS reply that the server sent in place
// of the shape a caller actually asked for (e.g. open failing with
// SSH_FX_NO_SUCH_FILE instead of returning a handle). Kept distinct from
// *Error since it is an expected, per-request outcome rather than an
// engine or protocol failure.
type StatusError struct {
	Status protocol.StatusResponse
}

func (e *StatusError) Error() string {
	if e.Status.Message != "" {
		return fmt.Sprintf("sftp: status %d: %s", e.Status.Code, e.Status.Message)
	}
	return fmt.Sprintf("sftp: status %d", e.Status.Code)
}
