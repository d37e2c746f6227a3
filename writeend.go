package lowlevel

import (
	"errors"
	"math"
	"sync"

	"github.com/nyngwang/sftp-lowlevel/protocol"
)

// WriteEnd is the producer-side handle callers use to issue requests. Any
// number of goroutines may hold a WriteEnd concurrently (via Clone); each
// send_* method reserves one arena slot, encodes the request, and pushes
// it onto the shared write buffer, returning an Awaitable the caller
// drives at its own pace -- the same shape write_end.rs's
// send_*_request methods have, generalized from a single-owner Rust
// value into a Go value that is safe to share because every field it
// touches is itself safe for concurrent use.
type WriteEnd struct {
	shared *sharedState
	arena  *arena
	wbuf   *writeBuffer
	config *Config
	ext    protocol.Extensions

	encPool sync.Pool
}

func newWriteEnd(shared *sharedState, a *arena, wbuf *writeBuffer, config *Config, ext protocol.Extensions) *WriteEnd {
	we := &WriteEnd{shared: shared, arena: a, wbuf: wbuf, config: config, ext: ext}
	we.encPool.New = func() interface{} { return protocol.NewEncoder() }
	return we
}

// Clone returns a second handle sharing the same underlying connection,
// incrementing the live-producer refcount so the flush task knows not to
// treat the connection as drained until every clone is also closed.
func (we *WriteEnd) Clone() *WriteEnd {
	we.shared.addWriteEndRef()
	return newWriteEnd(we.shared, we.arena, we.wbuf, we.config, we.ext)
}

// Close releases this handle's producer reference. It must be called
// exactly once per WriteEnd obtained from Connect or Clone.
func (we *WriteEnd) Close() {
	we.shared.releaseWriteEndRef()
}

// Extensions reports the capability set captured during the hello
// handshake.
func (we *WriteEnd) Extensions() protocol.Extensions {
	return we.ext
}

func (we *WriteEnd) encoder() *protocol.Encoder {
	return we.encPool.Get().(*protocol.Encoder)
}

func (we *WriteEnd) putEncoder(e *protocol.Encoder) {
	we.encPool.Put(e)
}

// reserveAndAwait allocates an arena slot and returns the Awaitable the
// caller will Wait on, deliberately inserting into the arena before the
// request is pushed so the happens-before edge spec.md §9 requires (slot
// insertion precedes the requestsSent bump that makes the id observable
// to a racing response) always holds.
func (we *WriteEnd) reserveAndAwait() (SlotID, *Awaitable) {
	id := we.arena.reserve()
	return id, newAwaitable(we.arena, id)
}

// pushEncoded pushes a single already-framed chunk and records the send,
// notifying the flush task immediately once MaxPendingRequests is
// crossed rather than waiting for its next periodic tick.
func (we *WriteEnd) pushEncoded(chunk []byte) {
	g := we.wbuf.beginPush()
	g.push(chunk)
	we.shared.recordSent(1)
	immediate := we.shared.pendingRequests.Load() >= int64(we.config.MaxPendingRequests)
	g.finish(immediate)
}

// pushEncodedChunks pushes a multi-chunk request (header plus a raw data
// slice that must not be copied, for a zero-copy write) as one
// contiguous, uninterleaved run.
func (we *WriteEnd) pushEncodedChunks(chunks ...[]byte) {
	g := we.wbuf.beginPush()
	for _, c := range chunks {
		g.push(c)
	}
	we.shared.recordSent(1)
	immediate := we.shared.pendingRequests.Load() >= int64(we.config.MaxPendingRequests)
	g.finish(immediate)
}

// encodeFailure classifies an encoding error: a payload that cannot fit
// the 32-bit wire length field is a distinct kind from a genuinely
// malformed frame, per spec.md §7.
func encodeFailure(err error) *Error {
	if errors.Is(err, ErrBufferTooLong) || errors.Is(err, protocol.ErrPayloadTooLarge) {
		return newError(ErrKindBufferTooLong, err)
	}
	return newError(ErrKindFormat, err)
}

func (we *WriteEnd) encodeAndPush(encode func(*protocol.Encoder, uint32) ([]byte, error)) (*Awaitable, error) {
	id, aw := we.reserveAndAwait()
	e := we.encoder()
	defer we.putEncoder(e)
	buf, err := encode(e, uint32(id))
	if err != nil {
		we.arena.discard(id)
		return nil, encodeFailure(err)
	}
	we.pushEncoded(buf)
	return aw, nil
}

// Open sends SSH_FXP_OPEN.
func (we *WriteEnd) Open(path string, pflags uint32, attrs protocol.FileAttrs) (AwaitableHandle, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeOpen(e, id, path, pflags, attrs)
	})
	if err != nil {
		return AwaitableHandle{}, err
	}
	return AwaitableHandle{inner: aw}, nil
}

// CloseHandle sends SSH_FXP_CLOSE for handle.
func (we *WriteEnd) CloseHandle(handle protocol.Handle) (AwaitableStatus, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeClose(e, id, handle)
	})
	if err != nil {
		return AwaitableStatus{}, err
	}
	return AwaitableStatus{inner: aw}, nil
}

// Read sends SSH_FXP_READ. dst receives the bulk data once the read task
// delivers the reply; it must stay valid until the returned Awaitable's
// Wait returns.
func (we *WriteEnd) Read(handle protocol.Handle, offset uint64, length uint32, dst UserBuffer) (AwaitableData, error) {
	id, aw := we.reserveAndAwait()
	e := we.encoder()
	buf, err := protocol.EncodeRead(e, uint32(id), handle, offset, length)
	we.putEncoder(e)
	if err != nil {
		we.arena.discard(id)
		return AwaitableData{}, encodeFailure(err)
	}
	we.arena.setPendingDestination(id, dst)
	we.pushEncoded(buf)
	return AwaitableData{inner: aw}, nil
}

// writeRequestCeiling is the largest aggregate (header+data) length Write
// will attempt to send as a single copied chunk before preferring the
// zero-copy path; it is also the direct-atomic variants' atomicity ceiling.
const writeRequestCeiling = atomicWriteCeiling

func (we *WriteEnd) encodeWriteHeader(id SlotID, handle protocol.Handle, offset uint64, length int) ([]byte, error) {
	if uint64(length) > math.MaxUint32 {
		return nil, ErrBufferTooLong
	}
	e := we.encoder()
	header, err := e.EncodeWriteHeader(uint32(id), handle, offset, uint32(length))
	we.putEncoder(e)
	return header, err
}

// WriteBuffered sends SSH_FXP_WRITE by copying the header and data into one
// contiguous chunk in the write buffer: the `write_buffered` variant from
// write_end.rs's send_write_request family, for small single-slice payloads
// where a copy is cheaper than an extra vectored-write descriptor.
func (we *WriteEnd) WriteBuffered(handle protocol.Handle, offset uint64, data []byte) (AwaitableStatus, error) {
	id, aw := we.reserveAndAwait()
	header, err := we.encodeWriteHeader(id, handle, offset, len(data))
	if err != nil {
		we.arena.discard(id)
		return AwaitableStatus{}, encodeFailure(err)
	}
	combined := make([]byte, 0, len(header)+len(data))
	combined = append(combined, header...)
	combined = append(combined, data...)
	we.pushEncoded(combined)
	return AwaitableStatus{inner: aw}, nil
}

// WriteBufferedVectored is write_buffered's scatter/gather counterpart: the
// header and every slice in data are copied into one contiguous buffered
// chunk, so many small fragments still reach the wire as a single write.
func (we *WriteEnd) WriteBufferedVectored(handle protocol.Handle, offset uint64, data [][]byte) (AwaitableStatus, error) {
	total := 0
	for _, d := range data {
		total += len(d)
	}
	id, aw := we.reserveAndAwait()
	header, err := we.encodeWriteHeader(id, handle, offset, total)
	if err != nil {
		we.arena.discard(id)
		return AwaitableStatus{}, encodeFailure(err)
	}
	combined := make([]byte, 0, len(header)+total)
	combined = append(combined, header...)
	for _, d := range data {
		combined = append(combined, d...)
	}
	we.pushEncoded(combined)
	return AwaitableStatus{inner: aw}, nil
}

// WriteZeroCopy sends SSH_FXP_WRITE by pushing the header and a reference
// to data as two chunks in the same push-guard group, avoiding the copy
// WriteBuffered takes; correct for large, already reference-counted
// payloads the caller won't mutate before the flush task observes them.
func (we *WriteEnd) WriteZeroCopy(handle protocol.Handle, offset uint64, data []byte) (AwaitableStatus, error) {
	id, aw := we.reserveAndAwait()
	header, err := we.encodeWriteHeader(id, handle, offset, len(data))
	if err != nil {
		we.arena.discard(id)
		return AwaitableStatus{}, encodeFailure(err)
	}
	we.pushEncodedChunks(header, data)
	return AwaitableStatus{inner: aw}, nil
}

// WriteDirectAtomic bypasses the write buffer entirely: the header and data
// are written synchronously in one write (vectored when the underlying
// writer supports it, otherwise one copied buffer), serialized against the
// flush task's drain by the shared write mutex so no other producer's or
// the flush task's bytes can land interleaved with this one. It fails with
// ErrKindWriteTooLargeToBeAtomic before attempting anything if the
// aggregate exceeds the platform's atomic-write ceiling, mirroring
// write_end.rs's send_write_request_direct_atomic.
func (we *WriteEnd) WriteDirectAtomic(handle protocol.Handle, offset uint64, data []byte) (AwaitableStatus, error) {
	id, aw := we.reserveAndAwait()
	header, err := we.encodeWriteHeader(id, handle, offset, len(data))
	if err != nil {
		we.arena.discard(id)
		return AwaitableStatus{}, encodeFailure(err)
	}
	if len(header)+len(data) > atomicWriteCeiling {
		we.arena.discard(id)
		return AwaitableStatus{}, newError(ErrKindWriteTooLargeToBeAtomic, ErrWriteTooLargeToBeAtomic)
	}

	we.shared.writeMu.Lock()
	err = flushChunks(we.shared.w, we.shared.vw, [][]byte{header, data})
	we.shared.writeMu.Unlock()
	if err != nil {
		we.arena.discard(id)
		return AwaitableStatus{}, wrapIOError(err, "direct atomic write")
	}
	we.shared.recordSentDirect(1)
	we.shared.readNotify.signal()
	return AwaitableStatus{inner: aw}, nil
}

// WriteDirectAtomicVectored is WriteDirectAtomic's scatter/gather
// counterpart: the header and every slice in data hit the wire in the
// same single vectored write, without being copied into one contiguous
// chunk first.
func (we *WriteEnd) WriteDirectAtomicVectored(handle protocol.Handle, offset uint64, data [][]byte) (AwaitableStatus, error) {
	total := 0
	for _, d := range data {
		total += len(d)
	}
	id, aw := we.reserveAndAwait()
	header, err := we.encodeWriteHeader(id, handle, offset, total)
	if err != nil {
		we.arena.discard(id)
		return AwaitableStatus{}, encodeFailure(err)
	}
	if len(header)+total > atomicWriteCeiling {
		we.arena.discard(id)
		return AwaitableStatus{}, newError(ErrKindWriteTooLargeToBeAtomic, ErrWriteTooLargeToBeAtomic)
	}

	chunks := make([][]byte, 0, len(data)+1)
	chunks = append(chunks, header)
	chunks = append(chunks, data...)
	we.shared.writeMu.Lock()
	err = flushChunks(we.shared.w, we.shared.vw, chunks)
	we.shared.writeMu.Unlock()
	if err != nil {
		we.arena.discard(id)
		return AwaitableStatus{}, wrapIOError(err, "direct atomic vectored write")
	}
	we.shared.recordSentDirect(1)
	we.shared.readNotify.signal()
	return AwaitableStatus{inner: aw}, nil
}

// Write is the general-purpose entry point for SSH_FXP_WRITE: it copies
// header and data into one buffered chunk when the aggregate fits under
// writeRequestCeiling, and falls back to WriteZeroCopy's two-chunk push
// otherwise, so callers who don't care which variant fires get a
// reasonable default without picking one themselves.
func (we *WriteEnd) Write(handle protocol.Handle, offset uint64, data []byte) (AwaitableStatus, error) {
	id, aw := we.reserveAndAwait()
	header, err := we.encodeWriteHeader(id, handle, offset, len(data))
	if err != nil {
		we.arena.discard(id)
		return AwaitableStatus{}, encodeFailure(err)
	}

	if len(header)+len(data) <= writeRequestCeiling {
		combined := make([]byte, 0, len(header)+len(data))
		combined = append(combined, header...)
		combined = append(combined, data...)
		we.pushEncoded(combined)
	} else {
		we.pushEncodedChunks(header, data)
	}
	return AwaitableStatus{inner: aw}, nil
}

// Remove sends SSH_FXP_REMOVE.
func (we *WriteEnd) Remove(path string) (AwaitableStatus, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeRemove(e, id, path)
	})
	if err != nil {
		return AwaitableStatus{}, err
	}
	return AwaitableStatus{inner: aw}, nil
}

// Rename sends SSH_FXP_RENAME.
func (we *WriteEnd) Rename(oldPath, newPath string) (AwaitableStatus, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeRename(e, id, oldPath, newPath)
	})
	if err != nil {
		return AwaitableStatus{}, err
	}
	return AwaitableStatus{inner: aw}, nil
}

// Mkdir sends SSH_FXP_MKDIR.
func (we *WriteEnd) Mkdir(path string, attrs protocol.FileAttrs) (AwaitableStatus, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeMkdir(e, id, path, attrs)
	})
	if err != nil {
		return AwaitableStatus{}, err
	}
	return AwaitableStatus{inner: aw}, nil
}

// Rmdir sends SSH_FXP_RMDIR.
func (we *WriteEnd) Rmdir(path string) (AwaitableStatus, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeRmdir(e, id, path)
	})
	if err != nil {
		return AwaitableStatus{}, err
	}
	return AwaitableStatus{inner: aw}, nil
}

// Opendir sends SSH_FXP_OPENDIR.
func (we *WriteEnd) Opendir(path string) (AwaitableHandle, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeOpendir(e, id, path)
	})
	if err != nil {
		return AwaitableHandle{}, err
	}
	return AwaitableHandle{inner: aw}, nil
}

// Readdir sends SSH_FXP_READDIR.
func (we *WriteEnd) Readdir(handle protocol.Handle) (AwaitableNameEntries, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeReaddir(e, id, handle)
	})
	if err != nil {
		return AwaitableNameEntries{}, err
	}
	return AwaitableNameEntries{inner: aw}, nil
}

// Stat sends SSH_FXP_STAT.
func (we *WriteEnd) Stat(path string) (AwaitableAttrs, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeStat(e, id, path)
	})
	if err != nil {
		return AwaitableAttrs{}, err
	}
	return AwaitableAttrs{inner: aw}, nil
}

// Lstat sends SSH_FXP_LSTAT.
func (we *WriteEnd) Lstat(path string) (AwaitableAttrs, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeLstat(e, id, path)
	})
	if err != nil {
		return AwaitableAttrs{}, err
	}
	return AwaitableAttrs{inner: aw}, nil
}

// Fstat sends SSH_FXP_FSTAT.
func (we *WriteEnd) Fstat(handle protocol.Handle) (AwaitableAttrs, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeFstat(e, id, handle)
	})
	if err != nil {
		return AwaitableAttrs{}, err
	}
	return AwaitableAttrs{inner: aw}, nil
}

// Setstat sends SSH_FXP_SETSTAT.
func (we *WriteEnd) Setstat(path string, attrs protocol.FileAttrs) (AwaitableStatus, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeSetstat(e, id, path, attrs)
	})
	if err != nil {
		return AwaitableStatus{}, err
	}
	return AwaitableStatus{inner: aw}, nil
}

// Fsetstat sends SSH_FXP_FSETSTAT.
func (we *WriteEnd) Fsetstat(handle protocol.Handle, attrs protocol.FileAttrs) (AwaitableStatus, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeFsetstat(e, id, handle, attrs)
	})
	if err != nil {
		return AwaitableStatus{}, err
	}
	return AwaitableStatus{inner: aw}, nil
}

// Readlink sends SSH_FXP_READLINK.
func (we *WriteEnd) Readlink(path string) (AwaitableNameEntries, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeReadlink(e, id, path)
	})
	if err != nil {
		return AwaitableNameEntries{}, err
	}
	return AwaitableNameEntries{inner: aw}, nil
}

// Realpath sends SSH_FXP_REALPATH.
func (we *WriteEnd) Realpath(path string) (AwaitableNameEntries, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeRealpath(e, id, path)
	})
	if err != nil {
		return AwaitableNameEntries{}, err
	}
	return AwaitableNameEntries{inner: aw}, nil
}

// Symlink sends SSH_FXP_SYMLINK.
func (we *WriteEnd) Symlink(linkPath, targetPath string) (AwaitableStatus, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeSymlink(e, id, linkPath, targetPath)
	})
	if err != nil {
		return AwaitableStatus{}, err
	}
	return AwaitableStatus{inner: aw}, nil
}

// Limits sends the limits@openssh.com extended request. Callers should
// check Extensions().Limits() first.
func (we *WriteEnd) Limits() (AwaitableLimits, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeLimits(e, id)
	})
	if err != nil {
		return AwaitableLimits{}, err
	}
	return AwaitableLimits{inner: aw}, nil
}

// ExpandPath sends the expand-path@openssh.com extended request.
func (we *WriteEnd) ExpandPath(path string) (AwaitableNameEntries, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeExpandPath(e, id, path)
	})
	if err != nil {
		return AwaitableNameEntries{}, err
	}
	return AwaitableNameEntries{inner: aw}, nil
}

// Fsync sends the fsync@openssh.com extended request.
func (we *WriteEnd) Fsync(handle protocol.Handle) (AwaitableStatus, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeFsync(e, id, handle)
	})
	if err != nil {
		return AwaitableStatus{}, err
	}
	return AwaitableStatus{inner: aw}, nil
}

// Hardlink sends the hardlink@openssh.com extended request.
func (we *WriteEnd) Hardlink(oldPath, newPath string) (AwaitableStatus, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodeHardlink(e, id, oldPath, newPath)
	})
	if err != nil {
		return AwaitableStatus{}, err
	}
	return AwaitableStatus{inner: aw}, nil
}

// PosixRename sends the posix-rename@openssh.com extended request.
func (we *WriteEnd) PosixRename(oldPath, newPath string) (AwaitableStatus, error) {
	aw, err := we.encodeAndPush(func(e *protocol.Encoder, id uint32) ([]byte, error) {
		return protocol.EncodePosixRename(e, id, oldPath, newPath)
	})
	if err != nil {
		return AwaitableStatus{}, err
	}
	return AwaitableStatus{inner: aw}, nil
}
