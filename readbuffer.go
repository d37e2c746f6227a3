package lowlevel

import "io"

// readBuffer is a bounded buffered reader over the connection's read half,
// owned exclusively by the read task, with exact-length drains for
// framing and a subdrain for reading a known-length payload straight into
// a caller's UserBuffer without an extra intermediate copy, generalizing
// the io.ReadFull pattern smux's recvLoop uses to pull a fixed-size
// header off the wire before deciding how much body follows.
type readBuffer struct {
	r    io.Reader
	buf  []byte
	r0   int // read position
	w0   int // write position (end of valid data)
}

func newReadBuffer(r io.Reader, size int) *readBuffer {
	return &readBuffer{r: r, buf: make([]byte, size)}
}

func (b *readBuffer) buffered() int { return b.w0 - b.r0 }

// fillBuf ensures at least one unread byte is buffered, refilling from
// the underlying reader if the buffer is currently empty; it never blocks
// once buffered() > 0.
func (b *readBuffer) fillBuf() error {
	if b.buffered() > 0 {
		return nil
	}
	b.r0, b.w0 = 0, 0
	n, err := b.r.Read(b.buf)
	b.w0 = n
	if n > 0 {
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}

// readExactInto drains exactly len(dst) bytes into dst, refilling the
// internal buffer as needed. It never over-reads past what it is asked
// for, the way smux's recvLoop never reads past one frame's declared
// length.
func (b *readBuffer) readExactInto(dst []byte) error {
	for len(dst) > 0 {
		if b.buffered() == 0 {
			if err := b.fillBuf(); err != nil {
				return err
			}
		}
		n := copy(dst, b.buf[b.r0:b.w0])
		b.r0 += n
		dst = dst[n:]
	}
	return nil
}

// subdrain reads exactly n bytes of payload, handing each chunk to sink
// as soon as it is available instead of requiring the whole payload to be
// buffered contiguously first -- the path a bulk SSH_FXP_DATA reply takes
// into the caller's UserBuffer.
func (b *readBuffer) subdrain(n int, sink func([]byte)) error {
	for n > 0 {
		if b.buffered() == 0 {
			if err := b.fillBuf(); err != nil {
				return err
			}
		}
		take := b.buffered()
		if take > n {
			take = n
		}
		chunk := b.buf[b.r0 : b.r0+take]
		sink(chunk)
		b.r0 += take
		n -= take
	}
	return nil
}

// peekByte returns the next unread byte without consuming it, refilling
// if necessary. The read task does not call it: readOnePacket reads a
// packet's type byte together with its length.
func (b *readBuffer) peekByte() (byte, error) {
	if b.buffered() == 0 {
		if err := b.fillBuf(); err != nil {
			return 0, err
		}
	}
	return b.buf[b.r0], nil
}
