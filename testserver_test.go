package lowlevel

import (
	"encoding/binary"
	"io"

	"github.com/nyngwang/sftp-lowlevel/protocol"
)

// The helpers in this file build raw SFTP wire frames by hand, playing the
// part of the remote sftp-server process in tests: the engine only ever
// talks to a real subprocess's stdio pipes, so every test that exercises
// Connect, the flush task, or the read task needs something on the other
// end of a net.Pipe or io.Pipe that can speak just enough of the wire
// format back.

func wireUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func wireString(s string) []byte {
	b := make([]byte, 4+len(s))
	binary.BigEndian.PutUint32(b[0:4], uint32(len(s)))
	copy(b[4:], s)
	return b
}

// frameWithID builds a response frame shaped like everything except the
// hello/version exchange: 4-byte length, 1-byte type, 4-byte request id,
// then body.
func frameWithID(packetType byte, id uint32, body []byte) []byte {
	frame := make([]byte, 0, 9+len(body))
	frame = append(frame, wireUint32(uint32(5+len(body)))...)
	frame = append(frame, packetType)
	frame = append(frame, wireUint32(id)...)
	frame = append(frame, body...)
	return frame
}

// frameNoID builds a hello/version-shaped frame: these carry no request id
// at all, unlike every other SFTP packet.
func frameNoID(packetType byte, body []byte) []byte {
	frame := make([]byte, 0, 5+len(body))
	frame = append(frame, wireUint32(uint32(1+len(body)))...)
	frame = append(frame, packetType)
	frame = append(frame, body...)
	return frame
}

func statusFrame(id uint32, code uint32, msg, lang string) []byte {
	body := append([]byte{}, wireUint32(code)...)
	body = append(body, wireString(msg)...)
	body = append(body, wireString(lang)...)
	return frameWithID(protocol.SSHFXPStatus, id, body)
}

func handleFrame(id uint32, handle string) []byte {
	return frameWithID(protocol.SSHFXPHandle, id, wireString(handle))
}

func versionFrame(version uint32, exts ...protocol.ExtensionPair) []byte {
	body := append([]byte{}, wireUint32(version)...)
	for _, e := range exts {
		body = append(body, wireString(e.Name)...)
		body = append(body, wireString(e.Data)...)
	}
	return frameNoID(protocol.SSHFXPVersion, body)
}

// fakeServer is a minimal scripted stand-in for the remote sftp-server
// process, built on the same exact-length readBuffer the engine's own read
// task uses.
type fakeServer struct {
	rw  io.ReadWriter
	buf *readBuffer
}

func newFakeServer(rw io.ReadWriter) *fakeServer {
	return &fakeServer{rw: rw, buf: newReadBuffer(rw, 4096)}
}

// readHello reads the client's SSH_FXP_INIT frame and returns the
// requested protocol version.
func (s *fakeServer) readHello() (uint32, error) {
	var lenAndType [5]byte
	if err := s.buf.readExactInto(lenAndType[:]); err != nil {
		return 0, err
	}
	bodyLen := int(binary.BigEndian.Uint32(lenAndType[0:4]))
	body := make([]byte, bodyLen-1)
	if err := s.buf.readExactInto(body); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(body[0:4]), nil
}

func (s *fakeServer) writeVersion(version uint32, exts ...protocol.ExtensionPair) error {
	_, err := s.rw.Write(versionFrame(version, exts...))
	return err
}

// readRequest reads one client request frame and returns its type, request
// id, and raw body (everything past the 9-byte length+type+id prefix).
func (s *fakeServer) readRequest() (packetType byte, id uint32, body []byte, err error) {
	var lenAndType [5]byte
	if err = s.buf.readExactInto(lenAndType[:]); err != nil {
		return
	}
	bodyLen := int(binary.BigEndian.Uint32(lenAndType[0:4]))
	packetType = lenAndType[4]
	var idBuf [4]byte
	if err = s.buf.readExactInto(idBuf[:]); err != nil {
		return
	}
	id = binary.BigEndian.Uint32(idBuf[:])
	body = make([]byte, bodyLen-5)
	err = s.buf.readExactInto(body)
	return
}

func (s *fakeServer) writeStatus(id uint32, code uint32, msg, lang string) error {
	_, err := s.rw.Write(statusFrame(id, code, msg, lang))
	return err
}

func (s *fakeServer) writeHandle(id uint32, handle string) error {
	_, err := s.rw.Write(handleFrame(id, handle))
	return err
}
