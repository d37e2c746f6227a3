package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeHelloThenParseServerVersion(t *testing.T) {
	e := NewEncoder()
	hello := EncodeHello(e, SSH2FilexferVersion)
	if len(hello) < 9 {
		t.Fatalf("hello frame too short: %d bytes", len(hello))
	}
	if hello[4] != SSHFXPInit {
		t.Fatalf("expected SSH_FXP_INIT, got %d", hello[4])
	}

	// A server version reply carries no request id, unlike every other
	// response shape: its body is just the version followed by zero or
	// more (name, data) extension pairs.
	se := NewEncoder()
	se.Reset()
	se.putUint32(SSH2FilexferVersion)
	if err := se.putString(ExtLimits); err != nil {
		t.Fatal(err)
	}
	if err := se.putString("1"); err != nil {
		t.Fatal(err)
	}
	body := make([]byte, len(se.buf))
	copy(body, se.buf)

	sv, err := ParseServerVersion(body)
	if err != nil {
		t.Fatalf("ParseServerVersion: %v", err)
	}
	if sv.Version != SSH2FilexferVersion {
		t.Fatalf("version = %d, want %d", sv.Version, SSH2FilexferVersion)
	}
	if !sv.Extensions.Limits() {
		t.Fatal("expected limits@openssh.com to be reported")
	}
	if sv.Extensions.Fsync() {
		t.Fatal("fsync@openssh.com was never announced")
	}
}

func TestEncodeRequestRoundTripsLengthAndID(t *testing.T) {
	e := NewEncoder()
	frame, err := EncodeOpen(e, 7, "/tmp/foo", FxfRead, FileAttrs{})
	if err != nil {
		t.Fatalf("EncodeOpen: %v", err)
	}
	bodyLen := int(byteOrder.Uint32(frame[0:4]))
	if bodyLen != len(frame)-4 {
		t.Fatalf("length field %d, want %d", bodyLen, len(frame)-4)
	}
	if frame[4] != SSHFXPOpen {
		t.Fatalf("type byte = %d, want SSH_FXP_OPEN", frame[4])
	}
	gotID := byteOrder.Uint32(frame[5:9])
	if gotID != 7 {
		t.Fatalf("id = %d, want 7", gotID)
	}
}

func TestEncodeSymlinkPutsTargetpathFirstOnWire(t *testing.T) {
	e := NewEncoder()
	frame, err := EncodeSymlink(e, 1, "link", "target")
	if err != nil {
		t.Fatalf("EncodeSymlink: %v", err)
	}
	d := NewDecoder(frame[9:])
	first, err := d.str()
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.str()
	if err != nil {
		t.Fatal(err)
	}
	if first != "target" || second != "link" {
		t.Fatalf("wire order = (%q, %q), want (\"target\", \"link\")", first, second)
	}
}

func TestFileAttrsEncodeDecodeRoundTrip(t *testing.T) {
	want := FileAttrs{
		Flags:       AttrSize | AttrPermissions | AttrACModTime,
		Size:        1 << 20,
		Permissions: 0o644,
		ATime:       111,
		MTime:       222,
	}
	e := NewEncoder()
	e.Reset()
	if err := want.encode(e); err != nil {
		t.Fatal(err)
	}
	body := make([]byte, len(e.buf))
	copy(body, e.buf)

	d := NewDecoder(body)
	got, err := decodeFileAttrs(d)
	if err != nil {
		t.Fatalf("decodeFileAttrs: %v", err)
	}
	if got.Flags != want.Flags || got.Size != want.Size || got.Permissions != want.Permissions ||
		got.ATime != want.ATime || got.MTime != want.MTime {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if d.Remaining() != 0 {
		t.Fatalf("leftover bytes after decode: %d", d.Remaining())
	}
}

func TestParseHeaderStatusResponse(t *testing.T) {
	e := NewEncoder()
	e.Reset()
	e.putUint32(SSHFXNoSuchFile)
	if err := e.putString("no such file"); err != nil {
		t.Fatal(err)
	}
	if err := e.putString("en"); err != nil {
		t.Fatal(err)
	}
	body := make([]byte, len(e.buf))
	copy(body, e.buf)

	inner, err := ParseHeader(SSHFXPStatus, body)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	status, ok := inner.(StatusResponse)
	if !ok {
		t.Fatalf("got %T, want StatusResponse", inner)
	}
	if status.Code != SSHFXNoSuchFile || status.Message != "no such file" {
		t.Fatalf("got %+v", status)
	}
}

func TestParseHeaderNameResponseWithMultipleEntries(t *testing.T) {
	e := NewEncoder()
	e.Reset()
	e.putUint32(2)
	for _, name := range []string{"a", "b"} {
		if err := e.putString(name); err != nil {
			t.Fatal(err)
		}
		if err := e.putString(name + "-long"); err != nil {
			t.Fatal(err)
		}
		if err := (FileAttrs{}).encode(e); err != nil {
			t.Fatal(err)
		}
	}
	body := make([]byte, len(e.buf))
	copy(body, e.buf)

	inner, err := ParseHeader(SSHFXPName, body)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	nr, ok := inner.(NameResponse)
	if !ok {
		t.Fatalf("got %T, want NameResponse", inner)
	}
	if len(nr.Entries) != 2 || nr.Entries[0].Filename != "a" || nr.Entries[1].Filename != "b" {
		t.Fatalf("got %+v", nr.Entries)
	}
}

func TestEncodeWriteHeaderLengthCoversData(t *testing.T) {
	e := NewEncoder()
	data := bytes.Repeat([]byte{0x42}, 100)
	header, err := e.EncodeWriteHeader(3, Handle("h"), 0, uint32(len(data)))
	if err != nil {
		t.Fatalf("EncodeWriteHeader: %v", err)
	}
	bodyLen := int(byteOrder.Uint32(header[0:4]))
	if bodyLen != len(header)-4+len(data) {
		t.Fatalf("bodyLen = %d, want %d", bodyLen, len(header)-4+len(data))
	}
}

func TestParseServerVersionSkipsTrailingGarbage(t *testing.T) {
	e := NewEncoder()
	e.Reset()
	e.putUint32(SSH2FilexferVersion)
	body := append([]byte{}, e.buf...)
	body = append(body, 0xff) // one stray trailing byte, not a full (name, data) pair

	sv, err := ParseServerVersion(body)
	if err != nil {
		t.Fatalf("ParseServerVersion: %v", err)
	}
	if sv.Version != SSH2FilexferVersion {
		t.Fatalf("version = %d", sv.Version)
	}
	if sv.Extensions.Has("anything") {
		t.Fatal("no extension should have been parsed from garbage")
	}
}
