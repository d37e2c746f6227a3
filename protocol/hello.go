package protocol

// Extensions is the server-announced capability set captured once at
// hello-time. The zero value means "no extensions known", which is
// correct for a client that has not yet connected.
type Extensions struct {
	pairs map[string]string
}

// NewExtensions builds an Extensions set from the raw (name, data) pairs
// the server sent in its SSH_FXP_VERSION reply.
func NewExtensions(pairs []ExtensionPair) Extensions {
	e := Extensions{pairs: make(map[string]string, len(pairs))}
	for _, p := range pairs {
		e.pairs[p.Name] = p.Data
	}
	return e
}

// Has reports whether the server announced the named extension.
func (e Extensions) Has(name string) bool {
	if e.pairs == nil {
		return false
	}
	_, ok := e.pairs[name]
	return ok
}

// Limits reports whether the server announced limits@openssh.com.
func (e Extensions) Limits() bool { return e.Has(ExtLimits) }

// ExpandPath reports whether the server announced expand-path@openssh.com.
func (e Extensions) ExpandPath() bool { return e.Has(ExtExpandPath) }

// Fsync reports whether the server announced fsync@openssh.com.
func (e Extensions) Fsync() bool { return e.Has(ExtFsync) }

// Hardlink reports whether the server announced hardlink@openssh.com.
func (e Extensions) Hardlink() bool { return e.Has(ExtHardlink) }

// PosixRename reports whether the server announced posix-rename@openssh.com.
func (e Extensions) PosixRename() bool { return e.Has(ExtPosixRename) }

// EncodeHello serializes the client's SSH_FXP_INIT packet: just a version
// number, no request id (hello frames are not multiplexed).
func EncodeHello(e *Encoder, version uint32) []byte {
	e.Reset()
	e.putUint32(0) // length placeholder
	e.putByte(SSHFXPInit)
	e.putUint32(version)
	bodyLen := len(e.buf) - 4
	byteOrder.PutUint32(e.buf[0:4], uint32(bodyLen))
	return e.Split()
}

// ServerVersion is the decoded SSH_FXP_VERSION reply.
type ServerVersion struct {
	Version    uint32
	Extensions Extensions
}

// ParseServerVersion decodes the body of an SSH_FXP_VERSION reply: the
// 1-byte type has already been stripped by the caller, body starts with
// the version number.
func ParseServerVersion(body []byte) (ServerVersion, error) {
	d := NewDecoder(body)
	version, err := d.uint32()
	if err != nil {
		return ServerVersion{}, err
	}
	var pairs []ExtensionPair
	for d.Remaining() > 0 {
		name, err := d.str()
		if err != nil {
			break
		}
		data, err := d.str()
		if err != nil {
			break
		}
		pairs = append(pairs, ExtensionPair{Name: name, Data: data})
	}
	return ServerVersion{Version: version, Extensions: NewExtensions(pairs)}, nil
}
