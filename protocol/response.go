package protocol

import "fmt"

// ResponseInner is the decoded payload of one of the "header"-shaped
// response types (status/handle/name/attrs). Data and extended-reply
// payloads bypass this type entirely; the lowlevel engine reads those
// directly into the caller's buffer or a fresh byte slice.
type ResponseInner interface {
	isResponseInner()
}

// StatusResponse is the SSH_FXP_STATUS payload.
type StatusResponse struct {
	Code     uint32
	Message  string
	Language string
}

func (StatusResponse) isResponseInner() {}

// HandleResponse is the SSH_FXP_HANDLE payload.
type HandleResponse struct {
	Handle Handle
}

func (HandleResponse) isResponseInner() {}

// NameEntry is one entry of an SSH_FXP_NAME response.
type NameEntry struct {
	Filename string
	Longname string
	Attrs    FileAttrs
}

// NameResponse is the SSH_FXP_NAME payload (used by both REALPATH/READLINK,
// which always carry exactly one entry, and READDIR, which may carry many).
type NameResponse struct {
	Entries []NameEntry
}

func (NameResponse) isResponseInner() {}

// AttrsResponse is the SSH_FXP_ATTRS payload.
type AttrsResponse struct {
	Attrs FileAttrs
}

func (AttrsResponse) isResponseInner() {}

// ParseHeader decodes a header-shaped response body. body must contain
// exactly the bytes following the 9-byte (length, type, id) frame prefix
// the engine has already consumed to dispatch the packet; trailing bytes
// beyond what each shape needs are ignored, per spec.md's
// forward-compatibility policy.
func ParseHeader(packetType byte, body []byte) (ResponseInner, error) {
	d := NewDecoder(body)
	switch packetType {
	case SSHFXPStatus:
		code, err := d.uint32()
		if err != nil {
			return nil, err
		}
		resp := StatusResponse{Code: code}
		// SSH_FXP_STATUS may legally omit the message/language fields
		// for older servers; decode them best-effort.
		if d.Remaining() > 0 {
			msg, err := d.str()
			if err != nil {
				return resp, nil
			}
			resp.Message = msg
		}
		if d.Remaining() > 0 {
			lang, err := d.str()
			if err == nil {
				resp.Language = lang
			}
		}
		return resp, nil
	case SSHFXPHandle:
		h, err := d.bytes()
		if err != nil {
			return nil, err
		}
		return HandleResponse{Handle: Handle(h)}, nil
	case SSHFXPName:
		count, err := d.uint32()
		if err != nil {
			return nil, err
		}
		entries := make([]NameEntry, 0, count)
		for i := uint32(0); i < count; i++ {
			filename, err := d.str()
			if err != nil {
				return nil, err
			}
			longname, err := d.str()
			if err != nil {
				return nil, err
			}
			attrs, err := decodeFileAttrs(d)
			if err != nil {
				return nil, err
			}
			entries = append(entries, NameEntry{Filename: filename, Longname: longname, Attrs: attrs})
		}
		return NameResponse{Entries: entries}, nil
	case SSHFXPAttrs:
		attrs, err := decodeFileAttrs(d)
		if err != nil {
			return nil, err
		}
		return AttrsResponse{Attrs: attrs}, nil
	default:
		return nil, fmt.Errorf("protocol: packet type %d is not a header response", packetType)
	}
}

// LimitsResponse decodes the limits@openssh.com extended reply payload.
type LimitsResponse struct {
	MaxPacketLength uint64
	MaxReadLength   uint64
	MaxWriteLength  uint64
	MaxOpenHandles  uint64
}

// ParseLimits decodes an extended-reply body as a limits@openssh.com reply.
func ParseLimits(body []byte) (LimitsResponse, error) {
	d := NewDecoder(body)
	var r LimitsResponse
	var err error
	if r.MaxPacketLength, err = d.uint64(); err != nil {
		return r, err
	}
	if r.MaxReadLength, err = d.uint64(); err != nil {
		return r, err
	}
	if r.MaxWriteLength, err = d.uint64(); err != nil {
		return r, err
	}
	if r.MaxOpenHandles, err = d.uint64(); err != nil {
		return r, err
	}
	return r, nil
}
