// Package protocol implements wire encoding and decoding for the SFTP
// request/response frames defined by draft-ietf-secsh-filexfer (the
// version OpenSSH's sftp-server actually speaks, protocol 3).
//
// It knows nothing about multiplexing, background goroutines or
// concurrency; it is the narrow, external-collaborator serialization layer
// the lowlevel engine builds on.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// SSH2FilexferVersion is the protocol version this package encodes and
// expects the server to speak.
const SSH2FilexferVersion uint32 = 3

// Packet type bytes, request side.
const (
	SSHFXPInit     byte = 1
	SSHFXPVersion  byte = 2
	SSHFXPOpen     byte = 3
	SSHFXPClose    byte = 4
	SSHFXPRead     byte = 5
	SSHFXPWrite    byte = 6
	SSHFXPLstat    byte = 7
	SSHFXPFstat    byte = 8
	SSHFXPSetstat  byte = 9
	SSHFXPFsetstat byte = 10
	SSHFXPOpendir  byte = 11
	SSHFXPReaddir  byte = 12
	SSHFXPRemove   byte = 13
	SSHFXPMkdir    byte = 14
	SSHFXPRmdir    byte = 15
	SSHFXPRealpath byte = 16
	SSHFXPStat     byte = 17
	SSHFXPRename   byte = 18
	SSHFXPReadlink byte = 19
	SSHFXPSymlink  byte = 20
	SSHFXPExtended byte = 200
)

// Packet type bytes, response side.
const (
	SSHFXPStatus        byte = 101
	SSHFXPHandle        byte = 102
	SSHFXPData          byte = 103
	SSHFXPName          byte = 104
	SSHFXPAttrs         byte = 105
	SSHFXPExtendedReply byte = 201
)

// SSH_FX_* status codes, a subset sufficient for the engine's own tests;
// callers above the engine may extend this set freely since the engine
// never interprets the code beyond storing it.
const (
	SSHFXOk               uint32 = 0
	SSHFXEOF              uint32 = 1
	SSHFXNoSuchFile       uint32 = 2
	SSHFXPermissionDenied uint32 = 3
	SSHFXFailure          uint32 = 4
	SSHFXBadMessage       uint32 = 5
	SSHFXOpUnsupported    uint32 = 8
)

// IsData reports whether packetType carries an inline-length data payload.
func IsData(packetType byte) bool { return packetType == SSHFXPData }

// IsExtendedReply reports whether packetType carries an opaque
// extension-reply payload.
func IsExtendedReply(packetType byte) bool { return packetType == SSHFXPExtendedReply }

// IsHeader reports whether packetType is one of the small structured
// header shapes (status/handle/name/attrs).
func IsHeader(packetType byte) bool {
	switch packetType {
	case SSHFXPStatus, SSHFXPHandle, SSHFXPName, SSHFXPAttrs:
		return true
	default:
		return false
	}
}

// Handle is an opaque server-issued file or directory handle.
type Handle []byte

func (h Handle) String() string { return fmt.Sprintf("%x", []byte(h)) }

var byteOrder = binary.BigEndian
