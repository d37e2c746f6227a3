package protocol

// Open flags (SSH_FXF_*), ORed together for the pflags field of SSH_FXP_OPEN.
const (
	FxfRead      uint32 = 0x00000001
	FxfWrite     uint32 = 0x00000002
	FxfAppend    uint32 = 0x00000004
	FxfCreat     uint32 = 0x00000008
	FxfTrunc     uint32 = 0x00000010
	FxfExcl      uint32 = 0x00000020
	FxfTextMode  uint32 = 0x00000040
	FxfCreateNew uint32 = FxfCreat | FxfExcl
)

// EncodeOpen serializes SSH_FXP_OPEN.
func EncodeOpen(e *Encoder, id uint32, path string, flags uint32, attrs FileAttrs) ([]byte, error) {
	return e.EncodeRequest(SSHFXPOpen, id, func(e *Encoder) error {
		if err := e.putString(path); err != nil {
			return err
		}
		e.putUint32(flags)
		return attrs.encode(e)
	})
}

// EncodeClose serializes SSH_FXP_CLOSE.
func EncodeClose(e *Encoder, id uint32, handle Handle) ([]byte, error) {
	return e.EncodeRequest(SSHFXPClose, id, func(e *Encoder) error {
		return e.putBytes(handle)
	})
}

// EncodeRead serializes SSH_FXP_READ.
func EncodeRead(e *Encoder, id uint32, handle Handle, offset uint64, length uint32) ([]byte, error) {
	return e.EncodeRequest(SSHFXPRead, id, func(e *Encoder) error {
		if err := e.putBytes(handle); err != nil {
			return err
		}
		e.putUint64(offset)
		e.putUint32(length)
		return nil
	})
}

// EncodeRemove serializes SSH_FXP_REMOVE.
func EncodeRemove(e *Encoder, id uint32, path string) ([]byte, error) {
	return e.EncodeRequest(SSHFXPRemove, id, func(e *Encoder) error {
		return e.putString(path)
	})
}

// EncodeRename serializes SSH_FXP_RENAME.
func EncodeRename(e *Encoder, id uint32, oldpath, newpath string) ([]byte, error) {
	return e.EncodeRequest(SSHFXPRename, id, func(e *Encoder) error {
		if err := e.putString(oldpath); err != nil {
			return err
		}
		return e.putString(newpath)
	})
}

// EncodeMkdir serializes SSH_FXP_MKDIR.
func EncodeMkdir(e *Encoder, id uint32, path string, attrs FileAttrs) ([]byte, error) {
	return e.EncodeRequest(SSHFXPMkdir, id, func(e *Encoder) error {
		if err := e.putString(path); err != nil {
			return err
		}
		return attrs.encode(e)
	})
}

// EncodeRmdir serializes SSH_FXP_RMDIR.
func EncodeRmdir(e *Encoder, id uint32, path string) ([]byte, error) {
	return e.EncodeRequest(SSHFXPRmdir, id, func(e *Encoder) error {
		return e.putString(path)
	})
}

// EncodeOpendir serializes SSH_FXP_OPENDIR.
func EncodeOpendir(e *Encoder, id uint32, path string) ([]byte, error) {
	return e.EncodeRequest(SSHFXPOpendir, id, func(e *Encoder) error {
		return e.putString(path)
	})
}

// EncodeReaddir serializes SSH_FXP_READDIR.
func EncodeReaddir(e *Encoder, id uint32, handle Handle) ([]byte, error) {
	return e.EncodeRequest(SSHFXPReaddir, id, func(e *Encoder) error {
		return e.putBytes(handle)
	})
}

// EncodeStat serializes SSH_FXP_STAT.
func EncodeStat(e *Encoder, id uint32, path string) ([]byte, error) {
	return e.EncodeRequest(SSHFXPStat, id, func(e *Encoder) error {
		return e.putString(path)
	})
}

// EncodeLstat serializes SSH_FXP_LSTAT.
func EncodeLstat(e *Encoder, id uint32, path string) ([]byte, error) {
	return e.EncodeRequest(SSHFXPLstat, id, func(e *Encoder) error {
		return e.putString(path)
	})
}

// EncodeFstat serializes SSH_FXP_FSTAT.
func EncodeFstat(e *Encoder, id uint32, handle Handle) ([]byte, error) {
	return e.EncodeRequest(SSHFXPFstat, id, func(e *Encoder) error {
		return e.putBytes(handle)
	})
}

// EncodeSetstat serializes SSH_FXP_SETSTAT.
func EncodeSetstat(e *Encoder, id uint32, path string, attrs FileAttrs) ([]byte, error) {
	return e.EncodeRequest(SSHFXPSetstat, id, func(e *Encoder) error {
		if err := e.putString(path); err != nil {
			return err
		}
		return attrs.encode(e)
	})
}

// EncodeFsetstat serializes SSH_FXP_FSETSTAT.
func EncodeFsetstat(e *Encoder, id uint32, handle Handle, attrs FileAttrs) ([]byte, error) {
	return e.EncodeRequest(SSHFXPFsetstat, id, func(e *Encoder) error {
		if err := e.putBytes(handle); err != nil {
			return err
		}
		return attrs.encode(e)
	})
}

// EncodeReadlink serializes SSH_FXP_READLINK.
func EncodeReadlink(e *Encoder, id uint32, path string) ([]byte, error) {
	return e.EncodeRequest(SSHFXPReadlink, id, func(e *Encoder) error {
		return e.putString(path)
	})
}

// EncodeRealpath serializes SSH_FXP_REALPATH.
func EncodeRealpath(e *Encoder, id uint32, path string) ([]byte, error) {
	return e.EncodeRequest(SSHFXPRealpath, id, func(e *Encoder) error {
		return e.putString(path)
	})
}

// EncodeSymlink serializes SSH_FXP_SYMLINK. Note OpenSSH's sftp-server
// swaps the wire order of the two paths relative to the SSH_FXP_RENAME
// layout; targetpath is written first on the wire even though linkpath is
// the first logical argument (the name being created).
func EncodeSymlink(e *Encoder, id uint32, linkpath, targetpath string) ([]byte, error) {
	return e.EncodeRequest(SSHFXPSymlink, id, func(e *Encoder) error {
		if err := e.putString(targetpath); err != nil {
			return err
		}
		return e.putString(linkpath)
	})
}

// Extension request names, sent as the ext-request-name string argument of
// SSH_FXP_EXTENDED.
const (
	ExtLimits      = "limits@openssh.com"
	ExtExpandPath  = "expand-path@openssh.com"
	ExtFsync       = "fsync@openssh.com"
	ExtHardlink    = "hardlink@openssh.com"
	ExtPosixRename = "posix-rename@openssh.com"
)

// EncodeExtended serializes SSH_FXP_EXTENDED with the given extension name
// and a caller-supplied payload writer.
func EncodeExtended(e *Encoder, id uint32, name string, body func(*Encoder) error) ([]byte, error) {
	return e.EncodeRequest(SSHFXPExtended, id, func(e *Encoder) error {
		if err := e.putString(name); err != nil {
			return err
		}
		if body != nil {
			return body(e)
		}
		return nil
	})
}

// EncodeLimits serializes the limits@openssh.com extension request.
func EncodeLimits(e *Encoder, id uint32) ([]byte, error) {
	return EncodeExtended(e, id, ExtLimits, nil)
}

// EncodeExpandPath serializes the expand-path@openssh.com extension request.
func EncodeExpandPath(e *Encoder, id uint32, path string) ([]byte, error) {
	return EncodeExtended(e, id, ExtExpandPath, func(e *Encoder) error {
		return e.putString(path)
	})
}

// EncodeFsync serializes the fsync@openssh.com extension request.
func EncodeFsync(e *Encoder, id uint32, handle Handle) ([]byte, error) {
	return EncodeExtended(e, id, ExtFsync, func(e *Encoder) error {
		return e.putBytes(handle)
	})
}

// EncodeHardlink serializes the hardlink@openssh.com extension request.
func EncodeHardlink(e *Encoder, id uint32, oldpath, newpath string) ([]byte, error) {
	return EncodeExtended(e, id, ExtHardlink, func(e *Encoder) error {
		if err := e.putString(oldpath); err != nil {
			return err
		}
		return e.putString(newpath)
	})
}

// EncodePosixRename serializes the posix-rename@openssh.com extension request.
func EncodePosixRename(e *Encoder, id uint32, oldpath, newpath string) ([]byte, error) {
	return EncodeExtended(e, id, ExtPosixRename, func(e *Encoder) error {
		if err := e.putString(oldpath); err != nil {
			return err
		}
		return e.putString(newpath)
	})
}
