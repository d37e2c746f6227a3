package protocol

// FileAttrs flag bits (SSH_FILEXFER_ATTR_*).
const (
	AttrSize        uint32 = 0x00000001
	AttrUIDGID      uint32 = 0x00000002
	AttrPermissions uint32 = 0x00000004
	AttrACModTime   uint32 = 0x00000008
	AttrExtended    uint32 = 0x80000000
)

// ExtensionPair is one SFTP-negotiated (name, data) capability pair, used
// both in ServerVersion and in FileAttrs' extended attribute list.
type ExtensionPair struct {
	Name string
	Data string
}

// FileAttrs mirrors the wire "ATTRS" structure. The engine never
// interprets these fields; it only encodes/decodes what the caller or
// server supplied.
type FileAttrs struct {
	Flags       uint32
	Size        uint64
	UID, GID    uint32
	Permissions uint32
	ATime       uint32
	MTime       uint32
	Extended    []ExtensionPair
}

func (a FileAttrs) encode(e *Encoder) error {
	e.putUint32(a.Flags)
	if a.Flags&AttrSize != 0 {
		e.putUint64(a.Size)
	}
	if a.Flags&AttrUIDGID != 0 {
		e.putUint32(a.UID)
		e.putUint32(a.GID)
	}
	if a.Flags&AttrPermissions != 0 {
		e.putUint32(a.Permissions)
	}
	if a.Flags&AttrACModTime != 0 {
		e.putUint32(a.ATime)
		e.putUint32(a.MTime)
	}
	if a.Flags&AttrExtended != 0 {
		e.putUint32(uint32(len(a.Extended)))
		for _, pair := range a.Extended {
			if err := e.putString(pair.Name); err != nil {
				return err
			}
			if err := e.putString(pair.Data); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeFileAttrs(d *Decoder) (FileAttrs, error) {
	var a FileAttrs
	flags, err := d.uint32()
	if err != nil {
		return a, err
	}
	a.Flags = flags
	if flags&AttrSize != 0 {
		if a.Size, err = d.uint64(); err != nil {
			return a, err
		}
	}
	if flags&AttrUIDGID != 0 {
		if a.UID, err = d.uint32(); err != nil {
			return a, err
		}
		if a.GID, err = d.uint32(); err != nil {
			return a, err
		}
	}
	if flags&AttrPermissions != 0 {
		if a.Permissions, err = d.uint32(); err != nil {
			return a, err
		}
	}
	if flags&AttrACModTime != 0 {
		if a.ATime, err = d.uint32(); err != nil {
			return a, err
		}
		if a.MTime, err = d.uint32(); err != nil {
			return a, err
		}
	}
	if flags&AttrExtended != 0 {
		count, err := d.uint32()
		if err != nil {
			return a, err
		}
		a.Extended = make([]ExtensionPair, 0, count)
		for i := uint32(0); i < count; i++ {
			name, err := d.str()
			if err != nil {
				return a, err
			}
			data, err := d.str()
			if err != nil {
				return a, err
			}
			a.Extended = append(a.Extended, ExtensionPair{Name: name, Data: data})
		}
	}
	return a, nil
}
