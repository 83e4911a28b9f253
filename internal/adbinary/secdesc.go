package adbinary

import (
	"encoding/binary"
	"fmt"

	"github.com/huner2/go-sddlparse"
)

// Self-relative security descriptor header: revision (1), sbz1 (1),
// control (2), then offsets of owner, group, SACL and DACL (4 each).
const (
	sdHeaderLength = 20
	sdRevision     = 1
)

// WriteAccessMask covers the rights that allow taking control of an object.
var WriteAccessMask = uint32(sddlparse.ACCESS_MASK_GENERIC_ALL |
	sddlparse.ACCESS_MASK_GENERIC_WRITE |
	sddlparse.ACCESS_MASK_WRITE_OWNER |
	sddlparse.ACCESS_MASK_WRITE_DACL)

// SecurityDescriptor holds the owner and discretionary ACL of an object.
type SecurityDescriptor struct {
	Control uint16
	Owner   string
	Group   string
	DACL    []AccessControlEntry
}

// AccessControlEntry is one DACL entry rendered in SDDL ACE form.
type AccessControlEntry struct {
	Mask uint32
	SDDL string
}

// GrantsWrite reports whether the entry carries any right in WriteAccessMask.
func (e AccessControlEntry) GrantsWrite() bool {
	return e.Mask&WriteAccessMask != 0
}

// DecodeSecurityDescriptor decodes a self-relative security descriptor.
// An unknown revision yields an empty descriptor.
func DecodeSecurityDescriptor(b []byte) (*SecurityDescriptor, error) {
	if len(b) < sdHeaderLength {
		return nil, malformed("security descriptor", 0, "need %d header bytes, have %d", sdHeaderLength, len(b))
	}

	sd := &SecurityDescriptor{}
	if b[0] != sdRevision {
		return sd, nil
	}

	sd.Control = binary.LittleEndian.Uint16(b[2:])

	ownerOffset := int(binary.LittleEndian.Uint32(b[4:]))
	if ownerOffset != 0 {
		owner, _, err := DecodeSID(b, ownerOffset)
		if err != nil {
			return sd, err
		}
		sd.Owner = owner
	}

	groupOffset := int(binary.LittleEndian.Uint32(b[8:]))
	if groupOffset != 0 {
		group, _, err := DecodeSID(b, groupOffset)
		if err != nil {
			return sd, err
		}
		sd.Group = group
	}

	if binary.LittleEndian.Uint32(b[16:]) == 0 {
		return sd, nil
	}

	parsed, err := sddlparse.SDDLFromBinary(b)
	if err != nil {
		return sd, fmt.Errorf("%w: dacl: %v", ErrMalformed, err)
	}
	for _, ace := range parsed.DACL {
		sd.DACL = append(sd.DACL, AccessControlEntry{
			Mask: uint32(ace.AccessMask),
			SDDL: ace.String(),
		})
	}

	return sd, nil
}
