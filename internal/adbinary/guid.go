package adbinary

import (
	"github.com/google/uuid"
)

// GUIDLength is the size of an encoded GUID.
const GUIDLength = 16

// DecodeGUID converts Active Directory GUID bytes to a uuid.UUID.
// Active Directory uses mixed-endian encoding:
// - Data1 (bytes 0-3): little-endian
// - Data2 (bytes 4-5): little-endian
// - Data3 (bytes 6-7): little-endian
// - Data4 (bytes 8-15): big-endian
func DecodeGUID(b []byte) (uuid.UUID, error) {
	if len(b) < GUIDLength {
		return uuid.Nil, malformed("guid", 0, "need %d bytes, have %d", GUIDLength, len(b))
	}
	return uuid.FromBytes(swapGUIDBytes(b[:GUIDLength]))
}

// EncodeGUID converts a uuid.UUID to Active Directory byte order.
func EncodeGUID(u uuid.UUID) []byte {
	return swapGUIDBytes(u[:])
}

// swapGUIDBytes converts between RFC 4122 and mixed-endian byte order. The
// transform is its own inverse.
func swapGUIDBytes(in []byte) []byte {
	out := make([]byte, GUIDLength)

	out[0], out[1], out[2], out[3] = in[3], in[2], in[1], in[0]
	out[4], out[5] = in[5], in[4]
	out[6], out[7] = in[7], in[6]
	copy(out[8:], in[8:GUIDLength])

	return out
}
