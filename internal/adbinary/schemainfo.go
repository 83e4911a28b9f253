package adbinary

import (
	"encoding/binary"

	"github.com/google/uuid"
)

const (
	schemaInfoMarker = 0xFF
	schemaInfoLength = 21
)

// SchemaInfo is the decoded schemaInfo attribute of the schema head.
type SchemaInfo struct {
	Serial       uint32
	InvocationID uuid.UUID
}

// DecodeSchemaInfo decodes the 21-byte schemaInfo blob: marker 0xFF,
// big-endian serial, invocation id of the last schema master to update it.
func DecodeSchemaInfo(b []byte) (SchemaInfo, error) {
	if len(b) == 0 {
		return SchemaInfo{}, malformed("schema info", 0, "empty")
	}
	if b[0] != schemaInfoMarker {
		return SchemaInfo{}, nil
	}
	if len(b) < schemaInfoLength {
		return SchemaInfo{}, malformed("schema info", 1, "need %d bytes, have %d", schemaInfoLength, len(b))
	}

	id, err := uuid.FromBytes(b[5:21])
	if err != nil {
		return SchemaInfo{}, err
	}

	return SchemaInfo{
		Serial:       binary.BigEndian.Uint32(b[1:]),
		InvocationID: id,
	}, nil
}
