package adbinary

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

const (
	replMetadataVersion      = 1
	replMetadataHeaderLength = 16
	replMetadataRecordLength = 48
)

// ReplicationAttributeMetadata is one entry of replPropertyMetaData.
type ReplicationAttributeMetadata struct {
	AttributeID           int32
	Version               int32
	LastOriginatingChange time.Time
	OriginatingDSA        uuid.UUID
	OriginatingUSN        int64
	LocalUSN              int64
}

// DecodeReplicationMetadata decodes a replPropertyMetaData blob keyed by
// attribute id. Duplicate ids keep the last record.
//
// Layout: version (4), reserved (4), count (4), reserved (4), then count
// records of attribute id (4), version (4), change time in seconds (8),
// originating DSA (16), originating USN (8), local USN (8).
func DecodeReplicationMetadata(b []byte) (map[int32]ReplicationAttributeMetadata, error) {
	out := make(map[int32]ReplicationAttributeMetadata)

	if len(b) < 4 {
		return out, malformed("replication metadata", 0, "missing version")
	}
	if binary.LittleEndian.Uint32(b) != replMetadataVersion {
		return out, nil
	}
	if len(b) < replMetadataHeaderLength {
		return out, malformed("replication metadata", 4, "header truncated")
	}

	count := binary.LittleEndian.Uint32(b[8:])
	for i := uint32(0); i < count; i++ {
		off := replMetadataHeaderLength + int(i)*replMetadataRecordLength
		if off+replMetadataRecordLength > len(b) {
			return out, malformed("replication metadata", off, "record %d truncated", i)
		}

		rec := b[off : off+replMetadataRecordLength]
		dsa, err := DecodeGUID(rec[16:32])
		if err != nil {
			return out, err
		}

		entry := ReplicationAttributeMetadata{
			AttributeID:           int32(binary.LittleEndian.Uint32(rec[0:])),
			Version:               int32(binary.LittleEndian.Uint32(rec[4:])),
			LastOriginatingChange: secondsToFileTime(int64(binary.LittleEndian.Uint64(rec[8:]))),
			OriginatingDSA:        dsa,
			OriginatingUSN:        int64(binary.LittleEndian.Uint64(rec[32:])),
			LocalUSN:              int64(binary.LittleEndian.Uint64(rec[40:])),
		}
		out[entry.AttributeID] = entry
	}

	return out, nil
}
