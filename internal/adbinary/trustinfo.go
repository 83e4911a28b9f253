package adbinary

import (
	"encoding/binary"
	"strings"
	"time"
)

// Forest trust record types (msDS-TrustForestTrustInfo).
const (
	ForestTrustTopLevelName   byte = 0
	ForestTrustTopLevelNameEx byte = 1
	ForestTrustDomainInfo     byte = 2
)

const (
	trustInfoVersion = 1

	// trustRecordHeadLength covers record length (4), flags (4),
	// timestamp high (4), timestamp low (4) and record type (1).
	trustRecordHeadLength = 17
)

// TrustForestInfo is one domain entry of a forest trust.
type TrustForestInfo struct {
	Created     time.Time
	DNSName     string
	NetBIOSName string
	SID         string
	Flags       uint32
}

// DecodeTrustForestInfo decodes msDS-TrustForestTrustInfo. A blob carrying an
// unknown version yields an empty result. Truncated blobs return the records
// decoded so far together with an ErrMalformed error.
func DecodeTrustForestInfo(b []byte) ([]TrustForestInfo, error) {
	if len(b) < 4 {
		return nil, malformed("trust forest info", 0, "missing version")
	}
	if binary.LittleEndian.Uint32(b) != trustInfoVersion {
		return nil, nil
	}
	if len(b) < 8 {
		return nil, malformed("trust forest info", 4, "missing record count")
	}

	count := binary.LittleEndian.Uint32(b[4:])
	pointer := 8

	var out []TrustForestInfo
	for i := uint32(0); i < count; i++ {
		if pointer+trustRecordHeadLength > len(b) {
			return out, malformed("trust forest info", pointer, "record %d head truncated", i)
		}

		recordLen := int(binary.LittleEndian.Uint32(b[pointer:]))
		end := pointer + 4 + recordLen
		if recordLen < trustRecordHeadLength-4 || end > len(b) || end < pointer {
			return out, malformed("trust forest info", pointer, "record %d declares %d bytes", i, recordLen)
		}

		flags := binary.LittleEndian.Uint32(b[pointer+4:])
		high := int64(binary.LittleEndian.Uint32(b[pointer+8:]))
		low := int64(binary.LittleEndian.Uint32(b[pointer+12:]))
		recordType := b[pointer+16]

		if recordType == ForestTrustDomainInfo {
			info, err := decodeTrustDomainInfo(b[pointer+trustRecordHeadLength:end], pointer+trustRecordHeadLength)
			if err != nil {
				return out, err
			}
			info.Created = FileTimeToTime(high<<32 + low)
			info.Flags = flags
			out = append(out, info)
		}

		pointer = end
	}

	return out, nil
}

// decodeTrustDomainInfo reads the SID, DNS name and NetBIOS name of a
// domain-info record. base is the tail offset within the full blob.
func decodeTrustDomainInfo(tail []byte, base int) (TrustForestInfo, error) {
	var info TrustForestInfo
	r := lengthPrefixedReader{buf: tail, base: base}

	sidBytes, err := r.next("sid")
	if err != nil {
		return info, err
	}
	if len(sidBytes) > 0 {
		sid, _, err := DecodeSID(sidBytes, 0)
		if err != nil {
			return info, err
		}
		info.SID = sid
	}

	dnsName, err := r.next("dns name")
	if err != nil {
		return info, err
	}
	info.DNSName = strings.ToLower(string(dnsName))

	netbios, err := r.next("netbios name")
	if err != nil {
		return info, err
	}
	info.NetBIOSName = string(netbios)

	return info, nil
}

// lengthPrefixedReader walks a sequence of 4-byte little-endian length
// prefixed fields.
type lengthPrefixedReader struct {
	buf  []byte
	pos  int
	base int
}

func (r *lengthPrefixedReader) next(field string) ([]byte, error) {
	if r.pos+4 > len(r.buf) {
		return nil, malformed("trust forest info", r.base+r.pos, "%s length truncated", field)
	}
	n := int(binary.LittleEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, malformed("trust forest info", r.base+r.pos, "%s declares %d bytes", field, n)
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}
