package adbinary

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trustRecord struct {
	recordType byte
	flags      uint32
	created    time.Time
	name       string // type 0/1
	sid        string // type 2
	dns        string
	netbios    string
}

func putUint32(buf *bytes.Buffer, v uint32) {
	_ = binary.Write(buf, binary.LittleEndian, v)
}

func putLengthPrefixed(buf *bytes.Buffer, b []byte) {
	putUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func buildTrustForestInfo(t *testing.T, version uint32, records ...trustRecord) []byte {
	t.Helper()

	var out bytes.Buffer
	putUint32(&out, version)
	putUint32(&out, uint32(len(records)))

	for _, r := range records {
		var body bytes.Buffer
		ticks := TimeToFileTime(r.created)
		putUint32(&body, r.flags)
		putUint32(&body, uint32(ticks>>32))
		putUint32(&body, uint32(ticks))
		body.WriteByte(r.recordType)

		switch r.recordType {
		case ForestTrustDomainInfo:
			var sid []byte
			if r.sid != "" {
				var err error
				sid, err = EncodeSID(r.sid)
				require.NoError(t, err)
			}
			putLengthPrefixed(&body, sid)
			putLengthPrefixed(&body, []byte(r.dns))
			putLengthPrefixed(&body, []byte(r.netbios))
		default:
			putLengthPrefixed(&body, []byte(r.name))
		}

		putUint32(&out, uint32(body.Len()))
		out.Write(body.Bytes())
	}

	return out.Bytes()
}

func TestDecodeTrustForestInfo(t *testing.T) {
	created := time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC)
	raw := buildTrustForestInfo(t, 1,
		trustRecord{recordType: ForestTrustTopLevelName, name: "child.example.com", created: created},
		trustRecord{recordType: ForestTrustDomainInfo, sid: "S-1-5-21-10-20-30", dns: "Child.Example.COM", netbios: "CHILD", created: created, flags: 4},
		trustRecord{recordType: ForestTrustTopLevelNameEx, name: "excluded.example.com", created: created},
		trustRecord{recordType: ForestTrustDomainInfo, sid: "S-1-5-21-40-50-60", dns: "other.example.com", netbios: "OTHER", created: created},
	)

	infos, err := DecodeTrustForestInfo(raw)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, "child.example.com", infos[0].DNSName)
	assert.Equal(t, "CHILD", infos[0].NetBIOSName)
	assert.Equal(t, "S-1-5-21-10-20-30", infos[0].SID)
	assert.Equal(t, uint32(4), infos[0].Flags)
	assert.True(t, created.Equal(infos[0].Created))

	assert.Equal(t, "other.example.com", infos[1].DNSName)
	assert.Equal(t, "S-1-5-21-40-50-60", infos[1].SID)
}

func TestDecodeTrustForestInfo_LowHalfAboveInt32(t *testing.T) {
	// A low half with its top bit set must not be sign-extended.
	created := FileTimeToTime(int64(0x01D8_0000)<<32 | 0x8000_0000)
	raw := buildTrustForestInfo(t, 1,
		trustRecord{recordType: ForestTrustDomainInfo, dns: "a.example", netbios: "A", created: created},
	)

	infos, err := DecodeTrustForestInfo(raw)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.True(t, created.Equal(infos[0].Created))
	assert.Empty(t, infos[0].SID)
}

func TestDecodeTrustForestInfo_VersionMismatch(t *testing.T) {
	raw := buildTrustForestInfo(t, 2,
		trustRecord{recordType: ForestTrustDomainInfo, sid: "S-1-5-21-1-2-3", dns: "x.example", netbios: "X"},
	)

	infos, err := DecodeTrustForestInfo(raw)
	assert.NoError(t, err)
	assert.Empty(t, infos)
}

func TestDecodeTrustForestInfo_Truncated(t *testing.T) {
	raw := buildTrustForestInfo(t, 1,
		trustRecord{recordType: ForestTrustDomainInfo, sid: "S-1-5-21-1-2-3", dns: "first.example", netbios: "FIRST"},
		trustRecord{recordType: ForestTrustDomainInfo, sid: "S-1-5-21-4-5-6", dns: "second.example", netbios: "SECOND"},
	)

	// Cut inside the second record's tail.
	infos, err := DecodeTrustForestInfo(raw[:len(raw)-3])
	assert.ErrorIs(t, err, ErrMalformed)
	require.Len(t, infos, 1)
	assert.Equal(t, "first.example", infos[0].DNSName)
}

func TestDecodeTrustForestInfo_NeverPanics(t *testing.T) {
	raw := buildTrustForestInfo(t, 1,
		trustRecord{recordType: ForestTrustTopLevelName, name: "example.com"},
		trustRecord{recordType: ForestTrustDomainInfo, sid: "S-1-5-21-1-2-3", dns: "example.com", netbios: "EXAMPLE"},
	)

	for n := 0; n <= len(raw); n++ {
		assert.NotPanics(t, func() {
			_, _ = DecodeTrustForestInfo(raw[:n])
		}, "prefix length %d", n)
	}
}

func TestDecodeTrustForestInfo_CorruptInnerLengths(t *testing.T) {
	raw := buildTrustForestInfo(t, 1,
		trustRecord{recordType: ForestTrustDomainInfo, sid: "S-1-5-21-1-2-3", dns: "example.com", netbios: "EXAMPLE"},
	)

	// The SID length prefix sits right after the 8-byte header and 17-byte head.
	corrupt := bytes.Clone(raw)
	binary.LittleEndian.PutUint32(corrupt[8+trustRecordHeadLength:], 0xFFFFFF00)

	infos, err := DecodeTrustForestInfo(corrupt)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Empty(t, infos)
}
