package adbinary

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeLabels(name string) []byte {
	var buf bytes.Buffer
	if name != "" {
		for _, label := range strings.Split(name, ".") {
			buf.WriteByte(byte(len(label)))
			buf.WriteString(label)
		}
	}
	buf.WriteByte(0)
	return buf.Bytes()
}

func buildNetlogonResponse(domainGUID uuid.UUID) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, NetlogonOpcodeLogonResponseEx)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(0))
	_ = binary.Write(&buf, binary.LittleEndian, NetlogonFlagLDAP|NetlogonFlagDS|NetlogonFlagADWS)
	buf.Write(EncodeGUID(domainGUID))

	forestOffset := buf.Len()
	buf.Write(encodeLabels("example.com"))

	// Domain name: pointer to the forest name.
	_ = binary.Write(&buf, binary.BigEndian, uint16(0xC000|forestOffset))

	// Host name: "dc01" label followed by a pointer to the forest name.
	buf.WriteByte(4)
	buf.WriteString("dc01")
	_ = binary.Write(&buf, binary.BigEndian, uint16(0xC000|forestOffset))

	buf.Write(encodeLabels("EXAMPLE"))
	buf.Write(encodeLabels("DC01"))
	buf.Write(encodeLabels(""))
	buf.Write(encodeLabels("Default-First-Site-Name"))
	buf.Write(encodeLabels("Default-First-Site-Name"))

	return buf.Bytes()
}

func TestDecodeNetlogonResponse(t *testing.T) {
	domainGUID := uuid.MustParse("0f0e0d0c-0b0a-0908-0706-050403020100")
	resp, err := DecodeNetlogonResponse(buildNetlogonResponse(domainGUID))
	require.NoError(t, err)

	assert.Equal(t, NetlogonOpcodeLogonResponseEx, resp.Opcode)
	assert.NotZero(t, resp.Flags&NetlogonFlagADWS)
	assert.Equal(t, domainGUID, resp.DomainGUID)
	assert.Equal(t, "example.com", resp.DNSForestName)
	assert.Equal(t, "example.com", resp.DNSDomainName)
	assert.Equal(t, "dc01.example.com", resp.DNSHostName)
	assert.Equal(t, "EXAMPLE", resp.NetBIOSDomainName)
	assert.Equal(t, "DC01", resp.NetBIOSComputerName)
	assert.Empty(t, resp.UserName)
	assert.Equal(t, "Default-First-Site-Name", resp.DCSiteName)
	assert.Equal(t, "Default-First-Site-Name", resp.ClientSiteName)
}

func TestDecodeNetlogonResponse_UnknownOpcode(t *testing.T) {
	raw := buildNetlogonResponse(uuid.Nil)
	binary.LittleEndian.PutUint16(raw, 19)

	resp, err := DecodeNetlogonResponse(raw)
	require.NoError(t, err)
	assert.Empty(t, resp.DNSDomainName)
}

func TestDecodeNetlogonResponse_Malformed(t *testing.T) {
	raw := buildNetlogonResponse(uuid.Nil)

	for n := 0; n < len(raw); n++ {
		assert.NotPanics(t, func() {
			_, err := DecodeNetlogonResponse(raw[:n])
			assert.ErrorIs(t, err, ErrMalformed, "prefix length %d", n)
		})
	}
}

func TestDecodeNetlogonResponse_PointerLoop(t *testing.T) {
	raw := buildNetlogonResponse(uuid.Nil)
	// Point the forest name at itself.
	raw = append(raw[:netlogonFixedLength], 0xC0, byte(netlogonFixedLength))

	_, err := DecodeNetlogonResponse(raw)
	assert.ErrorIs(t, err, ErrMalformed)
}
