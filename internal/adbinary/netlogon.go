package adbinary

import (
	"encoding/binary"
	"strings"

	"github.com/google/uuid"
)

// Netlogon response opcodes returned by an LDAP ping.
const (
	NetlogonOpcodeLogonResponseEx uint16 = 23
	NetlogonOpcodeUserUnknownEx   uint16 = 25
)

// DC capability flags carried in a netlogon response.
const (
	NetlogonFlagPDC      uint32 = 0x00000001
	NetlogonFlagGC       uint32 = 0x00000004
	NetlogonFlagLDAP     uint32 = 0x00000008
	NetlogonFlagDS       uint32 = 0x00000010
	NetlogonFlagKDC      uint32 = 0x00000020
	NetlogonFlagWritable uint32 = 0x00000100
	NetlogonFlagADWS     uint32 = 0x00040000
)

// NetlogonResponse is the subset of NETLOGON_SAM_LOGON_RESPONSE_EX needed to
// locate a domain controller.
type NetlogonResponse struct {
	Opcode              uint16
	Flags               uint32
	DomainGUID          uuid.UUID
	DNSForestName       string
	DNSDomainName       string
	DNSHostName         string
	NetBIOSDomainName   string
	NetBIOSComputerName string
	UserName            string
	DCSiteName          string
	ClientSiteName      string
}

// netlogonFixedLength covers opcode (2), sbz (2), flags (4) and domain GUID (16).
const netlogonFixedLength = 24

// maxNameJumps bounds compression pointer chasing.
const maxNameJumps = 16

// DecodeNetlogonResponse decodes the Netlogon attribute returned by a rootDSE
// LDAP ping. Names use RFC 1035 label compression relative to the start of b.
func DecodeNetlogonResponse(b []byte) (*NetlogonResponse, error) {
	if len(b) < netlogonFixedLength {
		return nil, malformed("netlogon response", 0, "need %d bytes, have %d", netlogonFixedLength, len(b))
	}

	resp := &NetlogonResponse{
		Opcode: binary.LittleEndian.Uint16(b),
		Flags:  binary.LittleEndian.Uint32(b[4:]),
	}
	if resp.Opcode != NetlogonOpcodeLogonResponseEx && resp.Opcode != NetlogonOpcodeUserUnknownEx {
		return &NetlogonResponse{}, nil
	}

	guid, err := DecodeGUID(b[8:24])
	if err != nil {
		return resp, err
	}
	resp.DomainGUID = guid

	fields := []*string{
		&resp.DNSForestName,
		&resp.DNSDomainName,
		&resp.DNSHostName,
		&resp.NetBIOSDomainName,
		&resp.NetBIOSComputerName,
		&resp.UserName,
		&resp.DCSiteName,
		&resp.ClientSiteName,
	}

	pos := netlogonFixedLength
	for _, field := range fields {
		name, next, err := decodeCompressedName(b, pos)
		if err != nil {
			return resp, err
		}
		*field = name
		pos = next
	}

	return resp, nil
}

// decodeCompressedName reads a possibly compressed name at pos and returns it
// with the offset just past its in-place encoding.
func decodeCompressedName(b []byte, pos int) (string, int, error) {
	var labels []string
	next := -1
	jumps := 0

	for {
		if pos >= len(b) {
			return "", 0, malformed("netlogon response", pos, "name truncated")
		}

		n := int(b[pos])
		switch {
		case n == 0:
			if next < 0 {
				next = pos + 1
			}
			return strings.Join(labels, "."), next, nil

		case n&0xC0 == 0xC0:
			if pos+1 >= len(b) {
				return "", 0, malformed("netlogon response", pos, "compression pointer truncated")
			}
			if next < 0 {
				next = pos + 2
			}
			jumps++
			if jumps > maxNameJumps {
				return "", 0, malformed("netlogon response", pos, "too many compression pointers")
			}
			pos = int(binary.BigEndian.Uint16(b[pos:]) & 0x3FFF)

		default:
			if pos+1+n > len(b) {
				return "", 0, malformed("netlogon response", pos, "label declares %d bytes", n)
			}
			labels = append(labels, string(b[pos+1:pos+1+n]))
			pos += 1 + n
		}
	}
}
