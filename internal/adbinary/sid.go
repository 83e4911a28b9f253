package adbinary

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/go-objectsid"
)

// SID binary layout: revision (1), sub-authority count (1), identifier
// authority (6, big-endian), sub-authorities (4 each, little-endian).
const (
	sidHeaderLength      = 8
	sidMaxSubAuthorities = 15
	sidMaxAuthority      = 1<<48 - 1
)

// DecodeSID decodes the binary SID starting at offset and returns its textual
// form along with the number of bytes it occupies.
func DecodeSID(b []byte, offset int) (string, int, error) {
	if offset < 0 || offset+sidHeaderLength > len(b) {
		return "", 0, malformed("sid", offset, "need %d header bytes, have %d", sidHeaderLength, max(len(b)-offset, 0))
	}

	count := int(b[offset+1])
	if count > sidMaxSubAuthorities {
		return "", 0, malformed("sid", offset+1, "sub-authority count %d exceeds %d", count, sidMaxSubAuthorities)
	}

	size := sidHeaderLength + 4*count
	if offset+size > len(b) {
		return "", 0, malformed("sid", offset, "declares %d bytes, have %d", size, len(b)-offset)
	}

	sid := objectsid.Decode(b[offset : offset+size])
	return sid.String(), size, nil
}

// EncodeSID converts a textual SID (S-1-5-21-...) to its binary encoding.
func EncodeSID(text string) ([]byte, error) {
	parts := strings.Split(text, "-")
	if len(parts) < 3 || !strings.EqualFold(parts[0], "S") {
		return nil, fmt.Errorf("invalid SID %q: must have the form S-<revision>-<authority>[-<sub-authority>...]", text)
	}

	revision, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid SID %q: bad revision: %w", text, err)
	}

	authority, err := parseAuthority(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid SID %q: bad authority: %w", text, err)
	}

	subs := parts[3:]
	if len(subs) > sidMaxSubAuthorities {
		return nil, fmt.Errorf("invalid SID %q: %d sub-authorities exceed %d", text, len(subs), sidMaxSubAuthorities)
	}

	out := make([]byte, sidHeaderLength+4*len(subs))
	out[0] = byte(revision)
	out[1] = byte(len(subs))
	for i := range 6 {
		out[2+i] = byte(authority >> (8 * (5 - i)))
	}

	for i, s := range subs {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid SID %q: bad sub-authority %q: %w", text, s, err)
		}
		binary.LittleEndian.PutUint32(out[sidHeaderLength+4*i:], uint32(v))
	}

	return out, nil
}

// parseAuthority accepts the decimal form and the 0x-prefixed hexadecimal form
// Windows uses for authorities that do not fit in 32 bits.
func parseAuthority(s string) (uint64, error) {
	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		v, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, err
	}
	if v > sidMaxAuthority {
		return 0, fmt.Errorf("authority %d exceeds 48 bits", v)
	}
	return v, nil
}

// ValidateSID checks text against the SID grammar. Revision must be 1.
func ValidateSID(text string) error {
	b, err := EncodeSID(text)
	if err != nil {
		return err
	}
	if b[0] != 1 {
		return fmt.Errorf("invalid SID %q: unsupported revision %d", text, b[0])
	}
	return nil
}
