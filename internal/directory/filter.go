package directory

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/isometry/adscan/internal/adbinary"
)

var filterEscaper = strings.NewReplacer(
	`\`, `\5c`,
	`(`, `\28`,
	`|`, `\7c`,
	`<`, `\3c`,
	`/`, `\2f`,
	`)`, `\29`,
	`=`, `\3d`,
	`~`, `\7e`,
	`&`, `\26`,
	`>`, `\3e`,
	`*`, `\2a`,
)

// EscapeFilterValue escapes s for embedding as a value in an LDAP filter.
func EscapeFilterValue(s string) string {
	return filterEscaper.Replace(s)
}

// BytesToFilter renders raw bytes as a \xx sequence for matching a binary
// attribute in a filter.
func BytesToFilter(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for _, c := range b {
		fmt.Fprintf(&sb, `\%02x`, c)
	}
	return sb.String()
}

// SIDToFilter renders a textual SID in its binary filter form.
func SIDToFilter(sid string) (string, error) {
	b, err := adbinary.EncodeSID(sid)
	if err != nil {
		return "", NewError(KindInvalidInput, "", "encode SID filter", err)
	}
	return BytesToFilter(b), nil
}

// GUIDToFilter renders a GUID in its binary filter form.
func GUIDToFilter(u uuid.UUID) string {
	return BytesToFilter(adbinary.EncodeGUID(u))
}
