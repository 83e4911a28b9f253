package directory

import (
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// SplitDN splits a DN into its RDN strings, honouring backslash escapes.
// Components keep their original escaping and are trimmed of spaces.
func SplitDN(dn string) []string {
	var (
		parts   []string
		current strings.Builder
		escaped bool
	)

	for _, r := range dn {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			current.WriteRune(r)
			escaped = true
		case r == ',' || r == ';':
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}

	if last := strings.TrimSpace(current.String()); last != "" || len(parts) > 0 {
		parts = append(parts, last)
	}
	return parts
}

// ReverseDN renders dn with its components in reverse order, so
// "OU=x,DC=y" becomes "DC=y,OU=x".
func ReverseDN(dn string) string {
	parts := SplitDN(dn)
	slices.Reverse(parts)
	return strings.Join(parts, ",")
}

// CompareReversedDN orders DNs by their reversed components, compared one
// component at a time and case-insensitively. A container sorts directly
// before its descendants and siblings under one parent stay contiguous.
func CompareReversedDN(a, b string) int {
	pa := SplitDN(a)
	pb := SplitDN(b)
	slices.Reverse(pa)
	slices.Reverse(pb)

	for i := 0; i < len(pa) && i < len(pb); i++ {
		if c := strings.Compare(strings.ToLower(pa[i]), strings.ToLower(pb[i])); c != 0 {
			return c
		}
	}
	return len(pa) - len(pb)
}

// DNToDNSName converts a naming context such as "DC=corp,DC=example,DC=com"
// or "CN=Configuration,DC=example,DC=com" to its lower-case DNS name.
// Components other than DC are ignored.
func DNToDNSName(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return ""
	}

	var labels []string
	for _, rdn := range parsed.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.EqualFold(attr.Type, "DC") {
				labels = append(labels, attr.Value)
			}
		}
	}
	return strings.ToLower(strings.Join(labels, "."))
}

// DNSNameToDN converts "example.com" to "DC=example,DC=com".
func DNSNameToDN(name string) string {
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" {
		return ""
	}

	labels := strings.Split(name, ".")
	for i, l := range labels {
		labels[i] = "DC=" + l
	}
	return strings.Join(labels, ",")
}
