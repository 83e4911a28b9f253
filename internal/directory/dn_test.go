package directory

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitDN(t *testing.T) {
	tests := []struct {
		dn   string
		want []string
	}{
		{dn: "OU=x,DC=y", want: []string{"OU=x", "DC=y"}},
		{dn: `CN=Doe\, Jane,OU=Users, DC=example,DC=com`, want: []string{`CN=Doe\, Jane`, "OU=Users", "DC=example", "DC=com"}},
		{dn: `CN=back\\slash,DC=com`, want: []string{`CN=back\\slash`, "DC=com"}},
		{dn: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.dn, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitDN(tt.dn))
		})
	}
}

func TestReverseDN(t *testing.T) {
	assert.Equal(t, "DC=y,OU=x", ReverseDN("OU=x,DC=y"))
	assert.Equal(t, `DC=com,DC=example,CN=Doe\, Jane`, ReverseDN(`CN=Doe\, Jane,DC=example,DC=com`))
}

func TestCompareReversedDN(t *testing.T) {
	assert.Zero(t, CompareReversedDN("OU=x,DC=y", "ou=X,dc=Y"))
	assert.Negative(t, CompareReversedDN("DC=y", "OU=x,DC=y"), "parent sorts before child")
	assert.Positive(t, CompareReversedDN("OU=a,OU=b,DC=y", "OU=b,DC=y"), "child sorts after parent")

	// A comma sorts below letters, so string comparison of reversed DNs
	// would place "OU=a-b" between "OU=a" and its children.
	dns := []string{
		"OU=child,OU=a,DC=y",
		"OU=a-b,DC=y",
		"OU=a,DC=y",
	}
	slices.SortFunc(dns, CompareReversedDN)
	assert.Equal(t, []string{"OU=a,DC=y", "OU=child,OU=a,DC=y", "OU=a-b,DC=y"}, dns)
}

func TestDNToDNSName(t *testing.T) {
	tests := []struct {
		dn   string
		want string
	}{
		{dn: "DC=Corp,DC=Example,DC=COM", want: "corp.example.com"},
		{dn: "CN=Configuration,DC=example,DC=com", want: "example.com"},
		{dn: "CN=Schema,CN=Configuration,DC=example,DC=com", want: "example.com"},
		{dn: "", want: ""},
		{dn: "not a dn", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.dn, func(t *testing.T) {
			assert.Equal(t, tt.want, DNToDNSName(tt.dn))
		})
	}
}

func TestDNSNameToDN(t *testing.T) {
	assert.Equal(t, "DC=example,DC=com", DNSNameToDN("example.com."))
	assert.Empty(t, DNSNameToDN(" "))
}
