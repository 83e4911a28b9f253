package directory

import (
	"context"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Attribute is one attribute with its raw values, as an LDAP entry carries it.
type Attribute struct {
	Name   string
	Values [][]byte
}

// ItemFromAttributes decodes an attribute/value entry. Names match
// case-insensitively. Unknown attributes are logged at trace and ignored.
func ItemFromAttributes(ctx context.Context, dn string, attrs []Attribute) (*Item, error) {
	if dn == "" && len(attrs) == 0 {
		return nil, Errorf(KindInvalidInput, "", "extract item", "empty entry")
	}

	item := &Item{DistinguishedName: dn}

	for _, attr := range attrs {
		a, ok := attributesByLower[strings.ToLower(attr.Name)]
		if !ok {
			tflog.SubsystemTrace(ctx, logSubsystem, "Ignoring unknown attribute", map[string]any{
				"attribute": attr.Name,
				"dn":        dn,
			})
			continue
		}

		values := make([]value, 0, len(attr.Values))
		for _, raw := range attr.Values {
			values = append(values, value{data: raw})
		}
		applyAttribute(ctx, item, a, values)
	}

	if item.DistinguishedName == "" {
		item.DistinguishedName = dn
	}
	return item, nil
}
