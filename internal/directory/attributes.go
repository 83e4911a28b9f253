package directory

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/adscan/internal/adbinary"
)

// Generalized time as returned for whenCreated and whenChanged.
const (
	generalizedTimeLayout        = "20060102150405.0Z"
	generalizedTimeLayoutNoFract = "20060102150405Z"
)

// value is one attribute value as delivered by a wire format. when is set
// only for values the wire already typed as a timestamp.
type value struct {
	data []byte
	when time.Time
}

func (v value) text() string {
	return string(v.data)
}

// attribute binds a directory attribute name to the Item field it fills.
type attribute struct {
	name   string
	binary bool // value text is base64 in the XML form
	apply  func(ctx context.Context, item *Item, values []value) error
}

func stringAttr(name string, field func(*Item) *string) attribute {
	return attribute{name: name, apply: func(_ context.Context, item *Item, values []value) error {
		*field(item) = values[0].text()
		return nil
	}}
}

func lowerStringAttr(name string, field func(*Item) *string) attribute {
	return attribute{name: name, apply: func(_ context.Context, item *Item, values []value) error {
		*field(item) = strings.ToLower(values[0].text())
		return nil
	}}
}

func intAttr(name string, field func(*Item) *int64) attribute {
	return attribute{name: name, apply: func(_ context.Context, item *Item, values []value) error {
		n, err := strconv.ParseInt(strings.TrimSpace(values[0].text()), 10, 64)
		if err != nil {
			return fmt.Errorf("parse integer: %w", err)
		}
		*field(item) = n
		return nil
	}}
}

func fileTimeAttr(name string, field func(*Item) *time.Time) attribute {
	return attribute{name: name, apply: func(_ context.Context, item *Item, values []value) error {
		if !values[0].when.IsZero() {
			*field(item) = values[0].when
			return nil
		}
		*field(item) = adbinary.ParseFileTime(values[0].text())
		return nil
	}}
}

func generalizedTimeAttr(name string, field func(*Item) *time.Time) attribute {
	return attribute{name: name, apply: func(_ context.Context, item *Item, values []value) error {
		if !values[0].when.IsZero() {
			*field(item) = values[0].when.UTC()
			return nil
		}
		t, err := ParseGeneralizedTime(values[0].text())
		if err != nil {
			return err
		}
		*field(item) = t
		return nil
	}}
}

func listAttr(name string, field func(*Item) *[]string) attribute {
	return attribute{name: name, apply: func(_ context.Context, item *Item, values []value) error {
		list := make([]string, 0, len(values))
		for _, v := range values {
			list = append(list, v.text())
		}
		*field(item) = list
		return nil
	}}
}

func sidAttr(name string, field func(*Item) *string) attribute {
	return attribute{name: name, binary: true, apply: func(_ context.Context, item *Item, values []value) error {
		sid, _, err := adbinary.DecodeSID(values[0].data, 0)
		if err != nil {
			return err
		}
		*field(item) = sid
		return nil
	}}
}

func guidAttr(name string, field func(*Item) *uuid.UUID) attribute {
	return attribute{name: name, binary: true, apply: func(_ context.Context, item *Item, values []value) error {
		u, err := adbinary.DecodeGUID(values[0].data)
		if err != nil {
			return err
		}
		*field(item) = u
		return nil
	}}
}

func securityDescriptorAttr(name string, field func(*Item) **adbinary.SecurityDescriptor) attribute {
	return attribute{name: name, binary: true, apply: func(_ context.Context, item *Item, values []value) error {
		sd, err := adbinary.DecodeSecurityDescriptor(values[0].data)
		if sd != nil {
			*field(item) = sd
		}
		return err
	}}
}

// attributeTable lists every attribute extraction understands. Both wire
// forms resolve names against it.
var attributeTable = []attribute{
	stringAttr("distinguishedName", func(i *Item) *string { return &i.DistinguishedName }),
	stringAttr("name", func(i *Item) *string { return &i.Name }),
	stringAttr("cn", func(i *Item) *string { return &i.CN }),
	stringAttr("sAMAccountName", func(i *Item) *string { return &i.SAMAccountName }),
	stringAttr("displayName", func(i *Item) *string { return &i.DisplayName }),
	stringAttr("description", func(i *Item) *string { return &i.Description }),
	stringAttr("userPrincipalName", func(i *Item) *string { return &i.UserPrincipalName }),
	stringAttr("dNSHostName", func(i *Item) *string { return &i.DNSHostName }),
	lowerStringAttr("dnsRoot", func(i *Item) *string { return &i.DNSRoot }),
	stringAttr("nETBIOSName", func(i *Item) *string { return &i.NetBIOSName }),
	stringAttr("flatName", func(i *Item) *string { return &i.FlatName }),
	stringAttr("operatingSystem", func(i *Item) *string { return &i.OperatingSystem }),
	stringAttr("operatingSystemVersion", func(i *Item) *string { return &i.OperatingSystemVersion }),
	stringAttr("scriptPath", func(i *Item) *string { return &i.ScriptPath }),
	stringAttr("gPCFileSysPath", func(i *Item) *string { return &i.GPCFileSysPath }),
	stringAttr("gPLink", func(i *Item) *string { return &i.GPLink }),
	stringAttr("dSHeuristics", func(i *Item) *string { return &i.DSHeuristics }),
	lowerStringAttr("trustPartner", func(i *Item) *string { return &i.TrustPartner }),
	stringAttr("lDAPDisplayName", func(i *Item) *string { return &i.LDAPDisplayName }),
	stringAttr("objectCategory", func(i *Item) *string { return &i.ObjectCategory }),
	stringAttr("managedBy", func(i *Item) *string { return &i.ManagedBy }),

	intAttr("userAccountControl", func(i *Item) *int64 { return &i.UserAccountControl }),
	intAttr("primaryGroupID", func(i *Item) *int64 { return &i.PrimaryGroupID }),
	intAttr("adminCount", func(i *Item) *int64 { return &i.AdminCount }),
	intAttr("groupType", func(i *Item) *int64 { return &i.GroupType }),
	intAttr("sAMAccountType", func(i *Item) *int64 { return &i.SAMAccountType }),
	intAttr("trustAttributes", func(i *Item) *int64 { return &i.TrustAttributes }),
	intAttr("trustDirection", func(i *Item) *int64 { return &i.TrustDirection }),
	intAttr("trustType", func(i *Item) *int64 { return &i.TrustType }),
	intAttr("gPOptions", func(i *Item) *int64 { return &i.GPOptions }),
	intAttr("objectVersion", func(i *Item) *int64 { return &i.ObjectVersion }),
	intAttr("msDS-SupportedEncryptionTypes", func(i *Item) *int64 { return &i.SupportedEncryptionTypes }),
	intAttr("msDS-Behavior-Version", func(i *Item) *int64 { return &i.FunctionalLevel }),
	intAttr("systemFlags", func(i *Item) *int64 { return &i.SystemFlags }),
	intAttr("ms-DS-MachineAccountQuota", func(i *Item) *int64 { return &i.MachineAccountQuota }),
	intAttr("revision", func(i *Item) *int64 { return &i.RevisionLevel }),

	fileTimeAttr("lastLogon", func(i *Item) *time.Time { return &i.LastLogon }),
	fileTimeAttr("lastLogonTimestamp", func(i *Item) *time.Time { return &i.LastLogonTimestamp }),
	fileTimeAttr("pwdLastSet", func(i *Item) *time.Time { return &i.PwdLastSet }),
	fileTimeAttr("accountExpires", func(i *Item) *time.Time { return &i.AccountExpires }),
	fileTimeAttr("badPasswordTime", func(i *Item) *time.Time { return &i.BadPasswordTime }),
	fileTimeAttr("ms-Mcs-AdmPwdExpirationTime", func(i *Item) *time.Time { return &i.LAPSExpirationTime }),

	generalizedTimeAttr("whenCreated", func(i *Item) *time.Time { return &i.WhenCreated }),
	generalizedTimeAttr("whenChanged", func(i *Item) *time.Time { return &i.WhenChanged }),

	listAttr("member", func(i *Item) *[]string { return &i.Member }),
	listAttr("memberOf", func(i *Item) *[]string { return &i.MemberOf }),
	listAttr("servicePrincipalName", func(i *Item) *[]string { return &i.ServicePrincipalName }),
	listAttr("msDS-AllowedToDelegateTo", func(i *Item) *[]string { return &i.AllowedToDelegateTo }),

	{name: "objectClass", apply: applyObjectClass},

	sidAttr("objectSid", func(i *Item) *string { return &i.ObjectSID }),
	sidAttr("securityIdentifier", func(i *Item) *string { return &i.SecurityIdentifier }),
	{name: "sIDHistory", binary: true, apply: applySIDHistory},

	guidAttr("objectGUID", func(i *Item) *uuid.UUID { return &i.ObjectGUID }),
	guidAttr("schemaIDGUID", func(i *Item) *uuid.UUID { return &i.SchemaIDGUID }),

	securityDescriptorAttr("nTSecurityDescriptor", func(i *Item) **adbinary.SecurityDescriptor { return &i.SecurityDescriptor }),
	securityDescriptorAttr("msDS-AllowedToActOnBehalfOfOtherIdentity", func(i *Item) **adbinary.SecurityDescriptor { return &i.AllowedToActOnBehalfOf }),

	{name: "cACertificate", binary: true, apply: applyCertificates},
	{name: "userCertificate", binary: true, apply: applyCertificates},

	{name: "msDS-TrustForestTrustInfo", binary: true, apply: applyTrustForestInfo},
	{name: "replPropertyMetaData", binary: true, apply: applyReplicationMetadata},
	{name: "schemaInfo", binary: true, apply: applySchemaInfo},
}

var (
	attributesByName  = make(map[string]*attribute, len(attributeTable))
	attributesByLower = make(map[string]*attribute, len(attributeTable))
)

func init() {
	for i := range attributeTable {
		a := &attributeTable[i]
		attributesByName[a.name] = a
		attributesByLower[strings.ToLower(a.name)] = a
	}
}

// KnownAttributes returns the names extraction understands, in table order.
func KnownAttributes() []string {
	names := make([]string, 0, len(attributeTable))
	for _, a := range attributeTable {
		names = append(names, a.name)
	}
	return names
}

// applyAttribute runs a table entry and logs instead of failing: a bad
// attribute never costs the whole object.
func applyAttribute(ctx context.Context, item *Item, a *attribute, values []value) {
	if len(values) == 0 {
		return
	}
	if err := a.apply(ctx, item, values); err != nil {
		tflog.SubsystemWarn(ctx, logSubsystem, "Failed to decode attribute", map[string]any{
			"attribute": a.name,
			"dn":        item.DistinguishedName,
			"error":     err.Error(),
		})
	}
}

func applyObjectClass(_ context.Context, item *Item, values []value) error {
	classes := make([]string, 0, len(values))
	for _, v := range values {
		classes = append(classes, v.text())
	}
	item.ObjectClasses = classes
	item.Class = strings.ToLower(classes[len(classes)-1])
	return nil
}

func applySIDHistory(_ context.Context, item *Item, values []value) error {
	var errs []error
	for _, v := range values {
		sid, _, err := adbinary.DecodeSID(v.data, 0)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		item.SIDHistory = append(item.SIDHistory, sid)
	}
	return errors.Join(errs...)
}

func applyCertificates(ctx context.Context, item *Item, values []value) error {
	for n, v := range values {
		cert, err := x509.ParseCertificate(v.data)
		if err != nil {
			tflog.SubsystemDebug(ctx, logSubsystem, "Skipping undecodable certificate", map[string]any{
				"dn":    item.DistinguishedName,
				"index": n,
				"error": err.Error(),
			})
			continue
		}
		item.Certificates = append(item.Certificates, cert)
	}
	return nil
}

func applyTrustForestInfo(_ context.Context, item *Item, values []value) error {
	info, err := adbinary.DecodeTrustForestInfo(values[0].data)
	item.TrustForestInfo = info
	return err
}

func applyReplicationMetadata(_ context.Context, item *Item, values []value) error {
	meta, err := adbinary.DecodeReplicationMetadata(values[0].data)
	item.ReplicationMetadata = meta
	return err
}

func applySchemaInfo(_ context.Context, item *Item, values []value) error {
	info, err := adbinary.DecodeSchemaInfo(values[0].data)
	if err != nil {
		return err
	}
	item.SchemaInfo = &info
	return nil
}

// ParseGeneralizedTime parses the directory's textual timestamp form.
func ParseGeneralizedTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(generalizedTimeLayout, s)
	if err == nil {
		return t, nil
	}
	if t, err2 := time.Parse(generalizedTimeLayoutNoFract, s); err2 == nil {
		return t, nil
	}
	return adbinary.UnsetTime, fmt.Errorf("parse generalized time %q: %w", s, err)
}

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
