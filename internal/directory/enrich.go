package directory

import (
	"context"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/adscan/internal/domainkey"
)

// ResolveDomainSID reads objectSid from the domain head and records it on
// info. It returns the SID already held when info was enriched before.
func ResolveDomainSID(ctx context.Context, e Enumerator, info *Info) (string, error) {
	if sid := info.DomainSID(); sid != "" {
		return sid, nil
	}

	var sid string
	req := SearchRequest{
		BaseDN:     info.DefaultNamingContext,
		Filter:     "(objectClass=*)",
		Attributes: []string{"objectSid"},
		Scope:      ScopeBase,
	}
	if err := e.Enumerate(ctx, req, func(item *Item) error {
		sid = item.ObjectSID
		return nil
	}); err != nil {
		return "", err
	}

	if sid == "" {
		return "", Errorf(KindNotFound, "", "resolve domain SID", "no objectSid on %s", info.DefaultNamingContext)
	}
	if err := info.SetDomainSID(sid); err != nil {
		return "", err
	}

	tflog.SubsystemDebug(ctx, logSubsystem, "Resolved domain SID", map[string]any{
		"domain": info.DomainName,
		"sid":    sid,
	})
	return info.DomainSID(), nil
}

// ResolveNetBIOSName reads the domain's crossRef under the partitions
// container and records its NetBIOS name on info.
func ResolveNetBIOSName(ctx context.Context, e Enumerator, info *Info) (string, error) {
	if name := info.NetBIOSName(); name != "" {
		return name, nil
	}

	var name string
	req := SearchRequest{
		BaseDN:     "CN=Partitions," + info.ConfigurationNamingContext,
		Filter:     "(&(objectCategory=crossRef)(nCName=" + EscapeFilterValue(info.DefaultNamingContext) + "))",
		Attributes: []string{"nETBIOSName"},
		Scope:      ScopeOneLevel,
	}
	if err := e.Enumerate(ctx, req, func(item *Item) error {
		if item.NetBIOSName != "" {
			name = item.NetBIOSName
		}
		return nil
	}); err != nil {
		return "", err
	}

	if name == "" {
		return "", Errorf(KindNotFound, "", "resolve NetBIOS name", "no crossRef for %s", info.DefaultNamingContext)
	}
	if err := info.SetNetBIOSName(name); err != nil {
		return "", err
	}
	return info.NetBIOSName(), nil
}

// CollectDomains interns the connected domain and every domain it trusts
// into reg: the trust partners under CN=System and the domains named in
// their forest trust records. Partial identities of the same domain merge.
// Trusts whose identity cannot be built are logged and skipped.
func CollectDomains(ctx context.Context, e Enumerator, info *Info, reg *domainkey.Registry) error {
	self, err := info.DomainKey()
	if err != nil {
		return err
	}
	reg.Intern(self)

	req := SearchRequest{
		BaseDN:     "CN=System," + info.DefaultNamingContext,
		Filter:     "(objectClass=trustedDomain)",
		Attributes: []string{"trustPartner", "flatName", "securityIdentifier", "trustDirection", "msDS-TrustForestTrustInfo"},
		Scope:      ScopeOneLevel,
	}
	return e.Enumerate(ctx, req, func(item *Item) error {
		intern := func(name, sid, netbios string) {
			k, err := domainkey.New(name, sid, netbios)
			if err != nil {
				tflog.SubsystemDebug(ctx, logSubsystem, "Skipping trusted domain", map[string]any{
					"dn":    item.DistinguishedName,
					"error": err.Error(),
				})
				return
			}
			reg.Intern(k)
		}

		intern(item.TrustPartner, item.SecurityIdentifier, item.FlatName)
		for _, rec := range item.TrustForestInfo {
			intern(rec.DNSName, rec.SID, rec.NetBIOSName)
		}
		return nil
	})
}
