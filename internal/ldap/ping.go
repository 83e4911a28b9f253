package ldap

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/adscan/internal/adbinary"
	"github.com/isometry/adscan/internal/directory"
)

// ntVer5EX asks for a NETLOGON_SAM_LOGON_RESPONSE_EX (NETLOGON_NT_VERSION_5
// and NETLOGON_NT_VERSION_5EX), little-endian.
const ntVer5EX = `\06\00\00\00`

// NetlogonPing performs an LDAP ping against server: an anonymous rootDSE
// search for the Netlogon attribute, filtered by DNS domain.
func NetlogonPing(ctx context.Context, server *ServerInfo, domain string, timeout time.Duration) (*adbinary.NetlogonResponse, error) {
	if err := ValidateServerInfo(server); err != nil {
		return nil, directory.NewError(directory.KindInvalidInput, directory.BackendLDAP, "netlogon ping", err)
	}

	addr := "ldap://" + net.JoinHostPort(server.Host, strconv.Itoa(server.Port))
	dialer := &net.Dialer{Timeout: timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	c, err := ldap.DialURL(addr, ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, wrapError("netlogon ping", err)
	}
	defer c.Close()
	c.SetTimeout(timeout)

	return netlogonPing(ctx, c, domain)
}

func netlogonPing(ctx context.Context, c conn, domain string) (*adbinary.NetlogonResponse, error) {
	filter := "(&(DnsDomain=" + directory.EscapeFilterValue(domain) + ")(NtVer=" + ntVer5EX + "))"
	res, err := c.Search(ldap.NewSearchRequest(
		"", ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		filter, []string{"Netlogon"}, nil,
	))
	if err != nil {
		return nil, wrapError("netlogon ping", err)
	}
	if len(res.Entries) == 0 {
		return nil, directory.Errorf(directory.KindNotFound, directory.BackendLDAP, "netlogon ping", "no response for domain %s", domain)
	}

	raw := res.Entries[0].GetRawAttributeValue("Netlogon")
	if len(raw) == 0 {
		return nil, directory.Errorf(directory.KindNotFound, directory.BackendLDAP, "netlogon ping", "no Netlogon attribute for domain %s", domain)
	}

	resp, err := adbinary.DecodeNetlogonResponse(raw)
	if err != nil {
		return nil, directory.NewError(directory.KindMalformed, directory.BackendLDAP, "netlogon ping", fmt.Errorf("decode response: %w", err))
	}

	tflog.SubsystemDebug(ctx, logSubsystem, "LDAP ping answered", map[string]any{
		"domain":    resp.DNSDomainName,
		"forest":    resp.DNSForestName,
		"host":      resp.DNSHostName,
		"site":      resp.DCSiteName,
		"flags":     fmt.Sprintf("0x%08x", resp.Flags),
		"requested": domain,
	})
	return resp, nil
}
