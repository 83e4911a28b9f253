package dclocator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/adscan/internal/adbinary"
	adldap "github.com/isometry/adscan/internal/ldap"
)

const logSubsystem = "dclocator"

// DefaultPingTimeout bounds each LDAP ping.
const DefaultPingTimeout = 5 * time.Second

type pingFunc func(ctx context.Context, server *adldap.ServerInfo, domain string, timeout time.Duration) (*adbinary.NetlogonResponse, error)

// Options configures a DNSService.
type Options struct {
	// Resolver answers SRV queries. Nil uses net.DefaultResolver.
	Resolver adldap.Resolver

	// DNSSuffixes are appended to flat (NetBIOS) names to form candidate
	// DNS domains. Each suffix is also tried on its own.
	DNSSuffixes []string

	// PingTimeout bounds each LDAP ping. Zero uses DefaultPingTimeout.
	PingTimeout time.Duration
}

// DNSService locates domain controllers through the
// _ldap._tcp.dc._msdcs.<domain> SRV records, confirming each candidate with
// an LDAP ping. Successful lookups are cached until ForceRediscovery is
// requested for the same name.
type DNSService struct {
	discovery *adldap.SRVDiscovery
	ping      pingFunc
	suffixes  []string
	timeout   time.Duration

	mu    sync.Mutex
	cache map[string]*DCInfo
}

var _ Service = (*DNSService)(nil)

// NewDNSService returns a DNSService configured by opts.
func NewDNSService(opts Options) *DNSService {
	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	suffixes := make([]string, 0, len(opts.DNSSuffixes))
	for _, s := range opts.DNSSuffixes {
		if s = strings.Trim(strings.TrimSpace(s), "."); s != "" {
			suffixes = append(suffixes, strings.ToLower(s))
		}
	}
	return &DNSService{
		discovery: adldap.NewSRVDiscovery(opts.Resolver),
		ping:      adldap.NetlogonPing,
		suffixes:  suffixes,
		timeout:   timeout,
		cache:     make(map[string]*DCInfo),
	}
}

// GetDCName locates a domain controller for name. Lookup failures are
// reported through the status: StatusNoSuchDomain only when DNS answers that
// no candidate domain exists, StatusNetworkUnreached when the resolver
// itself failed. The error is reserved for cancellation.
func (s *DNSService) GetDCName(ctx context.Context, name string, flags Flags) (*DCInfo, Status, error) {
	if err := flags.validate(); err != nil {
		tflog.SubsystemDebug(ctx, logSubsystem, "Rejected lookup flags", map[string]any{"error": err.Error()})
		return nil, StatusInvalidFlags, nil
	}
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" {
		return nil, StatusInvalidName, nil
	}

	flat := flags.Has(IsFlatName) || (!flags.Has(IsDNSName) && !strings.Contains(name, "."))
	key := cacheKey(name, flat, flags)

	var avoid string
	s.mu.Lock()
	if cached, ok := s.cache[key]; ok {
		if !flags.Has(ForceRediscovery) {
			s.mu.Unlock()
			return cached, StatusSuccess, nil
		}
		avoid = cached.DomainControllerName
		delete(s.cache, key)
	}
	s.mu.Unlock()

	start := time.Now()
	sawDomain, dnsFailed := false, false
	for _, domain := range s.candidates(name, flat) {
		servers, err := s.discovery.LookupSRV(ctx, "_ldap._tcp.dc._msdcs."+domain, false)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, StatusNetworkUnreached, ctxErr
			}
			if !isNotFound(err) {
				tflog.SubsystemWarn(ctx, logSubsystem, "SRV lookup failed", map[string]any{
					"domain": domain,
					"error":  err.Error(),
				})
				dnsFailed = true
			}
			continue
		}
		sawDomain = true

		for _, server := range preferOthers(servers, avoid) {
			resp, err := s.ping(ctx, server, domain, s.timeout)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, StatusNetworkUnreached, ctxErr
				}
				tflog.SubsystemDebug(ctx, logSubsystem, "LDAP ping failed", map[string]any{
					"host":  server.Host,
					"error": err.Error(),
				})
				continue
			}
			if reason := rejectReason(resp, name, domain, flat, flags); reason != "" {
				tflog.SubsystemDebug(ctx, logSubsystem, "Skipping domain controller", map[string]any{
					"host":   server.Host,
					"reason": reason,
				})
				continue
			}

			info := dcInfo(resp, server)
			s.mu.Lock()
			s.cache[key] = info
			s.mu.Unlock()

			tflog.SubsystemDebug(ctx, logSubsystem, "Located domain controller", map[string]any{
				"name":     name,
				"flags":    flags.String(),
				"host":     info.DomainControllerName,
				"domain":   info.DomainName,
				"site":     info.DCSiteName,
				"duration": time.Since(start).String(),
			})
			return info, StatusSuccess, nil
		}
	}

	switch {
	case sawDomain:
		return nil, StatusNoLogonServers, nil
	case dnsFailed:
		return nil, StatusNetworkUnreached, nil
	default:
		return nil, StatusNoSuchDomain, nil
	}
}

// isNotFound reports whether an SRV lookup failed because the name does
// not exist or has no records, as opposed to the resolver being unusable.
func isNotFound(err error) bool {
	if errors.Is(err, adldap.ErrNoSRVRecords) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

// candidates lists the DNS domains to query for name.
func (s *DNSService) candidates(name string, flat bool) []string {
	name = strings.ToLower(name)
	if !flat {
		return []string{name}
	}
	if len(s.suffixes) == 0 {
		return []string{name}
	}

	seen := make(map[string]bool)
	var out []string
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	for _, suffix := range s.suffixes {
		add(name + "." + suffix)
		add(suffix)
	}
	return out
}

func cacheKey(name string, flat bool, flags Flags) string {
	kind := "dns"
	if flat {
		kind = "flat"
	}
	req := flags & (OnlyLDAPNeeded | WebServiceRequired)
	return fmt.Sprintf("%s:%s:%x", kind, strings.ToLower(name), uint32(req))
}

// preferOthers moves the server named avoid to the end of servers.
func preferOthers(servers []*adldap.ServerInfo, avoid string) []*adldap.ServerInfo {
	if avoid == "" {
		return servers
	}
	out := make([]*adldap.ServerInfo, 0, len(servers))
	var last []*adldap.ServerInfo
	for _, s := range servers {
		if strings.EqualFold(s.Host, avoid) {
			last = append(last, s)
			continue
		}
		out = append(out, s)
	}
	return append(out, last...)
}

func rejectReason(resp *adbinary.NetlogonResponse, name, domain string, flat bool, flags Flags) string {
	if resp.Opcode != adbinary.NetlogonOpcodeLogonResponseEx && resp.Opcode != adbinary.NetlogonOpcodeUserUnknownEx {
		return "unexpected response opcode"
	}
	if flags.Has(OnlyLDAPNeeded) {
		if resp.Flags&adbinary.NetlogonFlagLDAP == 0 {
			return "not an LDAP server"
		}
	} else if resp.Flags&adbinary.NetlogonFlagDS == 0 {
		return "not a directory service"
	}
	if flags.Has(WebServiceRequired) && resp.Flags&adbinary.NetlogonFlagADWS == 0 {
		return "web services not running"
	}
	if flat {
		if !strings.EqualFold(resp.NetBIOSDomainName, name) && !strings.EqualFold(resp.DNSDomainName, name) {
			return "flat name mismatch"
		}
	} else if !strings.EqualFold(resp.DNSDomainName, domain) {
		return "DNS domain mismatch"
	}
	return ""
}

func dcInfo(resp *adbinary.NetlogonResponse, server *adldap.ServerInfo) *DCInfo {
	host := resp.DNSHostName
	if host == "" {
		host = server.Host
	}
	return &DCInfo{
		DomainControllerName: host,
		Port:                 server.Port,
		DomainName:           resp.DNSDomainName,
		ForestName:           resp.DNSForestName,
		NetBIOSDomainName:    resp.NetBIOSDomainName,
		DomainGUID:           resp.DomainGUID,
		DCSiteName:           resp.DCSiteName,
		ClientSiteName:       resp.ClientSiteName,
		Flags:                resp.Flags,
	}
}
