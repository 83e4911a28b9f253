package ldap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ErrNoSRVRecords is returned when an SRV name resolves to no records.
var ErrNoSRVRecords = errors.New("no SRV records found")

// Resolver is the subset of *net.Resolver used for SRV discovery.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// SRVDiscovery handles DNS SRV record discovery for domain controllers.
type SRVDiscovery struct {
	resolver Resolver
}

// NewSRVDiscovery creates a new SRV discovery instance. A nil resolver uses
// net.DefaultResolver.
func NewSRVDiscovery(resolver Resolver) *SRVDiscovery {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &SRVDiscovery{resolver: resolver}
}

// DiscoverServers discovers LDAP servers for a domain using SRV records.
// Lookups are tried in order and stop at the first that yields servers:
//  1. _ldap._tcp.dc._msdcs.<domain> (domain controllers)
//  2. _ldaps._tcp.<domain>
//  3. _ldap._tcp.<domain>
//
// When nothing resolves the domain name itself is returned on the standard
// ports.
func (d *SRVDiscovery) DiscoverServers(ctx context.Context, domain string, useTLS bool) ([]*ServerInfo, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}

	start := time.Now()
	srvRecords := []struct {
		name   string
		useTLS bool
	}{
		{"_ldap._tcp.dc._msdcs." + domain, false},
		{"_ldaps._tcp." + domain, true},
		{"_ldap._tcp." + domain, false},
	}

	for _, record := range srvRecords {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		servers, err := d.LookupSRV(ctx, record.name, record.useTLS)
		if err != nil {
			continue
		}

		if useTLS {
			for _, s := range servers {
				if !s.UseTLS && s.Port == 389 {
					s.Port = 636
				}
				s.UseTLS = true
			}
		}

		tflog.SubsystemDebug(ctx, logSubsystem, "Server discovery completed", map[string]any{
			"domain":       domain,
			"service":      record.name,
			"duration":     time.Since(start).String(),
			"server_count": len(servers),
		})
		return servers, nil
	}

	tflog.SubsystemDebug(ctx, logSubsystem, "No SRV records found, using fallback servers", map[string]any{
		"domain":   domain,
		"duration": time.Since(start).String(),
	})
	return createFallbackServers(domain, useTLS), nil
}

// LookupSRV resolves one SRV name into servers sorted by priority and weight.
func (d *SRVDiscovery) LookupSRV(ctx context.Context, name string, useTLS bool) ([]*ServerInfo, error) {
	_, records, err := d.resolver.LookupSRV(ctx, "", "", name)
	if err != nil {
		tflog.SubsystemTrace(ctx, logSubsystem, "SRV lookup failed", map[string]any{
			"service": name,
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("SRV lookup failed for %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoSRVRecords, name)
	}

	servers := make([]*ServerInfo, 0, len(records))
	for _, srv := range records {
		servers = append(servers, &ServerInfo{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     int(srv.Port),
			UseTLS:   useTLS,
			Priority: int(srv.Priority),
			Weight:   int(srv.Weight),
			Source:   "srv",
		})
	}
	sortServersByPriority(servers)
	return servers, nil
}

// createFallbackServers creates fallback servers when SRV discovery fails.
func createFallbackServers(domain string, useTLS bool) []*ServerInfo {
	if useTLS {
		return []*ServerInfo{{Host: domain, Port: 636, UseTLS: true, Weight: 100, Source: "fallback"}}
	}
	return []*ServerInfo{{Host: domain, Port: 389, Weight: 100, Source: "fallback"}}
}

// sortServersByPriority sorts servers by priority and weight according to RFC 2782.
func sortServersByPriority(servers []*ServerInfo) {
	sort.SliceStable(servers, func(i, j int) bool {
		if servers[i].Priority != servers[j].Priority {
			return servers[i].Priority < servers[j].Priority
		}
		return servers[i].Weight > servers[j].Weight
	})
}

// ValidateServerInfo validates server information.
func ValidateServerInfo(server *ServerInfo) error {
	if server == nil {
		return fmt.Errorf("server info cannot be nil")
	}

	if server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if server.Port <= 0 || server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", server.Port)
	}

	if server.Priority < 0 {
		return fmt.Errorf("priority cannot be negative: %d", server.Priority)
	}

	if server.Weight < 0 {
		return fmt.Errorf("weight cannot be negative: %d", server.Weight)
	}

	return nil
}

// ServerInfoToURL converts ServerInfo to LDAP URL.
func ServerInfoToURL(server *ServerInfo) string {
	scheme := "ldap"
	if server.UseTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(server.Host, strconv.Itoa(server.Port)))
}

// ParseLDAPURL parses an LDAP URL into ServerInfo.
func ParseLDAPURL(rawURL string) (*ServerInfo, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL: %w", err)
	}

	var useTLS bool
	var port int
	switch u.Scheme {
	case "ldaps":
		useTLS, port = true, 636
	case "ldap":
		port = 389
	default:
		return nil, fmt.Errorf("unsupported scheme, must be ldap:// or ldaps://")
	}

	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %s", p)
		}
	}

	server := &ServerInfo{
		Host:   u.Hostname(),
		Port:   port,
		UseTLS: useTLS,
		Weight: 100,
		Source: "config",
	}

	return server, ValidateServerInfo(server)
}
