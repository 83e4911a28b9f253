package ldap

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	records map[string][]*net.SRV
	lookups []string
}

func (r *fakeResolver) LookupSRV(_ context.Context, _, _, name string) (string, []*net.SRV, error) {
	r.lookups = append(r.lookups, name)
	if srv, ok := r.records[name]; ok {
		return name, srv, nil
	}
	return "", nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func TestSRVDiscovery_DiscoverServers(t *testing.T) {
	tests := []struct {
		name        string
		records     map[string][]*net.SRV
		useTLS      bool
		wantHosts   []string
		wantPort    int
		wantTLS     bool
		wantSource  string
		wantLookups int
	}{
		{
			name: "domain controller records first",
			records: map[string][]*net.SRV{
				"_ldap._tcp.dc._msdcs.example.com": {
					{Target: "dc02.example.com.", Port: 389, Priority: 10, Weight: 50},
					{Target: "dc01.example.com.", Port: 389, Priority: 0, Weight: 100},
				},
				"_ldaps._tcp.example.com": {{Target: "other.example.com.", Port: 636}},
			},
			wantHosts:   []string{"dc01.example.com", "dc02.example.com"},
			wantPort:    389,
			wantSource:  "srv",
			wantLookups: 1,
		},
		{
			name: "tls upgrades ldap port",
			records: map[string][]*net.SRV{
				"_ldap._tcp.dc._msdcs.example.com": {{Target: "dc01.example.com.", Port: 389}},
			},
			useTLS:      true,
			wantHosts:   []string{"dc01.example.com"},
			wantPort:    636,
			wantTLS:     true,
			wantSource:  "srv",
			wantLookups: 1,
		},
		{
			name: "ldaps records",
			records: map[string][]*net.SRV{
				"_ldaps._tcp.example.com": {{Target: "dc03.example.com.", Port: 636}},
			},
			wantHosts:   []string{"dc03.example.com"},
			wantPort:    636,
			wantTLS:     true,
			wantSource:  "srv",
			wantLookups: 2,
		},
		{
			name:        "fallback to domain name",
			wantHosts:   []string{"example.com"},
			wantPort:    389,
			wantSource:  "fallback",
			wantLookups: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &fakeResolver{records: tt.records}
			servers, err := NewSRVDiscovery(resolver).DiscoverServers(context.Background(), "example.com", tt.useTLS)
			require.NoError(t, err)

			var hosts []string
			for _, s := range servers {
				hosts = append(hosts, s.Host)
				assert.Equal(t, tt.wantPort, s.Port)
				assert.Equal(t, tt.wantTLS, s.UseTLS)
				assert.Equal(t, tt.wantSource, s.Source)
				assert.NoError(t, ValidateServerInfo(s))
			}
			assert.Equal(t, tt.wantHosts, hosts)
			assert.Len(t, resolver.lookups, tt.wantLookups)
		})
	}
}

func TestSRVDiscovery_EmptyDomain(t *testing.T) {
	_, err := NewSRVDiscovery(&fakeResolver{}).DiscoverServers(context.Background(), "", false)
	assert.Error(t, err)
}

func TestSRVDiscovery_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSRVDiscovery(&fakeResolver{}).DiscoverServers(ctx, "example.com", false)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParseLDAPURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    *ServerInfo
		wantErr bool
	}{
		{
			name: "ldaps with port",
			url:  "ldaps://dc1.example.com:636",
			want: &ServerInfo{Host: "dc1.example.com", Port: 636, UseTLS: true, Weight: 100, Source: "config"},
		},
		{
			name: "ldap default port",
			url:  "ldap://dc1.example.com",
			want: &ServerInfo{Host: "dc1.example.com", Port: 389, Weight: 100, Source: "config"},
		},
		{
			name: "ldaps default port with path",
			url:  "ldaps://dc1.example.com/DC=example,DC=com",
			want: &ServerInfo{Host: "dc1.example.com", Port: 636, UseTLS: true, Weight: 100, Source: "config"},
		},
		{
			name: "global catalog",
			url:  "ldap://gc.example.com:3268",
			want: &ServerInfo{Host: "gc.example.com", Port: 3268, Weight: 100, Source: "config"},
		},
		{name: "empty", url: "", wantErr: true},
		{name: "wrong scheme", url: "https://dc1.example.com", wantErr: true},
		{name: "missing host", url: "ldap://:389", wantErr: true},
		{name: "port out of range", url: "ldap://dc1.example.com:70000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLDAPURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServerInfoToURL(t *testing.T) {
	assert.Equal(t, "ldaps://dc1.example.com:636", ServerInfoToURL(&ServerInfo{Host: "dc1.example.com", Port: 636, UseTLS: true}))
	assert.Equal(t, "ldap://[::1]:389", ServerInfoToURL(&ServerInfo{Host: "::1", Port: 389}))
}
