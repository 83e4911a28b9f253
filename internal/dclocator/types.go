package dclocator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Flags control a domain controller lookup. The values match the
// DsGetDcName DS_* flags.
type Flags uint32

const (
	ForceRediscovery   Flags = 0x00000001
	OnlyLDAPNeeded     Flags = 0x00008000
	IsFlatName         Flags = 0x00010000
	IsDNSName          Flags = 0x00020000
	WebServiceRequired Flags = 0x00100000
	ReturnDNSName      Flags = 0x40000000
	ReturnFlatName     Flags = 0x80000000
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{ForceRediscovery, "force_rediscovery"},
	{OnlyLDAPNeeded, "only_ldap_needed"},
	{IsFlatName, "is_flat_name"},
	{IsDNSName, "is_dns_name"},
	{WebServiceRequired, "web_service_required"},
	{ReturnDNSName, "return_dns_name"},
	{ReturnFlatName, "return_flat_name"},
}

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

func (f Flags) validate() error {
	if f.Has(IsFlatName | IsDNSName) {
		return fmt.Errorf("flags %s: name cannot be both flat and DNS", f)
	}
	if f.Has(ReturnDNSName | ReturnFlatName) {
		return fmt.Errorf("flags %s: cannot return both flat and DNS names", f)
	}
	return nil
}

// Status is the outcome of a lookup, using Win32 error numbers.
type Status uint32

const (
	StatusSuccess          Status = 0
	StatusInvalidFlags     Status = 1004
	StatusNoLogonServers   Status = 1311
	StatusNoSuchDomain     Status = 1355
	StatusInvalidName      Status = 1212
	StatusNetworkUnreached Status = 1231
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidFlags:
		return "invalid flags"
	case StatusNoLogonServers:
		return "no logon servers"
	case StatusNoSuchDomain:
		return "no such domain"
	case StatusInvalidName:
		return "invalid domain name"
	case StatusNetworkUnreached:
		return "network unreachable"
	default:
		return fmt.Sprintf("status %d", uint32(s))
	}
}

// DCInfo describes a located domain controller.
type DCInfo struct {
	DomainControllerName string // DNS host name of the controller
	Port                 int
	DomainName           string // DNS name of the domain
	ForestName           string // DNS name of the forest root domain
	NetBIOSDomainName    string
	DomainGUID           uuid.UUID
	DCSiteName           string
	ClientSiteName       string
	Flags                uint32 // NETLOGON DS_* capability flags
}

// Service locates a domain controller for a domain name.
type Service interface {
	GetDCName(ctx context.Context, name string, flags Flags) (*DCInfo, Status, error)
}
