package directory

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/isometry/adscan/internal/domainkey"
)

// RootAttributes are the rootDSE attributes read by ResolveRoot.
var RootAttributes = []string{
	"defaultNamingContext",
	"schemaNamingContext",
	"configurationNamingContext",
	"rootDomainNamingContext",
	"namingContexts",
	"dnsHostName",
	"domainFunctionality",
	"forestFunctionality",
	"domainControllerFunctionality",
}

// SchemaHeadAttributes are read from the schema naming context head.
var SchemaHeadAttributes = []string{"objectVersion", "whenChanged", "schemaInfo"}

// Info describes the directory root a connection is bound to. The derived
// names are computed at construction. The domain SID and NetBIOS name may be
// filled in once afterwards.
type Info struct {
	DefaultNamingContext       string
	SchemaNamingContext        string
	ConfigurationNamingContext string
	RootDomainNamingContext    string
	NamingContexts             []string
	DNSHostName                string

	DomainFunctionalLevel int
	ForestFunctionalLevel int
	DCFunctionalLevel     int

	SchemaVersion     int64
	SchemaSerial      uint32
	SchemaLastChanged time.Time

	DomainName string
	ForestName string

	mu          sync.RWMutex
	domainSID   string
	netBIOSName string
}

// NewInfo builds an Info from rootDSE attribute values. Attribute names
// match case-insensitively.
func NewInfo(root map[string][]string) *Info {
	get := func(name string) []string {
		for k, v := range root {
			if strings.EqualFold(k, name) {
				return v
			}
		}
		return nil
	}
	first := func(name string) string {
		if v := get(name); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	num := func(name string) int {
		n, _ := strconv.Atoi(strings.TrimSpace(first(name)))
		return n
	}

	info := &Info{
		DefaultNamingContext:       first("defaultNamingContext"),
		SchemaNamingContext:        first("schemaNamingContext"),
		ConfigurationNamingContext: first("configurationNamingContext"),
		RootDomainNamingContext:    first("rootDomainNamingContext"),
		NamingContexts:             get("namingContexts"),
		DNSHostName:                first("dnsHostName"),
		DomainFunctionalLevel:      num("domainFunctionality"),
		ForestFunctionalLevel:      num("forestFunctionality"),
		DCFunctionalLevel:          num("domainControllerFunctionality"),
	}

	info.DomainName = DNToDNSName(info.DefaultNamingContext)
	switch {
	case info.ConfigurationNamingContext != "":
		info.ForestName = DNToDNSName(info.ConfigurationNamingContext)
	case info.RootDomainNamingContext != "":
		info.ForestName = DNToDNSName(info.RootDomainNamingContext)
	}

	return info
}

// ApplySchemaHead records the schema version details read from the schema
// naming context head object. It is called before the Info is published.
func (i *Info) ApplySchemaHead(head *Item) {
	if head == nil {
		return
	}
	i.SchemaVersion = head.ObjectVersion
	i.SchemaLastChanged = head.WhenChanged
	if head.SchemaInfo != nil {
		i.SchemaSerial = head.SchemaInfo.Serial
	}
}

// DomainSID returns the domain SID, or "" before enrichment.
func (i *Info) DomainSID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.domainSID
}

// NetBIOSName returns the domain NetBIOS name, or "" before enrichment.
func (i *Info) NetBIOSName() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.netBIOSName
}

// SetDomainSID sets the domain SID once. Setting the same value again is a
// no-op; a different value is an error.
func (i *Info) SetDomainSID(sid string) error {
	return i.setOnce(&i.domainSID, "domain SID", sid)
}

// SetNetBIOSName sets the NetBIOS name once, like SetDomainSID.
func (i *Info) SetNetBIOSName(name string) error {
	return i.setOnce(&i.netBIOSName, "NetBIOS name", name)
}

func (i *Info) setOnce(field *string, what, v string) error {
	if v == "" {
		return Errorf(KindInvalidInput, "", "set "+what, "empty value")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	switch {
	case *field == "":
		*field = v
		return nil
	case strings.EqualFold(*field, v):
		return nil
	default:
		return Errorf(KindInvalidInput, "", "set "+what, "already set to %q", *field)
	}
}

// DomainKey returns the identity of the connected domain.
func (i *Info) DomainKey() (*domainkey.DomainKey, error) {
	k, err := domainkey.New(i.DomainName, i.DomainSID(), i.NetBIOSName())
	if err != nil {
		return nil, fmt.Errorf("domain key for %s: %w", i.DomainName, err)
	}
	return k, nil
}
