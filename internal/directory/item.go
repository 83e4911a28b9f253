package directory

import (
	"crypto/x509"
	"time"

	"github.com/google/uuid"

	"github.com/isometry/adscan/internal/adbinary"
)

// Item is one directory object decoded from either wire form. Items are
// filled during extraction and treated as read-only afterwards.
type Item struct {
	DistinguishedName      string
	Name                   string
	CN                     string
	SAMAccountName         string
	DisplayName            string
	Description            string
	UserPrincipalName      string
	DNSHostName            string
	DNSRoot                string // lower-cased
	NetBIOSName            string
	FlatName               string
	OperatingSystem        string
	OperatingSystemVersion string
	ScriptPath             string
	GPCFileSysPath         string
	GPLink                 string
	DSHeuristics           string
	TrustPartner           string // lower-cased
	LDAPDisplayName        string
	ObjectCategory         string
	ManagedBy              string

	// Class is the lower-cased most-derived object class.
	Class string

	UserAccountControl       int64
	PrimaryGroupID           int64
	AdminCount               int64
	GroupType                int64
	SAMAccountType           int64
	TrustAttributes          int64
	TrustDirection           int64
	TrustType                int64
	GPOptions                int64
	ObjectVersion            int64
	SupportedEncryptionTypes int64
	FunctionalLevel          int64
	SystemFlags              int64
	MachineAccountQuota      int64
	RevisionLevel            int64

	LastLogon          time.Time
	LastLogonTimestamp time.Time
	PwdLastSet         time.Time
	AccountExpires     time.Time
	BadPasswordTime    time.Time
	LAPSExpirationTime time.Time
	WhenCreated        time.Time
	WhenChanged        time.Time

	Member               []string
	MemberOf             []string
	ServicePrincipalName []string
	AllowedToDelegateTo  []string
	ObjectClasses        []string

	ObjectSID          string
	SecurityIdentifier string
	SIDHistory         []string

	ObjectGUID   uuid.UUID
	SchemaIDGUID uuid.UUID

	SecurityDescriptor     *adbinary.SecurityDescriptor
	AllowedToActOnBehalfOf *adbinary.SecurityDescriptor

	Certificates []*x509.Certificate

	TrustForestInfo     []adbinary.TrustForestInfo
	ReplicationMetadata map[int32]adbinary.ReplicationAttributeMetadata

	SchemaInfo *adbinary.SchemaInfo
}

// HasClass reports whether class appears in the item's objectClass values.
func (i *Item) HasClass(class string) bool {
	if equalFold(i.Class, class) {
		return true
	}
	for _, c := range i.ObjectClasses {
		if equalFold(c, class) {
			return true
		}
	}
	return false
}
