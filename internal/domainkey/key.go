package domainkey

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/isometry/adscan/internal/adbinary"
)

// ErrEmptyKey is returned when a key carries no identifying field at all.
var ErrEmptyKey = errors.New("domain key requires a DNS name, SID or NetBIOS name")

// lockOrder hands out a creation sequence used to lock two keys in a fixed order.
var lockOrder atomic.Uint64

// DomainKey identifies a domain from partial information. Fields may be
// filled in later by Reconcile, so access goes through the accessor methods.
type DomainKey struct {
	mu      sync.RWMutex
	seq     uint64
	name    string
	sid     string
	netbios string
}

// New builds a key from a DNS name, SID and NetBIOS name, any of which may be
// empty. A non-empty SID that does not parse is an error. A name equal to the
// SID is a SID stored in the name slot and is dropped.
func New(name, sid, netbios string) (*DomainKey, error) {
	name = strings.TrimSpace(name)
	sid = strings.TrimSpace(sid)
	netbios = strings.TrimSpace(netbios)

	if sid != "" {
		if err := adbinary.ValidateSID(sid); err != nil {
			return nil, fmt.Errorf("invalid domain SID: %w", err)
		}
		sid = "S" + sid[1:]
	}

	if name != "" && strings.EqualFold(name, sid) {
		name = ""
	}

	if name == "" && sid == "" && netbios == "" {
		return nil, ErrEmptyKey
	}

	return &DomainKey{
		seq:     lockOrder.Add(1),
		name:    strings.ToLower(name),
		sid:     sid,
		netbios: netbios,
	}, nil
}

// MustNew is New for literals known to be valid. It panics on error.
func MustNew(name, sid, netbios string) *DomainKey {
	k, err := New(name, sid, netbios)
	if err != nil {
		panic(err)
	}
	return k
}

// Name returns the lower-cased DNS name.
func (k *DomainKey) Name() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.name
}

// SID returns the domain SID, or "" when unknown.
func (k *DomainKey) SID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.sid
}

// NetBIOS returns the NetBIOS name, or "" when unknown.
func (k *DomainKey) NetBIOS() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.netbios
}

// IsComplete reports whether all three fields are known.
func (k *DomainKey) IsComplete() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.name != "" && k.sid != "" && k.netbios != ""
}

func (k *DomainKey) String() string {
	name, sid, netbios := k.snapshot()
	switch {
	case name != "" && sid != "":
		return name + " (" + sid + ")"
	case name != "":
		return name
	case netbios != "" && sid != "":
		return netbios + " (" + sid + ")"
	case netbios != "":
		return netbios
	default:
		return sid
	}
}

func (k *DomainKey) snapshot() (name, sid, netbios string) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.name, k.sid, k.netbios
}

// Equal reports whether a and b denote the same domain. When both carry a SID
// the SIDs decide. Otherwise DNS names decide, and NetBIOS names decide when
// neither side has a DNS name. Equal never modifies its operands.
func Equal(a, b *DomainKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a == b {
		return true
	}

	an, as, anb := a.snapshot()
	bn, bs, bnb := b.snapshot()
	return equalFields(an, as, anb, bn, bs, bnb)
}

func equalFields(an, as, anb, bn, bs, bnb string) bool {
	if as != "" && bs != "" {
		return strings.EqualFold(as, bs)
	}
	if an != "" && bn != "" {
		return strings.EqualFold(an, bn)
	}
	if an == "" && bn == "" && anb != "" && bnb != "" {
		return strings.EqualFold(anb, bnb)
	}
	return false
}

// Reconcile merges what a and b know about the same domain. When they are
// Equal, any field missing on one side is copied from the other and true is
// returned. Reconciling an already reconciled pair changes nothing.
func Reconcile(a, b *DomainKey) bool {
	if a == nil || b == nil {
		return false
	}
	if a == b {
		return true
	}

	first, second := a, b
	if first.seq > second.seq {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if !equalFields(a.name, a.sid, a.netbios, b.name, b.sid, b.netbios) {
		return false
	}

	fill(&a.sid, &b.sid)
	fill(&a.name, &b.name)
	fill(&a.netbios, &b.netbios)
	return true
}

func fill(x, y *string) {
	switch {
	case *x == "" && *y != "":
		*x = *y
	case *y == "" && *x != "":
		*y = *x
	}
}

// Compare orders keys by DNS name, then SID, both case-insensitively.
func Compare(a, b *DomainKey) int {
	an, as, _ := a.snapshot()
	bn, bs, _ := b.snapshot()

	if c := strings.Compare(strings.ToLower(an), strings.ToLower(bn)); c != 0 {
		return c
	}
	return strings.Compare(strings.ToUpper(as), strings.ToUpper(bs))
}

// Sort sorts keys in place using Compare.
func Sort(keys []*DomainKey) {
	slices.SortFunc(keys, Compare)
}
