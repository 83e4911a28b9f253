package domainkey

import (
	"strings"
	"sync"
)

// RegistryStats provides statistics about registry usage.
type RegistryStats struct {
	Hits    int64
	Misses  int64
	Merges  int64
	Entries int
}

// Registry holds one canonical DomainKey per domain, indexed by SID, DNS name
// and NetBIOS name. Partial keys interned later are reconciled into the
// canonical instance. It is safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	keys      []*DomainKey
	sidIndex  map[string]*DomainKey
	nameIndex map[string]*DomainKey
	nbIndex   map[string]*DomainKey

	stats RegistryStats
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sidIndex:  make(map[string]*DomainKey),
		nameIndex: make(map[string]*DomainKey),
		nbIndex:   make(map[string]*DomainKey),
	}
}

// Intern returns the canonical key for k, registering k if the domain is new.
// When a canonical key exists, whatever k adds is merged into it and into k.
func (r *Registry) Intern(k *DomainKey) *DomainKey {
	if k == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.findLocked(k); existing != nil {
		r.stats.Hits++
		if existing != k && Reconcile(existing, k) {
			r.stats.Merges++
		}
		r.indexLocked(existing)
		return existing
	}

	r.stats.Misses++
	r.keys = append(r.keys, k)
	r.indexLocked(k)
	return k
}

// findLocked locates a registered key Equal to k, trying SID first.
func (r *Registry) findLocked(k *DomainKey) *DomainKey {
	name, sid, netbios := k.snapshot()

	if sid != "" {
		if c, ok := r.sidIndex[strings.ToUpper(sid)]; ok {
			return c
		}
	}
	if name != "" {
		if c, ok := r.nameIndex[name]; ok && Equal(c, k) {
			return c
		}
	}
	if netbios != "" {
		if c, ok := r.nbIndex[strings.ToUpper(netbios)]; ok && Equal(c, k) {
			return c
		}
	}
	return nil
}

// indexLocked records every known field of k. Existing index entries that
// belong to a different domain are left in place.
func (r *Registry) indexLocked(k *DomainKey) {
	name, sid, netbios := k.snapshot()

	if sid != "" {
		r.sidIndex[strings.ToUpper(sid)] = k
	}
	if name != "" {
		if _, taken := r.nameIndex[name]; !taken {
			r.nameIndex[name] = k
		}
	}
	if netbios != "" {
		key := strings.ToUpper(netbios)
		if _, taken := r.nbIndex[key]; !taken {
			r.nbIndex[key] = k
		}
	}
}

// Lookup finds a registered key by SID, DNS name or NetBIOS name.
func (r *Registry) Lookup(identifier string) (*DomainKey, bool) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if k, ok := r.sidIndex[strings.ToUpper(identifier)]; ok {
		return k, true
	}
	if k, ok := r.nameIndex[strings.ToLower(identifier)]; ok {
		return k, true
	}
	if k, ok := r.nbIndex[strings.ToUpper(identifier)]; ok {
		return k, true
	}
	return nil, false
}

// Keys returns the canonical keys sorted with Compare.
func (r *Registry) Keys() []*DomainKey {
	r.mu.Lock()
	out := make([]*DomainKey, len(r.keys))
	copy(out, r.keys)
	r.mu.Unlock()

	Sort(out)
	return out
}

// Stats returns a snapshot of registry statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.stats
	stats.Entries = len(r.keys)
	return stats
}
