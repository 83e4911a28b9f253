package directory

import (
	"context"
	"fmt"
	"strings"
)

// BackendKind names a wire protocol implementation.
type BackendKind string

const (
	BackendADWS BackendKind = "adws"
	BackendLDAP BackendKind = "ldap"
)

// Scope is the depth of an enumeration below its base.
type Scope int

const (
	ScopeBase Scope = iota
	ScopeOneLevel
	ScopeSubtree
)

func (s Scope) String() string {
	switch s {
	case ScopeBase:
		return "base"
	case ScopeOneLevel:
		return "onelevel"
	case ScopeSubtree:
		return "subtree"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ParseScope parses "base", "one"/"onelevel" or "sub"/"subtree".
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "base":
		return ScopeBase, nil
	case "one", "onelevel":
		return ScopeOneLevel, nil
	case "sub", "subtree", "":
		return ScopeSubtree, nil
	default:
		return ScopeSubtree, Errorf(KindInvalidInput, "", "parse scope", "unknown scope %q", s)
	}
}

// SearchRequest describes one enumeration.
type SearchRequest struct {
	BaseDN     string
	Filter     string   // LDAP filter; values must be escaped with EscapeFilterValue
	Attributes []string // nil requests the backend default set
	Scope      Scope
}

// Callback receives each decoded object. Returning an error stops the
// enumeration and the error is returned to the caller unchanged.
type Callback func(*Item) error

// Backend is a directory wire protocol.
//
// ResolveRoot reads the rootDSE once and caches it. Enumerate streams each
// matching object to fn as soon as it is decoded. Objects that fail to
// decode are logged and skipped. A missing base object yields no results
// and a nil error.
//
// InitWorker returns a Backend bound to resources owned by a single worker.
// Each worker calls it once before using the backend concurrently.
type Backend interface {
	ResolveRoot(ctx context.Context) (*Info, error)
	Enumerate(ctx context.Context, req SearchRequest, fn Callback) error
	InitWorker(ctx context.Context) (Backend, error)
	Kind() BackendKind
	Close() error
}

// BackendFactory creates an unestablished backend.
type BackendFactory func(ctx context.Context) (Backend, error)

// Factories maps backend kinds to their constructors.
type Factories map[BackendKind]BackendFactory
