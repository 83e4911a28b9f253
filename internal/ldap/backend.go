package ldap

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/adscan/internal/directory"
	"github.com/isometry/adscan/internal/logging"
)

// sdFlagsOwnerGroupDACL requests owner, group and DACL but not the SACL,
// which needs SeSecurityPrivilege.
const sdFlagsOwnerGroupDACL = 0x1 | 0x2 | 0x4

// Backend implements directory.Backend over a pool of LDAP connections.
type Backend struct {
	config *ConnectionConfig
	pool   *Pool
	owner  bool              // Close shuts the pool down
	worker *PooledConnection // dedicated connection after InitWorker
	root   *rootCache
}

type rootCache struct {
	mu   sync.Mutex
	info *directory.Info
}

var _ directory.Backend = (*Backend)(nil)

// New creates an LDAP backend. No connection is opened until first use.
func New(ctx context.Context, config *ConnectionConfig) (*Backend, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()

	pool, err := NewPool(ctx, config)
	if err != nil {
		return nil, directory.NewError(directory.KindConnection, directory.BackendLDAP, "new backend", err)
	}
	return newBackend(config, pool), nil
}

func newBackend(config *ConnectionConfig, pool *Pool) *Backend {
	return &Backend{
		config: config,
		pool:   pool,
		owner:  true,
		root:   &rootCache{},
	}
}

// Factory returns a directory.BackendFactory creating LDAP backends from config.
func Factory(config *ConnectionConfig) directory.BackendFactory {
	return func(ctx context.Context) (directory.Backend, error) {
		return New(ctx, config)
	}
}

// Kind reports BackendLDAP.
func (b *Backend) Kind() directory.BackendKind {
	return directory.BackendLDAP
}

// InitWorker returns a backend sharing the pool and root cache that holds a
// dedicated connection of its own.
func (b *Backend) InitWorker(ctx context.Context) (directory.Backend, error) {
	pc, err := b.pool.Get(ctx)
	if err != nil {
		return nil, wrapError("init worker", err)
	}

	tflog.SubsystemDebug(ctx, logSubsystem, "Initialized LDAP worker", map[string]any{
		"server": ServerInfoToURL(pc.ServerInfo()),
	})
	return &Backend{
		config: b.config,
		pool:   b.pool,
		worker: pc,
		root:   b.root,
	}, nil
}

// Close releases the worker connection, or shuts the pool down when this
// backend created it.
func (b *Backend) Close() error {
	if b.worker != nil {
		b.worker.Release()
		b.worker = nil
	}
	if b.owner {
		return b.pool.Close()
	}
	return nil
}

func (b *Backend) acquire(ctx context.Context) (*PooledConnection, func(), error) {
	if b.worker != nil {
		return b.worker, func() {}, nil
	}
	pc, err := b.pool.Get(ctx)
	if err != nil {
		return nil, nil, err
	}
	return pc, pc.Release, nil
}

// ResolveRoot reads the rootDSE and the schema head. The result is computed
// once and shared with every worker forked from this backend.
func (b *Backend) ResolveRoot(ctx context.Context) (*directory.Info, error) {
	b.root.mu.Lock()
	defer b.root.mu.Unlock()

	if b.root.info != nil {
		return b.root.info, nil
	}

	var info *directory.Info
	err := logging.LogOperation(ctx, logSubsystem, "resolve_root", nil, func() error {
		pc, release, err := b.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()

		res, err := b.search(pc, ldap.NewSearchRequest(
			"", ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, b.timeLimit(), false,
			"(objectClass=*)", directory.RootAttributes, nil,
		))
		if err != nil {
			return err
		}
		if len(res.Entries) == 0 {
			return directory.Errorf(directory.KindProtocol, directory.BackendLDAP, "resolve root", "empty rootDSE")
		}

		root := make(map[string][]string)
		for _, attr := range res.Entries[0].Attributes {
			root[attr.Name] = attr.Values
		}
		info = directory.NewInfo(root)
		if info.DefaultNamingContext == "" {
			return directory.Errorf(directory.KindProtocol, directory.BackendLDAP, "resolve root", "rootDSE has no defaultNamingContext")
		}
		return nil
	})
	if err != nil {
		return nil, wrapError("resolve root", err)
	}

	if info.SchemaNamingContext != "" {
		req := directory.SearchRequest{
			BaseDN:     info.SchemaNamingContext,
			Filter:     "(objectClass=*)",
			Attributes: directory.SchemaHeadAttributes,
			Scope:      directory.ScopeBase,
		}
		if err := b.Enumerate(ctx, req, func(item *directory.Item) error {
			info.ApplySchemaHead(item)
			return nil
		}); err != nil {
			tflog.SubsystemWarn(ctx, logSubsystem, "Failed to read schema head", map[string]any{
				"schema_nc": info.SchemaNamingContext,
				"error":     err.Error(),
			})
		}
	}

	b.root.info = info
	tflog.SubsystemInfo(ctx, logSubsystem, "Resolved directory root", map[string]any{
		"domain":         info.DomainName,
		"forest":         info.ForestName,
		"dns_host_name":  info.DNSHostName,
		"schema_version": info.SchemaVersion,
	})
	return info, nil
}

// Enumerate runs a paged search and passes each decoded entry to fn as its
// page arrives. A missing base object yields no results. Entries that fail
// to decode are logged and skipped. Errors returned by fn stop the search
// and are returned unchanged.
func (b *Backend) Enumerate(ctx context.Context, req directory.SearchRequest, fn directory.Callback) error {
	pc, release, err := b.acquire(ctx)
	if err != nil {
		return wrapError("enumerate", err)
	}
	defer release()

	filter := req.Filter
	if filter == "" {
		filter = "(objectClass=*)"
	}

	paging := ldap.NewControlPaging(uint32(b.pageSize()))
	controls := []ldap.Control{paging}
	if requestsSecurityDescriptor(req.Attributes) {
		controls = append(controls, &ldap.ControlMicrosoftSDFlags{
			Criticality:  true,
			ControlValue: sdFlagsOwnerGroupDACL,
		})
	}

	start := time.Now()
	var pages, delivered, skipped int
	for {
		if err := ctx.Err(); err != nil {
			return wrapError("enumerate", err)
		}

		res, err := b.search(pc, ldap.NewSearchRequest(
			req.BaseDN, ldapScope(req.Scope), ldap.NeverDerefAliases, 0, b.timeLimit(), false,
			filter, req.Attributes, controls,
		))
		if err != nil {
			if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
				tflog.SubsystemDebug(ctx, logSubsystem, "Search base does not exist", map[string]any{
					"base_dn": req.BaseDN,
				})
				return nil
			}
			logSearchError(ctx, "enumerate", err, map[string]any{
				"base_dn": req.BaseDN,
				"filter":  filter,
			})
			return wrapError("enumerate", err)
		}
		pages++

		for _, entry := range res.Entries {
			item, err := directory.ItemFromAttributes(ctx, entry.DN, entryAttributes(entry))
			if err != nil {
				skipped++
				tflog.SubsystemWarn(ctx, logSubsystem, "Skipping undecodable entry", map[string]any{
					"dn":    entry.DN,
					"error": err.Error(),
				})
				continue
			}
			if err := fn(item); err != nil {
				return err
			}
			delivered++
		}

		cookie := pagingCookie(res.Controls)
		if len(cookie) == 0 {
			break
		}
		paging.SetCookie(cookie)
	}

	tflog.SubsystemDebug(ctx, logSubsystem, "Enumeration completed", map[string]any{
		"base_dn":   req.BaseDN,
		"scope":     req.Scope.String(),
		"filter":    filter,
		"pages":     pages,
		"delivered": delivered,
		"skipped":   skipped,
		"duration":  time.Since(start).String(),
	})
	return nil
}

// search runs one request and marks the connection broken on transport
// failure so the pool does not hand it out again.
func (b *Backend) search(pc *PooledConnection, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	res, err := pc.conn.Search(req)
	if err != nil && classifyError(err) == directory.KindConnection {
		pc.markBroken()
	}
	return res, err
}

func (b *Backend) pageSize() int {
	if b.config.PageSize > 0 {
		return b.config.PageSize
	}
	return DefaultPageSize
}

func (b *Backend) timeLimit() int {
	return int(b.config.Timeout / time.Second)
}

func ldapScope(s directory.Scope) int {
	switch s {
	case directory.ScopeBase:
		return ldap.ScopeBaseObject
	case directory.ScopeOneLevel:
		return ldap.ScopeSingleLevel
	default:
		return ldap.ScopeWholeSubtree
	}
}

func requestsSecurityDescriptor(attrs []string) bool {
	return slices.ContainsFunc(attrs, func(a string) bool {
		return strings.EqualFold(a, "nTSecurityDescriptor")
	})
}

func pagingCookie(controls []ldap.Control) []byte {
	ctrl, ok := ldap.FindControl(controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
	if !ok {
		return nil
	}
	return ctrl.Cookie
}

func entryAttributes(entry *ldap.Entry) []directory.Attribute {
	attrs := make([]directory.Attribute, 0, len(entry.Attributes))
	for _, a := range entry.Attributes {
		attrs = append(attrs, directory.Attribute{Name: a.Name, Values: a.ByteValues})
	}
	return attrs
}
