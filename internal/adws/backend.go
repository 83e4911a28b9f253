package adws

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/adscan/internal/dclocator"
	"github.com/isometry/adscan/internal/directory"
	"github.com/isometry/adscan/internal/logging"
)

const logSubsystem = "adws"

// Backend implements directory.Backend over Active Directory Web Services.
type Backend struct {
	config *Config
	host   string
	client *client
	root   *rootCache
}

type rootCache struct {
	mu   sync.Mutex
	info *directory.Info
}

var _ directory.Backend = (*Backend)(nil)

// New creates an ADWS backend. When config names no server a domain
// controller is located through DNS.
func New(ctx context.Context, config *Config) (*Backend, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, directory.NewError(directory.KindInvalidInput, directory.BackendADWS, "new backend", err)
	}

	b := &Backend{config: config, root: &rootCache{}}
	if config.Server != "" {
		if err := b.bind(ctx, config.Server); err != nil {
			return nil, err
		}
	} else if err := b.locate(ctx, dclocator.New(nil)); err != nil {
		return nil, err
	}

	tflog.SubsystemDebug(ctx, logSubsystem, "Created ADWS backend", map[string]any{
		"endpoint": b.client.baseURL,
		"instance": b.client.instance,
		"auth":     b.client.auth.String(),
	})
	return b, nil
}

func (b *Backend) bind(ctx context.Context, host string) error {
	c, err := newClient(ctx, b.config, host)
	if err != nil {
		return wrapError("new backend", err)
	}
	b.host, b.client = host, c
	return nil
}

// locate binds to a domain controller running the web service and reads
// its rootDSE. A controller that cannot serve the rootDSE is replaced once
// by a rediscovered one.
func (b *Backend) locate(ctx context.Context, locator *dclocator.Locator) error {
	err := locator.WithRediscovery(ctx, b.config.Domain, dclocator.WebServiceRequired|dclocator.ReturnDNSName, func(dc *dclocator.DCInfo) error {
		if err := b.bind(ctx, dc.DomainControllerName); err != nil {
			return err
		}
		if _, err := b.ResolveRoot(ctx); err != nil {
			_ = b.client.close()
			b.client = nil
			return err
		}
		return nil
	})
	if err != nil {
		var derr *directory.Error
		if errors.As(err, &derr) && derr.Backend == directory.BackendADWS {
			return err
		}
		return directory.NewError(directory.KindOf(err), directory.BackendADWS, "locate server", err)
	}
	return nil
}

// Factory returns a directory.BackendFactory creating ADWS backends from config.
func Factory(config *Config) directory.BackendFactory {
	return func(ctx context.Context) (directory.Backend, error) {
		return New(ctx, config)
	}
}

// Kind reports BackendADWS.
func (b *Backend) Kind() directory.BackendKind {
	return directory.BackendADWS
}

// InitWorker returns a backend with its own HTTP transport and credential
// handle, bound to the same server and sharing the root cache.
func (b *Backend) InitWorker(ctx context.Context) (directory.Backend, error) {
	c, err := newClient(ctx, b.config, b.host)
	if err != nil {
		return nil, wrapError("init worker", err)
	}
	return &Backend{
		config: b.config,
		host:   b.host,
		client: c,
		root:   b.root,
	}, nil
}

// Close releases the transport and credentials of this backend.
func (b *Backend) Close() error {
	return b.client.close()
}

// ResolveRoot reads the rootDSE with a WS-Transfer Get, then the schema
// head. The result is computed once and shared with every worker.
func (b *Backend) ResolveRoot(ctx context.Context) (*directory.Info, error) {
	b.root.mu.Lock()
	defer b.root.mu.Unlock()

	if b.root.info != nil {
		return b.root.info, nil
	}

	var info *directory.Info
	err := logging.LogOperation(ctx, logSubsystem, "resolve_root", map[string]any{"endpoint": b.client.baseURL}, func() error {
		env, err := b.client.call(ctx, &request{
			action: actionGet,
			to:     b.client.resourceURL(),
			header: objectReferenceHeader(rootDSEReference),
		})
		if err != nil {
			return err
		}
		obj := env.payload()
		if obj == nil {
			return directory.Errorf(directory.KindProtocol, directory.BackendADWS, "resolve root", "empty rootDSE response")
		}
		info = directory.NewInfo(attributeValues(obj))
		if info.DefaultNamingContext == "" {
			return directory.Errorf(directory.KindProtocol, directory.BackendADWS, "resolve root", "rootDSE has no defaultNamingContext")
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

// Enumerate opens an enumeration and pulls batches of at most MaxElements
// objects, passing each decoded object to fn as its batch arrives. A
// missing base object yields no results. Objects that fail to decode are
// logged and skipped. Errors returned by fn stop the enumeration and are
// returned unchanged.
func (b *Backend) Enumerate(ctx context.Context, req directory.SearchRequest, fn directory.Callback) error {
	if req.Filter == "" {
		req.Filter = "(objectClass=*)"
	}
	attrs := selection(req.Attributes)
	sdFlags := requestsSecurityDescriptor(attrs)

	env, err := b.client.call(ctx, &request{
		action: actionEnumerate,
		to:     b.client.enumerationURL(),
		body:   enumerateBody(req, attrs),
	})
	if err != nil {
		if classifyError(err) == directory.KindNotFound {
			tflog.SubsystemDebug(ctx, logSubsystem, "Search base does not exist", map[string]any{
				"base_dn": req.BaseDN,
			})
			return nil
		}
		b.logError(ctx, "enumerate", err, req)
		return wrapError("enumerate", err)
	}

	enumContext := enumerationContext(env.payload())
	if enumContext == "" {
		return directory.Errorf(directory.KindProtocol, directory.BackendADWS, "enumerate", "response has no enumeration context")
	}

	start := time.Now()
	var pulls, delivered, skipped int
	finished := false
	defer func() {
		if !finished {
			b.release(ctx, enumContext)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return wrapError("pull", err)
		}

		env, err := b.client.call(ctx, &request{
			action: actionPull,
			to:     b.client.enumerationURL(),
			body:   pullBody(enumContext, b.config.MaxElements, sdFlags),
		})
		if err != nil {
			if isInvalidContext(err) {
				finished = true
			}
			if classifyError(err) == directory.KindNotFound {
				finished = true
				tflog.SubsystemDebug(ctx, logSubsystem, "Search base does not exist", map[string]any{
					"base_dn": req.BaseDN,
				})
				return nil
			}
			b.logError(ctx, "pull", err, req)
			return wrapError("pull", err)
		}
		pulls++

		resp := env.payload()
		if resp == nil {
			return directory.Errorf(directory.KindMalformed, directory.BackendADWS, "pull", "empty pull response")
		}

		if items := resp.Child("Items"); items != nil {
			for i := range items.Nodes {
				item, err := directory.ItemFromXML(ctx, &items.Nodes[i])
				if err != nil {
					skipped++
					tflog.SubsystemWarn(ctx, logSubsystem, "Skipping undecodable object", map[string]any{
						"element": items.Nodes[i].XMLName.Local,
						"error":   err.Error(),
					})
					continue
				}
				if err := fn(item); err != nil {
					return err
				}
				delivered++
			}
		}

		if resp.Child("EndOfSequence") != nil {
			finished = true
			break
		}
		if next := enumerationContext(resp); next != "" {
			enumContext = next
		}
	}

	tflog.SubsystemDebug(ctx, logSubsystem, "Enumeration completed", map[string]any{
		"base_dn":   req.BaseDN,
		"scope":     req.Scope.String(),
		"filter":    req.Filter,
		"pulls":     pulls,
		"delivered": delivered,
		"skipped":   skipped,
		"duration":  time.Since(start).String(),
	})
	return nil
}

// release ends an enumeration abandoned before its end of sequence. It
// runs even when ctx is already cancelled.
func (b *Backend) release(ctx context.Context, enumContext string) {
	timeout := b.config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if _, err := b.client.call(rctx, &request{
		action: actionRelease,
		to:     b.client.enumerationURL(),
		body:   releaseBody(enumContext),
	}); err != nil {
		tflog.SubsystemDebug(ctx, logSubsystem, "Failed to release enumeration context", map[string]any{
			"error": err.Error(),
		})
	}
}

func (b *Backend) logError(ctx context.Context, op string, err error, req directory.SearchRequest) {
	fields := map[string]any{
		"operation": op,
		"base_dn":   req.BaseDN,
		"filter":    req.Filter,
		"error":     err.Error(),
	}
	var fault *Fault
	if errors.As(err, &fault) {
		fields["fault_subcode"] = fault.Subcode
		if fault.DirectoryCode >= 0 {
			fields["ldap_result_code"] = fault.DirectoryCode
		}
	}
	tflog.SubsystemError(ctx, logSubsystem, "ADWS operation failed", fields)
}

// selection returns the attributes to select. distinguishedName is always
// selected so every object carries its name.
func selection(attrs []string) []string {
	if attrs == nil {
		attrs = directory.KnownAttributes()
	}
	if !slices.ContainsFunc(attrs, func(a string) bool { return strings.EqualFold(a, "distinguishedName") }) {
		attrs = append(slices.Clip(attrs), "distinguishedName")
	}
	return attrs
}

func requestsSecurityDescriptor(attrs []string) bool {
	return slices.ContainsFunc(attrs, func(a string) bool {
		return strings.EqualFold(a, "nTSecurityDescriptor")
	})
}

func enumerationContext(resp *directory.XMLNode) string {
	if resp == nil {
		return ""
	}
	if n := resp.Child("EnumerationContext"); n != nil {
		return strings.TrimSpace(n.Text)
	}
	return ""
}
