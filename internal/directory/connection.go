package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Mode selects which backends a Connection uses and in which order.
type Mode int

const (
	ModeServiceOnly Mode = iota
	ModeLDAPOnly
	ModeServiceThenLDAP
	ModeLDAPThenService
)

var modeNames = map[Mode]string{
	ModeServiceOnly:     "adws",
	ModeLDAPOnly:        "ldap",
	ModeServiceThenLDAP: "adws-then-ldap",
	ModeLDAPThenService: "ldap-then-adws",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode parses a mode name. An empty string selects ModeServiceThenLDAP.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeServiceThenLDAP, nil
	}
	for m, name := range modeNames {
		if s == name {
			return m, nil
		}
	}
	return ModeServiceThenLDAP, Errorf(KindInvalidInput, "", "parse mode", "unknown connection mode %q", s)
}

// Backends returns the primary and secondary backend kinds. The secondary is
// empty for single-backend modes.
func (m Mode) Backends() (primary, secondary BackendKind) {
	switch m {
	case ModeServiceOnly:
		return BackendADWS, ""
	case ModeLDAPOnly:
		return BackendLDAP, ""
	case ModeLDAPThenService:
		return BackendLDAP, BackendADWS
	default:
		return BackendADWS, BackendLDAP
	}
}

// Preamble is a setup step run before an enumeration attempt and again
// before the retry against the secondary backend.
type Preamble func(ctx context.Context, b Backend) error

// Connection selects a backend once and falls back to the secondary backend
// for a single retry when an enumeration fails.
//
// If the primary cannot be established, the secondary becomes the primary
// for the rest of the session and there is no further fallback. Later
// enumeration failures rerun the preamble and retry once against the
// secondary, which is established on first use and then kept. Errors
// returned by the caller's callback never cause a fallback.
type Connection struct {
	mode      Mode
	factories Factories
	info      *Info

	primary       Backend
	secondaryKind BackendKind

	mu        sync.Mutex
	secondary Backend
}

// Dial establishes the primary backend for mode, or the secondary when the
// primary fails.
func Dial(ctx context.Context, mode Mode, factories Factories) (*Connection, error) {
	ctx = tflog.SubsystemSetField(ctx, logSubsystem, "mode", mode.String())
	primaryKind, secondaryKind := mode.Backends()

	b, info, err := establish(ctx, factories, primaryKind)
	if err != nil {
		if secondaryKind == "" {
			return nil, err
		}

		tflog.SubsystemWarn(ctx, logSubsystem, "Primary backend unavailable, using secondary", map[string]any{
			"primary":   string(primaryKind),
			"secondary": string(secondaryKind),
			"error":     err.Error(),
		})

		var secondaryErr error
		b, info, secondaryErr = establish(ctx, factories, secondaryKind)
		if secondaryErr != nil {
			return nil, &Error{Kind: KindConnection, Op: "dial", Err: errors.Join(err, secondaryErr)}
		}
		secondaryKind = ""
	}

	tflog.SubsystemDebug(ctx, logSubsystem, "Connection established", map[string]any{
		"backend": string(b.Kind()),
		"domain":  info.DomainName,
	})

	return &Connection{
		mode:          mode,
		factories:     factories,
		info:          info,
		primary:       b,
		secondaryKind: secondaryKind,
	}, nil
}

func establish(ctx context.Context, factories Factories, kind BackendKind) (Backend, *Info, error) {
	factory, ok := factories[kind]
	if !ok || factory == nil {
		return nil, nil, Errorf(KindInvalidInput, kind, "dial", "no backend factory registered")
	}

	b, err := factory(ctx)
	if err != nil {
		return nil, nil, asConnectionError(kind, "dial", err)
	}

	info, err := b.ResolveRoot(ctx)
	if err != nil {
		_ = b.Close()
		return nil, nil, asConnectionError(kind, "resolve root", err)
	}
	return b, info, nil
}

func asConnectionError(kind BackendKind, op string, err error) error {
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: KindConnection, Op: op, Backend: kind, Err: err}
}

// Mode returns the configured mode.
func (c *Connection) Mode() Mode {
	return c.mode
}

// Active returns the kind of the primary backend in use.
func (c *Connection) Active() BackendKind {
	return c.primary.Kind()
}

// HasFallback reports whether a secondary backend is available for retries.
func (c *Connection) HasFallback() bool {
	return c.secondaryKind != ""
}

// ResolveRoot returns the root information of the established backend.
func (c *Connection) ResolveRoot(context.Context) (*Info, error) {
	return c.info, nil
}

// Enumerate runs req against the primary backend, retrying once against the
// secondary on failure.
func (c *Connection) Enumerate(ctx context.Context, req SearchRequest, fn Callback) error {
	return c.EnumerateWithPreamble(ctx, nil, req, fn)
}

// EnumerateWithPreamble runs preamble and then req. On a backend failure the
// preamble and request are repeated once against the secondary backend.
// Objects delivered before the failure are not withdrawn.
func (c *Connection) EnumerateWithPreamble(ctx context.Context, preamble Preamble, req SearchRequest, fn Callback) error {
	err := attempt(ctx, c.primary, preamble, req, fn)
	if err == nil {
		return nil
	}

	var cbErr *callbackError
	if errors.As(err, &cbErr) {
		return cbErr.err
	}
	if ctx.Err() != nil || c.secondaryKind == "" {
		return err
	}

	secondary, secErr := c.secondaryBackend(ctx)
	if secErr != nil {
		tflog.SubsystemWarn(ctx, logSubsystem, "Secondary backend unavailable", map[string]any{
			"backend": string(c.secondaryKind),
			"error":   secErr.Error(),
		})
		return err
	}

	tflog.SubsystemWarn(ctx, logSubsystem, "Enumeration failed, retrying on secondary backend", map[string]any{
		"primary":   string(c.primary.Kind()),
		"secondary": string(secondary.Kind()),
		"base_dn":   req.BaseDN,
		"error":     err.Error(),
	})

	err = attempt(ctx, secondary, preamble, req, fn)
	if errors.As(err, &cbErr) {
		return cbErr.err
	}
	return err
}

func attempt(ctx context.Context, b Backend, preamble Preamble, req SearchRequest, fn Callback) error {
	if preamble != nil {
		if err := preamble(ctx, b); err != nil {
			return err
		}
	}

	return b.Enumerate(ctx, req, func(item *Item) error {
		if err := fn(item); err != nil {
			return &callbackError{err: err}
		}
		return nil
	})
}

func (c *Connection) secondaryBackend(ctx context.Context) (Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.secondary != nil {
		return c.secondary, nil
	}

	b, _, err := establish(ctx, c.factories, c.secondaryKind)
	if err != nil {
		return nil, err
	}
	c.secondary = b
	return b, nil
}

// InitWorker returns a Connection for one worker. Established backends are
// forked with their own InitWorker; an unestablished secondary stays lazy.
func (c *Connection) InitWorker(ctx context.Context) (*Connection, error) {
	primary, err := c.primary.InitWorker(ctx)
	if err != nil {
		return nil, asConnectionError(c.primary.Kind(), "init worker", err)
	}

	worker := &Connection{
		mode:          c.mode,
		factories:     c.factories,
		info:          c.info,
		primary:       primary,
		secondaryKind: c.secondaryKind,
	}

	c.mu.Lock()
	secondary := c.secondary
	c.mu.Unlock()

	if secondary != nil {
		ws, err := secondary.InitWorker(ctx)
		if err != nil {
			_ = primary.Close()
			return nil, asConnectionError(secondary.Kind(), "init worker", err)
		}
		worker.secondary = ws
	}

	return worker, nil
}

// Close releases both backends.
func (c *Connection) Close() error {
	c.mu.Lock()
	secondary := c.secondary
	c.secondary = nil
	c.mu.Unlock()

	var errs []error
	if err := c.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	if secondary != nil {
		if err := secondary.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
