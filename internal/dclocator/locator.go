package dclocator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/adscan/internal/directory"
)

// StatusError reports a lookup that ended with a non-success status.
type StatusError struct {
	Name   string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("locate domain controller for %q: %s", e.Name, e.Status)
}

// Locator resolves domain names and domain controller hosts.
type Locator struct {
	service Service
}

// New returns a Locator backed by service. A nil service uses a DNSService
// with default options.
func New(service Service) *Locator {
	if service == nil {
		service = NewDNSService(Options{})
	}
	return &Locator{service: service}
}

// Locate resolves name to its domain and forest names, both lower-cased.
// The domain is the NetBIOS name when flags include ReturnFlatName and the
// DNS name otherwise. An unknown domain yields found == false and no error.
func (l *Locator) Locate(ctx context.Context, name string, flags Flags) (domain, forest string, found bool, err error) {
	info, status, err := l.service.GetDCName(ctx, name, flags)
	if err != nil {
		return "", "", false, directory.NewError(directory.KindConnection, "", "locate domain", err)
	}

	switch status {
	case StatusSuccess:
	case StatusNoSuchDomain:
		tflog.SubsystemDebug(ctx, logSubsystem, "Domain not found", map[string]any{"name": name})
		return "", "", false, nil
	default:
		return "", "", false, statusError("locate domain", name, status)
	}

	domain = info.DomainName
	if flags.Has(ReturnFlatName) {
		domain = info.NetBIOSDomainName
	}
	return strings.ToLower(domain), strings.ToLower(info.ForestName), true, nil
}

// LocateHost returns a domain controller for domain. An unknown domain is
// a KindNotFound error.
func (l *Locator) LocateHost(ctx context.Context, domain string, flags Flags) (*DCInfo, error) {
	info, status, err := l.service.GetDCName(ctx, domain, flags)
	if err != nil {
		return nil, directory.NewError(directory.KindConnection, "", "locate host", err)
	}
	if status != StatusSuccess {
		return nil, statusError("locate host", domain, status)
	}
	return info, nil
}

// WithRediscovery locates a domain controller for domain and calls fn with
// it. When fn fails for any reason other than cancellation or rejected
// credentials, a controller is located again with ForceRediscovery and fn is
// retried once, provided a different controller was found.
func (l *Locator) WithRediscovery(ctx context.Context, domain string, flags Flags, fn func(*DCInfo) error) error {
	info, err := l.LocateHost(ctx, domain, flags)
	if err != nil {
		return err
	}

	err = fn(info)
	if err == nil || !retryable(ctx, err) {
		return err
	}

	tflog.SubsystemWarn(ctx, logSubsystem, "Domain controller failed, rediscovering", map[string]any{
		"domain": domain,
		"host":   info.DomainControllerName,
		"error":  err.Error(),
	})

	next, lerr := l.LocateHost(ctx, domain, flags|ForceRediscovery)
	if lerr != nil {
		tflog.SubsystemDebug(ctx, logSubsystem, "Rediscovery failed", map[string]any{"error": lerr.Error()})
		return err
	}
	if strings.EqualFold(next.DomainControllerName, info.DomainControllerName) {
		return err
	}
	return fn(next)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch directory.KindOf(err) {
	case directory.KindUnauthorized, directory.KindInvalidInput:
		return false
	}
	return true
}

func statusError(op, name string, status Status) error {
	kind := directory.KindConnection
	switch status {
	case StatusNoSuchDomain:
		kind = directory.KindNotFound
	case StatusInvalidFlags, StatusInvalidName:
		kind = directory.KindInvalidInput
	}
	return directory.NewError(kind, "", op, &StatusError{Name: name, Status: status})
}
