package adws

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/isometry/adscan/internal/directory"
	adldap "github.com/isometry/adscan/internal/ldap"
)

// Fault is a SOAP fault returned by the web service.
type Fault struct {
	Code    string // local part, e.g. "Sender"
	Subcode string // local part, e.g. "InvalidEnumerationContext"
	Reason  string

	// DirectoryCode is the LDAP result code reported by the directory,
	// or -1 when the fault carries none.
	DirectoryCode   int
	ShortMessage    string
	ExtendedMessage string
}

func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString("SOAP fault")
	if f.Subcode != "" {
		b.WriteString(" ")
		b.WriteString(f.Subcode)
	} else if f.Code != "" {
		b.WriteString(" ")
		b.WriteString(f.Code)
	}
	if f.Reason != "" {
		b.WriteString(": ")
		b.WriteString(f.Reason)
	}
	if f.DirectoryCode >= 0 {
		fmt.Fprintf(&b, " (LDAP result %d", f.DirectoryCode)
		if f.ExtendedMessage != "" {
			b.WriteString(": ")
			b.WriteString(f.ExtendedMessage)
		}
		b.WriteString(")")
	}
	return b.String()
}

// Kind classifies the fault. A directory result code wins over the SOAP
// subcode.
func (f *Fault) Kind() directory.ErrorKind {
	if f.DirectoryCode >= 0 {
		if kind := adldap.KindForResultCode(uint16(f.DirectoryCode)); kind != directory.KindUnknown {
			return kind
		}
	}

	switch f.Subcode {
	case "InvalidEnumerationContext", "EnumerationContextLimitExceeded", "TimedOut":
		return directory.KindProtocol
	case "CannotProcessFilter", "FilteringNotSupported", "UnsupportedSelectOrSortDialectFault",
		"InvalidPropertyFault", "InvalidExpirationTime", "InvalidMaxElements":
		return directory.KindInvalidInput
	case "EndpointUnavailable", "ServerBusy":
		return directory.KindConnection
	case "AccessDenied", "FailedAuthentication", "InvalidSecurity":
		return directory.KindUnauthorized
	}

	msg := strings.ToLower(f.ShortMessage + " " + f.Reason)
	switch {
	case strings.Contains(msg, "access is denied"), strings.Contains(msg, "accessdenied"):
		return directory.KindUnauthorized
	case strings.Contains(msg, "nosuchobject"), strings.Contains(msg, "not found"),
		f.Subcode == "DestinationUnreachable":
		return directory.KindNotFound
	}
	return directory.KindProtocol
}

// parseFault reads a SOAP 1.2 Fault element.
func parseFault(node *directory.XMLNode) *Fault {
	f := &Fault{DirectoryCode: -1}
	if v := node.Find("Code", "Value"); v != nil {
		f.Code = localName(v.Text)
	}
	if v := node.Find("Code", "Subcode", "Value"); v != nil {
		f.Subcode = localName(v.Text)
	}
	if v := node.Find("Reason", "Text"); v != nil {
		f.Reason = strings.TrimSpace(v.Text)
	}

	detail := node.Child("Detail")
	if detail == nil {
		return f
	}
	if dirErr := findDeep(detail, "DirectoryError"); dirErr != nil {
		if v := dirErr.Child("ErrorCode"); v != nil {
			if code, ok := parseInt(v.Text); ok {
				f.DirectoryCode = code
			}
		}
		if v := dirErr.Child("ExtendedErrorMessage"); v != nil {
			f.ExtendedMessage = strings.TrimSpace(v.Text)
		}
	}
	if v := findDeep(detail, "ShortMessage"); v != nil {
		f.ShortMessage = strings.TrimSpace(v.Text)
	}
	return f
}

// findDeep returns the first descendant with the given local name.
func findDeep(n *directory.XMLNode, local string) *directory.XMLNode {
	for i := range n.Nodes {
		child := &n.Nodes[i]
		if child.XMLName.Local == local {
			return child
		}
		if found := findDeep(child, local); found != nil {
			return found
		}
	}
	return nil
}

// httpStatusError is a non-200 response without a SOAP fault.
type httpStatusError struct {
	StatusCode int
	Status     string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s", e.Status)
}

func statusKind(code int) directory.ErrorKind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return directory.KindUnauthorized
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return directory.KindConnection
	default:
		return directory.KindProtocol
	}
}

// wrapError converts an error into a *directory.Error for this backend.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var de *directory.Error
	if errors.As(err, &de) {
		return err
	}

	return &directory.Error{
		Kind:    classifyError(err),
		Op:      op,
		Backend: directory.BackendADWS,
		Err:     err,
	}
}

func classifyError(err error) directory.ErrorKind {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault.Kind()
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusKind(statusErr.StatusCode)
	}
	return directory.KindConnection
}

// isInvalidContext reports whether a pull failed because the server no
// longer knows the enumeration.
func isInvalidContext(err error) bool {
	var fault *Fault
	return errors.As(err, &fault) && fault.Subcode == "InvalidEnumerationContext"
}
