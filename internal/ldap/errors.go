package ldap

import (
	"context"
	"errors"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/adscan/internal/directory"
)

// wrapError converts an LDAP or transport error into a *directory.Error.
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
		Backend: directory.BackendLDAP,
		Err:     err,
	}
}

// classifyError maps an error to a directory error kind.
func classifyError(err error) directory.ErrorKind {
	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return categorizeResultCode(ldapErr.ResultCode)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return directory.KindConnection
	}
	return categorizeGenericError(err)
}

// KindForResultCode maps an LDAP result code, as also carried in web-service
// directory faults, to a directory error kind.
func KindForResultCode(code uint16) directory.ErrorKind {
	return categorizeResultCode(code)
}

// categorizeResultCode categorizes an error based on LDAP result code.
func categorizeResultCode(code uint16) directory.ErrorKind {
	switch code {
	// Authentication and permission errors
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired,
		ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultConfidentialityRequired:
		return directory.KindUnauthorized

	case ldap.LDAPResultNoSuchObject:
		return directory.KindNotFound

	// Caller errors
	case ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultFilterError,
		ldap.ErrorFilterCompile,
		ldap.LDAPResultUndefinedAttributeType,
		ldap.LDAPResultInvalidAttributeSyntax:
		return directory.KindInvalidInput

	// Server/connection errors
	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
		ldap.LDAPResultConnectError,
		ldap.LDAPResultTimeout,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.ErrorNetwork:
		return directory.KindConnection

	// A referral names another server; following it is not supported.
	case ldap.LDAPResultReferral,
		ldap.LDAPResultProtocolError,
		ldap.LDAPResultOperationsError,
		ldap.LDAPResultUnwillingToPerform,
		ldap.LDAPResultAdminLimitExceeded,
		ldap.LDAPResultSizeLimitExceeded,
		ldap.ErrorUnexpectedResponse,
		ldap.ErrorUnexpectedMessage:
		return directory.KindProtocol

	default:
		return directory.KindUnknown
	}
}

// categorizeGenericError categorizes non-LDAP errors.
func categorizeGenericError(err error) directory.ErrorKind {
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "no such host") {
		return directory.KindConnection
	}

	if strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "credentials") ||
		strings.Contains(errStr, "denied") {
		return directory.KindUnauthorized
	}

	return directory.KindUnknown
}

// isRetryable determines if an error indicates a transient condition worth
// another connection attempt.
func isRetryable(err error) bool {
	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		switch ldapErr.ResultCode {
		case ldap.LDAPResultBusy,
			ldap.LDAPResultUnavailable,
			ldap.LDAPResultServerDown,
			ldap.LDAPResultTimeLimitExceeded,
			ldap.LDAPResultConnectError,
			ldap.ErrorNetwork:
			return true
		default:
			return false
		}
	}
	return classifyError(err) == directory.KindConnection
}
