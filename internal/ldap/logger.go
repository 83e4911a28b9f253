package ldap

import (
	"context"
	"errors"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/adscan/internal/logging"
)

const logSubsystem = "ldap"

// logSearchError logs a failed search together with the LDAP result, its
// error kind and any server diagnostic.
func logSearchError(ctx context.Context, operation string, err error, fields map[string]any) {
	fields = logging.SanitizeFields(fields)
	fields["operation"] = operation
	fields["error"] = err.Error()

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		fields["ldap_result_code"] = ldapErr.ResultCode
		if name, ok := ldap.LDAPResultCodeMap[ldapErr.ResultCode]; ok {
			fields["ldap_result"] = name
		}
		fields["kind"] = string(categorizeResultCode(ldapErr.ResultCode))
		if ldapErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = ldapErr.MatchedDN
		}
		if ldapErr.Err != nil {
			fields["ldap_diagnostic_message"] = ldapErr.Err.Error()
		}
	}

	tflog.SubsystemError(ctx, logSubsystem, "LDAP search failed", fields)
}
