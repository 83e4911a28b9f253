package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"
)

// EnvLogLevel sets the root log level. EnvLogLevel_<SUBSYSTEM>, for example
// ADSCAN_LOG_LDAP, overrides it for one subsystem.
const EnvLogLevel = "ADSCAN_LOG"

const rootLoggerName = "adscan"

// Subsystems are the logging subsystems registered by WithSubsystems.
var Subsystems = []string{"directory", "ldap", "adws", "dclocator"}

// sensitiveKeys are masked in every subsystem and redacted by SanitizeFields.
var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"key",
	"private_key",
	"credential",
	"credentials",
}

// New returns a context carrying a JSON root logger writing to stderr and
// the subsystem loggers. An empty level falls back to EnvLogLevel, then
// to WARN.
func New(ctx context.Context, level string) context.Context {
	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName(rootLoggerName),
		tfsdklog.WithLevel(ParseLevel(level)),
		tfsdklog.WithoutLocation(),
	)
	return WithSubsystems(ctx)
}

// WithSubsystems registers the subsystem loggers below the root logger in
// ctx. Sensitive field values are masked.
func WithSubsystems(ctx context.Context) context.Context {
	for _, sub := range Subsystems {
		ctx = tflog.NewSubsystem(ctx, sub, tflog.WithLevelFromEnv(EnvLogLevel, sub))
		ctx = tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, sub, sensitiveKeys...)
	}
	return ctx
}

// ParseLevel parses a level name such as "debug". An empty or unknown name
// falls back to EnvLogLevel, then to WARN.
func ParseLevel(level string) hclog.Level {
	if l := hclog.LevelFromString(level); l != hclog.NoLevel {
		return l
	}
	if l := hclog.LevelFromString(os.Getenv(EnvLogLevel)); l != hclog.NoLevel {
		return l
	}
	return hclog.Warn
}

// LogOperation is a helper function to log an operation with timing.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	fields = SanitizeFields(fields)
	fields["operation"] = operation

	tflog.SubsystemDebug(ctx, subsystem, "Starting operation", fields)

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		tflog.SubsystemError(ctx, subsystem, "Operation failed", fields)
	} else {
		tflog.SubsystemDebug(ctx, subsystem, "Operation completed successfully", fields)
	}

	return err
}

// SanitizeFields returns a copy of fields with sensitive information
// redacted.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields)+2)

	for k, v := range fields {
		if isSensitiveKey(k) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

func isSensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if k == s {
			return true
		}
	}
	return false
}

// containsSensitivePattern checks if a string contains patterns that might be sensitive.
func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"token=",
		"key=",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}
