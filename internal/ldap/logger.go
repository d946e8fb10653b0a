package ldap

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = "ldap"

// sensitiveKeys are field names whose values are never logged.
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

// LogOperation is a helper function to log an operation with timing.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	tflog.SubsystemDebug(ctx, subsystem, "Starting operation", fields)

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		tflog.SubsystemDebug(ctx, subsystem, "Operation failed", fields)
	} else {
		tflog.SubsystemDebug(ctx, subsystem, "Operation completed successfully", fields)
	}

	return err
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(ctx context.Context, subsystem string, operation string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["operation"] = operation
	fields["error"] = err.Error()
	fields["category"] = string(GetErrorCategory(err))

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		fields["ldap_result_code"] = ldapErr.ResultCode
		if ldapErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = ldapErr.MatchedDN
		}
		if ldapErr.Err != nil {
			fields["ldap_diagnostic_message"] = ldapErr.Err.Error()
		}
	}

	tflog.SubsystemWarn(ctx, subsystem, "LDAP operation failed", fields)
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "connection_established", "tls_upgraded", "authentication_success":
		tflog.SubsystemDebug(ctx, Subsystem, "Connection event", fields)
	case "connection_failed", "tls_upgrade_failed", "authentication_failed", "unbind_failed":
		tflog.SubsystemWarn(ctx, Subsystem, "Connection event", fields)
	default:
		tflog.SubsystemTrace(ctx, Subsystem, "Connection event", fields)
	}
}

// RedactSecrets masks the given secrets and all sensitive field keys in the
// output of each listed subsystem. Empty secrets are ignored.
func RedactSecrets(ctx context.Context, subsystems []string, secrets ...string) context.Context {
	var values []string
	for _, s := range secrets {
		if s != "" {
			values = append(values, s)
		}
	}

	for _, subsystem := range subsystems {
		ctx = tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, subsystem, sensitiveKeys...)
		if len(values) > 0 {
			ctx = tflog.SubsystemMaskAllFieldValuesStrings(ctx, subsystem, values...)
			ctx = tflog.SubsystemMaskMessageStrings(ctx, subsystem, values...)
		}
	}

	ctx = tflog.MaskFieldValuesWithFieldKeys(ctx, sensitiveKeys...)
	if len(values) > 0 {
		ctx = tflog.MaskAllFieldValuesStrings(ctx, values...)
		ctx = tflog.MaskMessageStrings(ctx, values...)
	}

	return ctx
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	for k, v := range fields {
		if isSensitiveKey(k) {
			sanitized[k] = "[REDACTED]"
			continue
		}

		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
		} else {
			sanitized[k] = v
		}
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
