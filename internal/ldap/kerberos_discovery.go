package ldap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// generateRuntimeKrb5Conf builds a krb5.conf for realm that locates KDCs
// through _kerberos SRV records.
func generateRuntimeKrb5Conf(ctx context.Context, realm string) (string, error) {
	if realm == "" {
		return "", errors.New("kerberos realm is required for KDC discovery")
	}

	realm = strings.ToUpper(realm)
	domain := strings.ToLower(realm)

	tflog.SubsystemDebug(ctx, Subsystem, "Generating runtime krb5.conf", map[string]any{
		"realm":  realm,
		"domain": domain,
	})

	return fmt.Sprintf(`[libdefaults]
    default_realm = %[1]s
    dns_lookup_kdc = true
    dns_lookup_realm = false
    rdns = false
    forwardable = true
    ticket_lifetime = 24h

[domain_realm]
    .%[2]s = %[1]s
    %[2]s = %[1]s
`, realm, domain), nil
}

// generateExampleKrb5Conf generates example krb5.conf content for error messages.
func generateExampleKrb5Conf(realm string) string {
	if realm == "" {
		realm = "YOUR.REALM.COM"
	}
	domain := strings.ToLower(realm)

	return fmt.Sprintf(`[libdefaults]
    default_realm = %[1]s
    dns_lookup_kdc = true

[realms]
    %[1]s = {
        kdc = dc.%[2]s:88
    }

[domain_realm]
    .%[2]s = %[1]s
    %[2]s = %[1]s`, realm, domain)
}
