package ldap

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

var (
	dnPattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*=.+`)
	sidPattern = regexp.MustCompile(`^S-\d+-\d+(-\d+)*$`)
)

// Identity describes the authorization identity reported by the server after a bind.
type Identity struct {
	AuthzID           string `json:"authz_id"`
	Format            string `json:"format"` // dn, upn, sam, sid, empty, unknown
	DN                string `json:"dn,omitempty"`
	UserPrincipalName string `json:"user_principal_name,omitempty"`
	SAMAccountName    string `json:"sam_account_name,omitempty"`
	SID               string `json:"sid,omitempty"`
	GUID              string `json:"guid,omitempty"`
}

// Authenticate binds conn using the method configured in cfg.
func Authenticate(ctx context.Context, conn Conn, cfg *ConnectionConfig, server *ServerInfo, username, password string) error {
	if conn == nil {
		return errors.New("connection is nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	authMethod := cfg.AuthMethod
	fields := map[string]any{
		"auth_method": authMethod.String(),
		"username":    username,
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Performing authentication", fields)

	start := time.Now()
	var err error

	switch authMethod {
	case AuthMethodSimpleBind:
		err = authenticateSimple(ctx, conn, username, password)
	case AuthMethodKerberos:
		err = performKerberosAuth(ctx, conn, cfg, server, username, password)
	case AuthMethodExternal:
		err = authenticateExternal(ctx, conn)
	default:
		err = fmt.Errorf("unsupported authentication method: %s", authMethod.String())
	}

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		LogLDAPError(ctx, Subsystem, "bind", err, fields)
		LogConnectionEvent(ctx, "authentication_failed", fields)
		return WrapError("bind", err)
	}

	LogConnectionEvent(ctx, "authentication_success", fields)
	return nil
}

// authenticateSimple performs simple bind authentication.
func authenticateSimple(ctx context.Context, conn Conn, username, password string) error {
	if username == "" {
		return errors.New("username is required for simple bind authentication")
	}

	tflog.SubsystemTrace(ctx, Subsystem, "Attempting simple bind", map[string]any{
		"username": username,
	})

	return conn.Bind(username, password)
}

// authenticateExternal performs SASL EXTERNAL authentication. The identity is
// taken from the TLS client certificate presented during the handshake.
func authenticateExternal(ctx context.Context, conn Conn) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return conn.ExternalBind()
}

// Identify asks the server who the connection is bound as.
func Identify(ctx context.Context, conn Conn) (*Identity, error) {
	result, err := conn.WhoAmI(nil)
	if err != nil {
		LogLDAPError(ctx, Subsystem, "whoami", err, nil)
		return nil, fmt.Errorf("WhoAmI operation failed: %w", err)
	}

	if result == nil {
		return nil, errors.New("WhoAmI operation returned nil result")
	}

	identity := parseAuthzID(result.AuthzID)

	if identity.Format == "dn" {
		// Not every directory publishes objectSid or objectGUID; the identity is still valid.
		err := LogOperation(ctx, Subsystem, "identifier_lookup", map[string]any{"dn": identity.DN}, func() error {
			return lookupObjectIdentifiers(conn, identity)
		})
		if err != nil {
			tflog.SubsystemDebug(ctx, Subsystem, "Object identifier lookup failed", map[string]any{
				"dn":    identity.DN,
				"error": err.Error(),
			})
		}
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Resolved bound identity", map[string]any{
		"authz_id": identity.AuthzID,
		"format":   identity.Format,
	})

	return identity, nil
}

// parseAuthzID parses the authorization ID and extracts structured information.
func parseAuthzID(authzID string) *Identity {
	identity := &Identity{AuthzID: authzID}

	if authzID == "" {
		identity.Format = "empty"
		return identity
	}

	// RFC 4513 authzId forms: "dn:<dn>" and "u:<userid>"
	clean := strings.TrimPrefix(strings.TrimPrefix(authzID, "dn:"), "u:")

	switch {
	case isDNFormat(clean):
		identity.Format = "dn"
		identity.DN = clean
		if normalized, err := NormalizeDN(clean); err == nil {
			identity.DN = normalized
		}
	case strings.Contains(clean, "@") && !strings.Contains(clean, `\`):
		identity.Format = "upn"
		identity.UserPrincipalName = clean
	case sidPattern.MatchString(clean):
		identity.Format = "sid"
		identity.SID = clean
	case strings.Contains(clean, `\`):
		identity.Format = "sam"
		identity.SAMAccountName = clean
	default:
		identity.Format = "unknown"
	}

	return identity
}

// isDNFormat checks if the string looks like a Distinguished Name.
func isDNFormat(s string) bool {
	if !dnPattern.MatchString(s) {
		return false
	}
	_, err := ldap.ParseDN(s)
	return err == nil
}

// lookupObjectIdentifiers fills in the SID and GUID of the entry named by identity.DN.
func lookupObjectIdentifiers(conn Conn, identity *Identity) error {
	req := ldap.NewSearchRequest(
		identity.DN,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 5, false,
		"(objectClass=*)",
		[]string{"objectSid", "objectGUID"},
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		return err
	}

	if len(result.Entries) == 0 {
		return fmt.Errorf("no entry found for %s", identity.DN)
	}
	entry := result.Entries[0]

	sid, sidErr := NewSIDHandler().ExtractSID(entry)
	if sidErr == nil {
		identity.SID = sid
	}

	guid, guidErr := NewGUIDHandler().ExtractGUID(entry)
	if guidErr == nil {
		identity.GUID = guid
	}

	return errors.Join(sidErr, guidErr)
}
