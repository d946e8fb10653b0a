package ldap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3/gssapi"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// kerberosSettings is the resolved Kerberos input for one bind.
type kerberosSettings struct {
	principal string
	realm     string
	password  string
	keytab    string
	ccache    string
	krb5conf  string
	explicit  bool // krb5conf was configured rather than defaulted
	spn       string
}

// performKerberosAuth performs a GSSAPI bind on conn.
func performKerberosAuth(ctx context.Context, conn Conn, cfg *ConnectionConfig, server *ServerInfo, username, password string) error {
	settings, err := prepareKerberosSettings(cfg, username, password)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	krb5conf, err := loadKrb5Config(ctx, settings)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	gssapiClient, source, err := createGSSAPIClient(settings, krb5conf)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(settings, server)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Performing GSSAPI bind", map[string]any{
		"principal":         settings.principal,
		"realm":             settings.realm,
		"service_principal": spn,
		"credential_source": source,
	})

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// prepareKerberosSettings merges the connection configuration with the probe
// credentials. A principal of the form user@REALM supplies the realm when none
// is configured.
func prepareKerberosSettings(cfg *ConnectionConfig, username, password string) (*kerberosSettings, error) {
	if cfg == nil {
		return nil, errors.New("configuration cannot be nil")
	}

	s := &kerberosSettings{
		principal: username,
		realm:     strings.ToUpper(cfg.KerberosRealm),
		password:  password,
		keytab:    cfg.KerberosKeytab,
		ccache:    cfg.KerberosCCache,
		krb5conf:  cfg.KerberosConfig,
		explicit:  cfg.KerberosConfig != "",
		spn:       cfg.KerberosSPN,
	}

	if s.krb5conf == "" {
		s.krb5conf = defaultKrb5Conf
	}

	if user, realm, ok := strings.Cut(s.principal, "@"); ok {
		s.principal = user
		if s.realm == "" {
			s.realm = strings.ToUpper(realm)
		}
	}

	if s.realm == "" {
		return nil, errors.New("kerberos realm is required (set a realm or use a user@REALM principal)")
	}

	if s.principal == "" && s.ccache == "" {
		return nil, errors.New("principal is required for Kerberos authentication")
	}

	return s, nil
}

// loadKrb5Config reads krb5.conf. When the default file is absent a runtime
// configuration that finds KDCs through DNS is used instead; an explicitly
// configured file must exist.
func loadKrb5Config(ctx context.Context, s *kerberosSettings) (*config.Config, error) {
	if fileExists(s.krb5conf) {
		krb5conf, err := config.Load(s.krb5conf)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", s.krb5conf, err)
		}
		return krb5conf, nil
	}

	if s.explicit {
		return nil, fmt.Errorf("Kerberos configuration file not found at %s; "+
			"create it or omit --krb5-config to discover KDCs through DNS. Example:\n%s",
			s.krb5conf, generateExampleKrb5Conf(s.realm))
	}

	runtime, err := generateRuntimeKrb5Conf(ctx, s.realm)
	if err != nil {
		return nil, err
	}

	krb5conf, err := config.NewFromString(runtime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated krb5.conf: %w", err)
	}
	return krb5conf, nil
}

// createGSSAPIClient creates a GSSAPI client based on the configuration.
// Priority order: credential cache, keytab, password, default credential cache.
func createGSSAPIClient(s *kerberosSettings, krb5conf *config.Config) (*gssapi.Client, string, error) {
	disableFAST := krb5client.DisablePAFXFAST(true)

	if s.ccache != "" {
		client, err := clientFromCCache(s.ccache, krb5conf)
		return client, "ccache", err
	}

	if s.keytab != "" {
		kt, err := keytab.Load(s.keytab)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load keytab %s: %w", s.keytab, err)
		}
		client := krb5client.NewWithKeytab(s.principal, s.realm, kt, krb5conf, disableFAST)
		return &gssapi.Client{Client: client}, "keytab", nil
	}

	if s.password != "" {
		client := krb5client.NewWithPassword(s.principal, s.realm, s.password, krb5conf, disableFAST)
		return &gssapi.Client{Client: client}, "password", nil
	}

	if ccache := defaultCCachePath(); fileExists(ccache) {
		client, err := clientFromCCache(ccache, krb5conf)
		return client, "default_ccache", err
	}

	return nil, "", errors.New("no suitable credentials found for Kerberos authentication")
}

func clientFromCCache(path string, krb5conf *config.Config) (*gssapi.Client, error) {
	ccache, err := credentials.LoadCCache(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential cache %s: %w", path, err)
	}

	client, err := krb5client.NewFromCCache(ccache, krb5conf, krb5client.DisablePAFXFAST(true))
	if err != nil {
		return nil, fmt.Errorf("failed to use credential cache %s: %w", path, err)
	}

	return &gssapi.Client{Client: client}, nil
}

// buildServicePrincipal constructs the LDAP service principal name from server info.
func buildServicePrincipal(s *kerberosSettings, server *ServerInfo) (string, error) {
	if s.spn != "" {
		return s.spn, nil
	}

	if server == nil || server.Host == "" {
		return "", errors.New("hostname is required for service principal")
	}

	return "ldap/" + server.Host, nil
}

// defaultCCachePath returns the default credential cache location.
func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
