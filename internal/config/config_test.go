package config

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldapprobe/internal/ldap"
	"github.com/isometry/ldapprobe/internal/matrix"
	"github.com/isometry/ldapprobe/internal/probe"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{"plain", "starttls", "ldaps"}, cfg.Modes)
	assert.Equal(t, 1, cfg.Repeat)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Zero(t, cfg.Delay)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, "1.2", cfg.TLSMinVersion)
	assert.Equal(t, "simple", cfg.Auth)
	assert.Equal(t, OutputText, cfg.Output)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("LDAPPROBE_MODE", "ldaps,starttls")
	t.Setenv("LDAPPROBE_REPEAT", "5")
	t.Setenv("LDAPPROBE_TIMEOUT", "3s")
	t.Setenv("LDAPPROBE_STRICT_UNBIND", "true")
	t.Setenv("LDAPPROBE_INSECURE_SKIP_VERIFY", "true")

	v, err := NewViper()
	require.NoError(t, err)

	cfg, err := Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"ldaps", "starttls"}, cfg.Modes)
	assert.Equal(t, 5, cfg.Repeat)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.True(t, cfg.StrictUnbind)
	assert.True(t, cfg.InsecureSkipVerify)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ldapprobe.yaml")
	content := `
mode: [plain, ldaps]
repeat: 3
delay: 250ms
concurrency: 2
auth: kerberos
krb5-realm: EXAMPLE.COM
output: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("LDAPPROBE_REPEAT", "7")

	v, err := NewViper()
	require.NoError(t, err)

	cfg, err := Load(v, path)
	require.NoError(t, err)

	assert.Equal(t, []string{"plain", "ldaps"}, cfg.Modes)
	assert.Equal(t, 7, cfg.Repeat, "environment overrides the config file")
	assert.Equal(t, 250*time.Millisecond, cfg.Delay)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, "kerberos", cfg.Auth)
	assert.Equal(t, "EXAMPLE.COM", cfg.Krb5Realm)
	assert.Equal(t, OutputJSON, cfg.Output)
}

func TestLoad_MissingFile(t *testing.T) {
	v, err := NewViper()
	require.NoError(t, err)

	_, err = Load(v, filepath.Join(t.TempDir(), "absent.yaml"))

	var ce *matrix.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "config", ce.Field)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "unknown mode", mutate: func(c *Config) { c.Modes = []string{"plain", "sasl"} }, wantField: "mode"},
		{name: "duplicate mode", mutate: func(c *Config) { c.Modes = []string{"ldaps", "tls"} }, wantField: "mode"},
		{name: "no modes", mutate: func(c *Config) { c.Modes = nil }, wantField: "mode"},
		{name: "zero repeat", mutate: func(c *Config) { c.Repeat = 0 }, wantField: "repeat"},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, wantField: "timeout"},
		{name: "negative delay", mutate: func(c *Config) { c.Delay = -time.Second }, wantField: "delay"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Concurrency = 0 }, wantField: "concurrency"},
		{name: "bad output", mutate: func(c *Config) { c.Output = "yaml" }, wantField: "output"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantField: "log-level"},
		{name: "bad tls version", mutate: func(c *Config) { c.TLSMinVersion = "2.0" }, wantField: "tls-min-version"},
		{name: "bad auth", mutate: func(c *Config) { c.Auth = "ntlm" }, wantField: "auth"},
		{name: "cert without key", mutate: func(c *Config) { c.ClientCert = "client.pem" }, wantField: "client-cert"},
		{name: "external without cert", mutate: func(c *Config) { c.Auth = "external" }, wantField: "auth"},
		{
			name: "external with cert",
			mutate: func(c *Config) {
				c.Auth = "external"
				c.ClientCert = "client.pem"
				c.ClientKey = "client.key"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Default()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}

			var ce *matrix.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantField, ce.Field)
		})
	}
}

func TestConfig_ConnectionConfig(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	cfg.Timeout = 4 * time.Second
	cfg.Auth = "gssapi"
	cfg.TLSMinVersion = "1.3"
	cfg.InsecureSkipVerify = true
	cfg.ServerName = "ldap.example.com"
	cfg.CACert = "/etc/ssl/ca.pem"
	cfg.Krb5Realm = "EXAMPLE.COM"
	cfg.Krb5SPN = "ldap/dc1.example.com"

	conn, err := cfg.ConnectionConfig()
	require.NoError(t, err)

	assert.Equal(t, 4*time.Second, conn.Timeout)
	assert.Equal(t, ldap.AuthMethodKerberos, conn.AuthMethod)
	assert.Equal(t, uint16(tls.VersionTLS13), conn.TLSConfig.MinVersion)
	assert.True(t, conn.InsecureSkipVerify)
	assert.Equal(t, "ldap.example.com", conn.TLSServerName)
	assert.Equal(t, "/etc/ssl/ca.pem", conn.TLSCACertFile)
	assert.Equal(t, "EXAMPLE.COM", conn.KerberosRealm)
	assert.Equal(t, "ldap/dc1.example.com", conn.KerberosSPN)
}

func TestConfig_Plan(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Modes = []string{"ldaps,plain"}
	cfg.Repeat = 3

	creds := probe.Credentials{Principal: "alice@example.com", Secret: "pw"}
	plan, err := cfg.Plan("dc1.example.com", creds)
	require.NoError(t, err)

	assert.Equal(t, matrix.Plan{
		Host:        "dc1.example.com",
		Credentials: creds,
		Modes:       []probe.ConnectionMode{probe.ModeLDAPS, probe.ModePlain},
		Repetitions: 3,
	}, plan)
	assert.NoError(t, plan.Validate())
}

func TestConfig_Level(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, hclog.Warn, cfg.Level())

	cfg.LogLevel = "DEBUG"
	assert.Equal(t, hclog.Debug, cfg.Level())
}
