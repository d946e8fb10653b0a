// Package config loads ldapprobe options from flags, the environment and an
// optional config file, and turns them into probe and runner settings.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/viper"

	"github.com/isometry/ldapprobe/internal/ldap"
	"github.com/isometry/ldapprobe/internal/matrix"
	"github.com/isometry/ldapprobe/internal/probe"
)

// EnvPrefix prefixes every environment variable, e.g. LDAPPROBE_TIMEOUT.
const EnvPrefix = "LDAPPROBE"

// Output formats.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Config holds every run option. The mapstructure keys are the CLI flag names.
type Config struct {
	// Matrix
	Modes       []string      `mapstructure:"mode" default:"[\"plain\",\"starttls\",\"ldaps\"]"`
	Repeat      int           `mapstructure:"repeat" default:"1"`
	Timeout     time.Duration `mapstructure:"timeout" default:"10s"`
	Delay       time.Duration `mapstructure:"delay" default:"0s"`
	Concurrency int           `mapstructure:"concurrency" default:"1"`
	Domain      string        `mapstructure:"domain"`

	// Probe behaviour
	StrictUnbind bool `mapstructure:"strict-unbind"`
	WhoAmI       bool `mapstructure:"whoami"`

	// TLS
	InsecureSkipVerify bool   `mapstructure:"insecure-skip-verify"`
	CACert             string `mapstructure:"ca-cert"`
	ClientCert         string `mapstructure:"client-cert"`
	ClientKey          string `mapstructure:"client-key"`
	ServerName         string `mapstructure:"server-name"`
	TLSMinVersion      string `mapstructure:"tls-min-version" default:"1.2"`

	// Authentication
	Auth       string `mapstructure:"auth" default:"simple"`
	Krb5Config string `mapstructure:"krb5-config"`
	Krb5Realm  string `mapstructure:"krb5-realm"`
	Krb5Keytab string `mapstructure:"krb5-keytab"`
	Krb5CCache string `mapstructure:"krb5-ccache"`
	Krb5SPN    string `mapstructure:"krb5-spn"`

	// Output
	Output          string `mapstructure:"output" default:"text"`
	MetricsTextfile string `mapstructure:"metrics-textfile"`
	LogLevel        string `mapstructure:"log-level" default:"warn"`
}

// Default returns a Config populated from the default tags.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}
	return cfg, nil
}

// NewViper returns a viper instance with every key registered at its default
// and LDAPPROBE_* environment overrides enabled.
func NewViper() (*viper.Viper, error) {
	def, err := Default()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rv := reflect.ValueOf(def).Elem()
	rt := rv.Type()
	for i := range rt.NumField() {
		if key := rt.Field(i).Tag.Get("mapstructure"); key != "" {
			v.SetDefault(key, rv.Field(i).Interface())
		}
	}

	return v, nil
}

// Load reads an optional config file into v and decodes the merged settings.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, &matrix.ConfigError{
				Field:   "config",
				Value:   file,
				Message: fmt.Sprintf("failed to read config file: %v", err),
			}
		}
	}

	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &matrix.ConfigError{
			Field:   "config",
			Message: fmt.Sprintf("failed to decode configuration: %v", err),
		}
	}

	return cfg, nil
}

// Validate checks every option and returns the first problem as a *matrix.ConfigError.
func (c *Config) Validate() error {
	if _, err := c.ConnectionModes(); err != nil {
		return &matrix.ConfigError{Field: "mode", Value: strings.Join(c.Modes, ","), Message: err.Error()}
	}

	if c.Repeat < 1 {
		return &matrix.ConfigError{Field: "repeat", Value: c.Repeat, Message: "repetitions must be at least 1"}
	}

	if c.Timeout <= 0 {
		return &matrix.ConfigError{Field: "timeout", Value: c.Timeout, Message: "timeout must be positive", Hint: "use a duration such as 10s"}
	}

	if c.Delay < 0 {
		return &matrix.ConfigError{Field: "delay", Value: c.Delay, Message: "delay cannot be negative"}
	}

	if c.Concurrency < 1 {
		return &matrix.ConfigError{Field: "concurrency", Value: c.Concurrency, Message: "concurrency must be at least 1"}
	}

	switch c.Output {
	case OutputText, OutputJSON:
	default:
		return &matrix.ConfigError{Field: "output", Value: c.Output, Message: "unknown output format", Hint: "use text or json"}
	}

	if c.LogLevel != "" && hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return &matrix.ConfigError{Field: "log-level", Value: c.LogLevel, Message: "unknown log level", Hint: "use trace, debug, info, warn, error or off"}
	}

	if _, err := ldap.TLSVersion(c.TLSMinVersion); err != nil {
		return &matrix.ConfigError{Field: "tls-min-version", Value: c.TLSMinVersion, Message: err.Error()}
	}

	method, err := ldap.ParseAuthMethod(c.Auth)
	if err != nil {
		return &matrix.ConfigError{Field: "auth", Value: c.Auth, Message: err.Error()}
	}

	if (c.ClientCert == "") != (c.ClientKey == "") {
		return &matrix.ConfigError{Field: "client-cert", Message: "client certificate and key must be provided together", Hint: "set both --client-cert and --client-key"}
	}

	if method == ldap.AuthMethodExternal && c.ClientCert == "" {
		return &matrix.ConfigError{Field: "auth", Value: c.Auth, Message: "external authentication requires a client certificate", Hint: "set --client-cert and --client-key"}
	}

	conn, err := c.ConnectionConfig()
	if err != nil {
		return &matrix.ConfigError{Field: "auth", Value: c.Auth, Message: err.Error()}
	}
	if err := conn.Validate(); err != nil {
		return &matrix.ConfigError{Field: "auth", Value: c.Auth, Message: err.Error()}
	}

	return nil
}

// ConnectionModes parses the configured mode names.
func (c *Config) ConnectionModes() ([]probe.ConnectionMode, error) {
	modes, err := probe.ParseModes(c.Modes)
	if err != nil {
		return nil, err
	}
	if len(modes) == 0 {
		return nil, errors.New("at least one connection mode is required")
	}
	return modes, nil
}

// ConnectionConfig builds the per-probe connection settings.
func (c *Config) ConnectionConfig() (*ldap.ConnectionConfig, error) {
	method, err := ldap.ParseAuthMethod(c.Auth)
	if err != nil {
		return nil, err
	}

	minVersion, err := ldap.TLSVersion(c.TLSMinVersion)
	if err != nil {
		return nil, err
	}

	cfg := ldap.DefaultConfig()
	cfg.Timeout = c.Timeout
	cfg.AuthMethod = method
	cfg.TLSConfig.MinVersion = minVersion
	cfg.InsecureSkipVerify = c.InsecureSkipVerify
	cfg.TLSServerName = c.ServerName
	cfg.TLSCACertFile = c.CACert
	cfg.TLSClientCertFile = c.ClientCert
	cfg.TLSClientKeyFile = c.ClientKey
	cfg.KerberosConfig = c.Krb5Config
	cfg.KerberosRealm = c.Krb5Realm
	cfg.KerberosKeytab = c.Krb5Keytab
	cfg.KerberosCCache = c.Krb5CCache
	cfg.KerberosSPN = c.Krb5SPN

	return cfg, nil
}

// Plan builds the matrix plan for host and creds.
func (c *Config) Plan(host string, creds probe.Credentials) (matrix.Plan, error) {
	modes, err := c.ConnectionModes()
	if err != nil {
		return matrix.Plan{}, &matrix.ConfigError{Field: "mode", Value: strings.Join(c.Modes, ","), Message: err.Error()}
	}

	return matrix.Plan{
		Host:        host,
		Credentials: creds,
		Modes:       modes,
		Repetitions: c.Repeat,
	}, nil
}

// Level returns the configured log level, defaulting to warn.
func (c *Config) Level() hclog.Level {
	if c.LogLevel == "" {
		return hclog.Warn
	}
	return hclog.LevelFromString(c.LogLevel)
}
