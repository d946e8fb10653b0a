package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for a single probe connection.
type ConnectionConfig struct {
	// Connection settings
	Timeout time.Duration // Dial and per-request timeout

	// Authentication settings
	AuthMethod     AuthMethod // Bind mechanism
	KerberosRealm  string     // Kerberos realm for GSSAPI authentication
	KerberosKeytab string     // Path to Kerberos keytab file
	KerberosCCache string     // Path to Kerberos credential cache
	KerberosConfig string     // Path to Kerberos config file (krb5.conf)
	KerberosSPN    string     // Explicit service principal (defaults to ldap/<host>)

	// TLS settings
	TLSConfig          *tls.Config // Custom TLS configuration
	InsecureSkipVerify bool        // Skip certificate verification (testing only)
	TLSServerName      string      // Override the name used for certificate verification
	TLSCACertFile      string      // Path to CA certificate file
	TLSCACert          string      // CA certificate content
	TLSClientCertFile  string      // Path to client certificate file
	TLSClientKeyFile   string      // Path to client private key file
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Timeout:    10 * time.Second,
		AuthMethod: AuthMethodSimpleBind,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// Validate checks the configuration for values that can never produce a working connection.
func (c *ConnectionConfig) Validate() error {
	if c == nil {
		return errors.New("configuration cannot be nil")
	}

	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	if (c.TLSClientCertFile == "") != (c.TLSClientKeyFile == "") {
		return errors.New("client certificate and key must be provided together")
	}

	switch c.AuthMethod {
	case AuthMethodSimpleBind:
	case AuthMethodExternal:
		if c.TLSClientCertFile == "" {
			return errors.New("external authentication requires a client certificate")
		}
	case AuthMethodKerberos:
		// realm may still be derived from a user@REALM principal
	default:
		return fmt.Errorf("unsupported authentication method: %s", c.AuthMethod)
	}

	return nil
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// Conn is the subset of *ldap.Conn a probe drives.
type Conn interface {
	StartTLS(config *tls.Config) error
	Bind(username, password string) error
	ExternalBind() error
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error
	WhoAmI(controls []ldap.Control) (*ldap.WhoAmIResult, error)
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Unbind() error
	Close() error
}

var _ Conn = (*ldap.Conn)(nil)

// Dialer opens one connection to a server.
type Dialer interface {
	Dial(ctx context.Context, server *ServerInfo, tlsConfig *tls.Config) (Conn, error)
}

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota // Username/password authentication
	AuthMethodKerberos                     // GSSAPI/Kerberos authentication
	AuthMethodExternal                     // External/certificate authentication
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	case AuthMethodExternal:
		return "external"
	default:
		return "unknown"
	}
}

// ParseAuthMethod parses the textual form produced by AuthMethod.String.
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch s {
	case "", "simple":
		return AuthMethodSimpleBind, nil
	case "kerberos", "gssapi":
		return AuthMethodKerberos, nil
	case "external":
		return AuthMethodExternal, nil
	default:
		return AuthMethodSimpleBind, fmt.Errorf("unknown authentication method %q (want simple, kerberos or external)", s)
	}
}

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents connection-related errors.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}
