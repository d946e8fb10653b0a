package ldap

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// BuildTLSConfig returns the TLS configuration used for both LDAPS dials and
// StartTLS upgrades against host. The returned config is a fresh copy that
// callers may keep per connection.
func BuildTLSConfig(cfg *ConnectionConfig, host string) (*tls.Config, error) {
	if cfg == nil {
		return nil, errors.New("configuration cannot be nil")
	}

	var tlsConfig *tls.Config
	if cfg.TLSConfig != nil {
		tlsConfig = cfg.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // explicit opt-out for lab directories
	}

	switch {
	case cfg.TLSServerName != "":
		tlsConfig.ServerName = cfg.TLSServerName
	case tlsConfig.ServerName == "":
		tlsConfig.ServerName = host
	}

	if cfg.TLSCACertFile != "" || cfg.TLSCACert != "" {
		pool := x509.NewCertPool()

		if cfg.TLSCACertFile != "" {
			pem, err := os.ReadFile(cfg.TLSCACertFile)
			if err != nil {
				return nil, fmt.Errorf("read CA certificate: %w", err)
			}
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", cfg.TLSCACertFile)
			}
		}

		if cfg.TLSCACert != "" && !pool.AppendCertsFromPEM([]byte(cfg.TLSCACert)) {
			return nil, errors.New("no certificates found in inline CA certificate")
		}

		tlsConfig.RootCAs = pool
	}

	if cfg.TLSClientCertFile != "" && cfg.TLSClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSClientCertFile, cfg.TLSClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// TLSVersion parses "1.0" through "1.3" into a crypto/tls version constant.
func TLSVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", v)
	}
}
