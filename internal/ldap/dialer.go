package ldap

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// NetDialer dials real LDAP servers over TCP.
type NetDialer struct {
	Timeout time.Duration // Dial timeout and per-request timeout on the resulting Conn
}

// NewNetDialer returns a dialer using the timeout from cfg.
func NewNetDialer(cfg *ConnectionConfig) *NetDialer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &NetDialer{Timeout: cfg.Timeout}
}

// Dial opens a connection to server. LDAPS servers complete the TLS handshake
// before Dial returns; plaintext servers are returned unencrypted.
func (d *NetDialer) Dial(ctx context.Context, server *ServerInfo, tlsConfig *tls.Config) (Conn, error) {
	if err := ValidateServerInfo(server); err != nil {
		return nil, NewConnectionError("invalid server", false, err)
	}

	url := ServerInfoToURL(server)
	fields := map[string]any{
		"server":  url,
		"use_tls": server.UseTLS,
		"source":  server.Source,
	}
	LogConnectionEvent(ctx, "connection_attempt", fields)

	netDialer := &net.Dialer{Timeout: d.Timeout}

	var (
		netConn net.Conn
		err     error
	)

	start := time.Now()
	if server.UseTLS {
		// Direct TLS connection (LDAPS)
		tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: tlsConfig}
		netConn, err = tlsDialer.DialContext(ctx, "tcp", server.Address())
	} else {
		netConn, err = netDialer.DialContext(ctx, "tcp", server.Address())
	}
	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		LogConnectionEvent(ctx, "connection_failed", fields)
		return nil, NewConnectionError("failed to connect to "+url, true, err)
	}

	conn := ldap.NewConn(netConn, server.UseTLS)
	conn.Start()
	if d.Timeout > 0 {
		conn.SetTimeout(d.Timeout)
	}

	LogConnectionEvent(ctx, "connection_established", fields)
	return conn, nil
}
