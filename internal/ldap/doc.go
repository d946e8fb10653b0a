/*
Package ldap provides the directory-side plumbing for ldapprobe.

It wraps github.com/go-ldap/ldap/v3 behind a narrow Conn interface so that a
probe can be exercised against the real library or a test double.

# Connection Establishment

A Dialer opens a single connection to a server described by ServerInfo:

  - ldaps:// servers are dialed with TLS from the first byte
  - ldap:// servers are dialed in plaintext; StartTLS is left to the caller
  - every dial honours the caller's context and the configured timeout

Connections are never pooled: each probe owns exactly one connection for its
lifetime and releases it on every exit path.

# Authentication

Authenticate binds an open connection using the configured method:

  - simple: username/password bind
  - external: SASL EXTERNAL with a TLS client certificate
  - kerberos: GSSAPI bind using gokrb5 credentials (ccache, keytab or password)

# Identity

Identify issues the WhoAmI extended operation after a successful bind and
classifies the returned authorization ID (DN, UPN, SAM or SID). For DN
identities the DN is normalized and the objectSid and objectGUID attributes are
read and decoded when present.

# Discovery

SRVDiscovery locates domain controllers through DNS SRV records
(_ldaps._tcp, _ldap._tcp, _gc._tcp) for callers that know a domain but no host.

# Error Handling

Errors are categorized (connection, authentication, permission, server, ...)
and ServerResultCode separates result codes sent by the server from failures
raised on the client side of the exchange.

# Logging

All operations log through terraform-plugin-log subsystems. Secrets are never
passed as log fields; SanitizeFields and RedactSecrets provide a second line of
protection for callers that build their own field maps.
*/
package ldap
