package probe

import (
	"net"
	"net/url"
	"strings"
)

// Scheme is the transport scheme an endpoint is dialed with.
type Scheme string

const (
	SchemePlain     Scheme = "plain"
	SchemeEncrypted Scheme = "encrypted"
)

// Endpoint is a host resolved for one connection mode.
type Endpoint struct {
	Host             string         `json:"host"`
	Mode             ConnectionMode `json:"mode"`
	Scheme           Scheme         `json:"scheme"`
	UpgradeRequested bool           `json:"upgrade_requested"`
	URL              string         `json:"url"`
}

// Resolve maps host and mode to an endpoint. It never fails: every mode has a
// defined scheme, and unknown mode values are treated as plain.
//
//	plain    -> ldap://host,  no upgrade
//	starttls -> ldap://host,  upgrade requested
//	ldaps    -> ldaps://host, no upgrade
func Resolve(host string, mode ConnectionMode) Endpoint {
	ep := Endpoint{
		Host:   host,
		Mode:   mode,
		Scheme: SchemePlain,
	}

	urlScheme := "ldap"
	switch mode {
	case ModeStartTLS:
		ep.UpgradeRequested = true
	case ModeLDAPS:
		ep.Scheme = SchemeEncrypted
		urlScheme = "ldaps"
	}

	u := url.URL{Scheme: urlScheme, Host: hostForURL(host)}
	ep.URL = u.String()

	return ep
}

// hostForURL brackets bare IPv6 literals so the port separator stays unambiguous.
func hostForURL(host string) string {
	if strings.HasPrefix(host, "[") {
		return host
	}
	addr, _, _ := strings.Cut(host, "%") // zone
	if ip := net.ParseIP(addr); ip != nil && strings.Contains(addr, ":") {
		return "[" + host + "]"
	}
	return host
}
