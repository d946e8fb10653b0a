package ldap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Default LDAP ports.
const (
	DefaultLDAPPort  = 389
	DefaultLDAPSPort = 636
)

// SRVResolver is the part of *net.Resolver used for discovery.
type SRVResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// SRVDiscovery handles DNS SRV record discovery for domain controllers.
type SRVDiscovery struct {
	resolver SRVResolver
}

// NewSRVDiscovery creates a new SRV discovery instance using the default resolver.
func NewSRVDiscovery() *SRVDiscovery {
	return NewSRVDiscoveryWithResolver(net.DefaultResolver)
}

// NewSRVDiscoveryWithResolver creates an SRV discovery instance using resolver.
func NewSRVDiscoveryWithResolver(resolver SRVResolver) *SRVDiscovery {
	return &SRVDiscovery{resolver: resolver}
}

// DiscoverServers discovers LDAP servers for a domain using SRV records
// Implements the discovery priority:
// 1. _ldaps._tcp.<domain> (LDAPS - preferred)
// 2. _ldap._tcp.<domain> (LDAP+StartTLS - fallback)
// 3. _gc._tcp.<domain> (Global Catalog - last resort).
func (d *SRVDiscovery) DiscoverServers(ctx context.Context, domain string) ([]*ServerInfo, error) {
	if domain == "" {
		return nil, errors.New("domain cannot be empty")
	}

	start := time.Now()
	tflog.SubsystemDebug(ctx, Subsystem, "Starting server discovery for domain", map[string]any{
		"domain": domain,
	})

	var allServers []*ServerInfo

	srvRecords := []struct {
		service string
		useTLS  bool
	}{
		{"_ldaps._tcp." + domain, true},
		{"_ldap._tcp." + domain, false},
		{"_gc._tcp." + domain, false},
	}

	for _, record := range srvRecords {
		servers, err := d.lookupSRV(ctx, record.service, record.useTLS)
		if err != nil {
			tflog.SubsystemDebug(ctx, Subsystem, "SRV lookup failed, continuing to next service", map[string]any{
				"service": record.service,
				"error":   err.Error(),
			})
			continue
		}
		d.sortServersByPriority(servers)
		allServers = append(allServers, servers...)
	}

	if len(allServers) == 0 {
		return nil, fmt.Errorf("no LDAP servers discovered for domain %s", domain)
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Server discovery completed", map[string]any{
		"duration":     time.Since(start).String(),
		"server_count": len(allServers),
	})
	return allServers, nil
}

// lookupSRV performs SRV record lookup for a specific service.
func (d *SRVDiscovery) lookupSRV(ctx context.Context, service string, useTLS bool) ([]*ServerInfo, error) {
	_, srvRecords, err := d.resolver.LookupSRV(ctx, "", "", service)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup failed for %s: %w", service, err)
	}

	if len(srvRecords) == 0 {
		return nil, fmt.Errorf("no SRV records found for %s", service)
	}

	servers := make([]*ServerInfo, 0, len(srvRecords))
	for _, srv := range srvRecords {
		servers = append(servers, &ServerInfo{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     int(srv.Port),
			UseTLS:   useTLS,
			Priority: int(srv.Priority),
			Weight:   int(srv.Weight),
			Source:   "srv",
		})
	}

	return servers, nil
}

// sortServersByPriority sorts servers by priority and weight according to RFC 2782.
func (d *SRVDiscovery) sortServersByPriority(servers []*ServerInfo) {
	sort.SliceStable(servers, func(i, j int) bool {
		if servers[i].Priority != servers[j].Priority {
			return servers[i].Priority < servers[j].Priority
		}
		return servers[i].Weight > servers[j].Weight
	})
}

// ValidateServerInfo validates server information.
func ValidateServerInfo(server *ServerInfo) error {
	if server == nil {
		return errors.New("server info cannot be nil")
	}

	if server.Host == "" {
		return errors.New("server host cannot be empty")
	}

	if server.Port <= 0 || server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", server.Port)
	}

	return nil
}

// ServerInfoToURL converts ServerInfo to LDAP URL.
func ServerInfoToURL(server *ServerInfo) string {
	scheme := "ldap"
	if server.UseTLS {
		scheme = "ldaps"
	}

	return scheme + "://" + server.Address()
}

// Address returns the host:port dial address of the server.
func (s *ServerInfo) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ParseLDAPURL parses an ldap:// or ldaps:// URL into ServerInfo, filling in
// the default port for the scheme.
func ParseLDAPURL(rawURL string) (*ServerInfo, error) {
	if rawURL == "" {
		return nil, errors.New("URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL: %w", err)
	}

	server := &ServerInfo{
		Host:   u.Hostname(),
		Weight: 100,
		Source: "config",
	}

	switch strings.ToLower(u.Scheme) {
	case "ldaps":
		server.UseTLS = true
		server.Port = DefaultLDAPSPort
	case "ldap":
		server.Port = DefaultLDAPPort
	default:
		return nil, errors.New("unsupported scheme, must be ldap:// or ldaps://")
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %s", p)
		}
		server.Port = port
	}

	return server, ValidateServerInfo(server)
}
