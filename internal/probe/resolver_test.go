package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		host string
		mode ConnectionMode
		want Endpoint
	}{
		{
			name: "plain",
			host: "dc1.example.com",
			mode: ModePlain,
			want: Endpoint{Host: "dc1.example.com", Mode: ModePlain, Scheme: SchemePlain, URL: "ldap://dc1.example.com"},
		},
		{
			name: "starttls",
			host: "dc1.example.com",
			mode: ModeStartTLS,
			want: Endpoint{Host: "dc1.example.com", Mode: ModeStartTLS, Scheme: SchemePlain, UpgradeRequested: true, URL: "ldap://dc1.example.com"},
		},
		{
			name: "ldaps",
			host: "dc1.example.com",
			mode: ModeLDAPS,
			want: Endpoint{Host: "dc1.example.com", Mode: ModeLDAPS, Scheme: SchemeEncrypted, URL: "ldaps://dc1.example.com"},
		},
		{
			name: "host with port",
			host: "dc1.example.com:3269",
			mode: ModeLDAPS,
			want: Endpoint{Host: "dc1.example.com:3269", Mode: ModeLDAPS, Scheme: SchemeEncrypted, URL: "ldaps://dc1.example.com:3269"},
		},
		{
			name: "bare ipv6",
			host: "2001:db8::1",
			mode: ModePlain,
			want: Endpoint{Host: "2001:db8::1", Mode: ModePlain, Scheme: SchemePlain, URL: "ldap://[2001:db8::1]"},
		},
		{
			name: "bracketed ipv6 with port",
			host: "[2001:db8::1]:10389",
			mode: ModeStartTLS,
			want: Endpoint{Host: "[2001:db8::1]:10389", Mode: ModeStartTLS, Scheme: SchemePlain, UpgradeRequested: true, URL: "ldap://[2001:db8::1]:10389"},
		},
		{
			name: "unknown mode behaves as plain",
			host: "dc1.example.com",
			mode: ConnectionMode(9),
			want: Endpoint{Host: "dc1.example.com", Mode: ConnectionMode(9), Scheme: SchemePlain, URL: "ldap://dc1.example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.host, tt.mode))
		})
	}
}

func TestResolve_Deterministic(t *testing.T) {
	for _, mode := range AllModes {
		assert.Equal(t, Resolve("dc1.example.com", mode), Resolve("dc1.example.com", mode), mode.String())
	}
}
