package probe

import (
	"fmt"
	"strings"
)

// ConnectionMode is the transport security used for a probe.
type ConnectionMode int

const (
	// ModePlain connects in plaintext and binds without encryption.
	ModePlain ConnectionMode = iota
	// ModeStartTLS connects in plaintext and upgrades with StartTLS before binding.
	ModeStartTLS
	// ModeLDAPS negotiates TLS before the first LDAP message.
	ModeLDAPS
)

// AllModes lists every mode in canonical order.
var AllModes = []ConnectionMode{ModePlain, ModeStartTLS, ModeLDAPS}

func (m ConnectionMode) String() string {
	switch m {
	case ModePlain:
		return "plain"
	case ModeStartTLS:
		return "starttls"
	case ModeLDAPS:
		return "ldaps"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m ConnectionMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ConnectionMode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseMode parses a mode name. Matching is case-insensitive and accepts a few
// common aliases.
func ParseMode(s string) (ConnectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "ldap", "none":
		return ModePlain, nil
	case "starttls", "start-tls", "opportunistic", "upgrade":
		return ModeStartTLS, nil
	case "ldaps", "tls", "encrypted":
		return ModeLDAPS, nil
	default:
		return ModePlain, fmt.Errorf("unknown connection mode %q (want plain, starttls or ldaps)", s)
	}
}

// ParseModes parses a list of mode names, each of which may itself be a
// comma separated list. Duplicates are rejected.
func ParseModes(names []string) ([]ConnectionMode, error) {
	var modes []ConnectionMode
	seen := make(map[ConnectionMode]bool)

	for _, name := range names {
		for part := range strings.SplitSeq(name, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			mode, err := ParseMode(part)
			if err != nil {
				return nil, err
			}
			if seen[mode] {
				return nil, fmt.Errorf("connection mode %s listed more than once", mode)
			}
			seen[mode] = true
			modes = append(modes, mode)
		}
	}

	return modes, nil
}
