package matrix

import (
	"strings"

	"github.com/isometry/ldapprobe/internal/probe"
)

// Plan describes one matrix run: every listed mode, Repetitions times each.
// A mode may be listed more than once; each listing runs its own repetitions.
type Plan struct {
	Host        string
	Credentials probe.Credentials
	Modes       []probe.ConnectionMode
	Repetitions int
}

// Validate returns a *ConfigError for a plan that cannot be run.
func (p Plan) Validate() error {
	if strings.TrimSpace(p.Host) == "" {
		return &ConfigError{
			Field:   "host",
			Message: "a target host is required",
			Hint:    "pass it as the third argument or use --domain for SRV discovery",
		}
	}

	if len(p.Modes) == 0 {
		return &ConfigError{
			Field:   "mode",
			Message: "at least one connection mode is required",
			Hint:    "use --mode plain,starttls,ldaps",
		}
	}

	for _, m := range p.Modes {
		switch m {
		case probe.ModePlain, probe.ModeStartTLS, probe.ModeLDAPS:
		default:
			return &ConfigError{Field: "mode", Value: m, Message: "unknown connection mode"}
		}
	}

	if p.Repetitions < 1 {
		return &ConfigError{
			Field:   "repeat",
			Value:   p.Repetitions,
			Message: "repetitions must be at least 1",
		}
	}

	if p.Credentials.Principal == "" {
		return &ConfigError{
			Field:   "principal",
			Message: "a bind principal is required",
		}
	}

	return nil
}

// Attempts is the number of probes the plan runs.
func (p Plan) Attempts() int {
	return len(p.Modes) * p.Repetitions
}
