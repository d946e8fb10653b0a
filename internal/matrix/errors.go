package matrix

import (
	"errors"
	"fmt"
)

// ErrProbesFailed reports that a run completed but at least one attempt failed.
var ErrProbesFailed = errors.New("one or more probes failed")

// ConfigError reports an invalid run parameter. It is returned before any
// probe is attempted.
type ConfigError struct {
	Field   string // flag or config key
	Value   any    // the invalid value (nil if missing)
	Message string // human-readable explanation
	Hint    string // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
