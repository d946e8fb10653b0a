package probe

import (
	"errors"
	"fmt"
	"time"

	"github.com/isometry/ldapprobe/internal/ldap"
)

// ErrCredentialsRejected matches authenticate failures where the server
// answered the bind with a non-success result.
var ErrCredentialsRejected = errors.New("credentials rejected by server")

// Phase identifies a step of the probe sequence.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseConnect
	PhaseUpgrade
	PhaseAuthenticate
	PhaseIdentify
	PhaseDisconnect
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return ""
	case PhaseConnect:
		return "connect"
	case PhaseUpgrade:
		return "upgrade"
	case PhaseAuthenticate:
		return "authenticate"
	case PhaseIdentify:
		return "identify"
	case PhaseDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	for candidate := PhaseNone; candidate <= PhaseDisconnect; candidate++ {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// Outcome is the overall verdict of a probe.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failure"
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "success":
		*o = OutcomeSuccess
	case "failure":
		*o = OutcomeFailure
	default:
		return fmt.Errorf("unknown outcome %q", text)
	}
	return nil
}

// PhaseError is a failure attributed to one phase of a probe.
type PhaseError struct {
	Phase    Phase
	Rejected bool   // authenticate only: the server refused the bind
	Code     uint16 // LDAP result code when the server sent one
	Err      error
}

func (e *PhaseError) Error() string {
	switch {
	case e.Phase == PhaseAuthenticate && e.Rejected:
		return fmt.Sprintf("authenticate: server rejected bind: %v", e.Err)
	case e.Phase == PhaseAuthenticate:
		return fmt.Sprintf("authenticate: bind exchange failed: %v", e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Phase, e.Err)
	}
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Is reports rejected binds as ErrCredentialsRejected.
func (e *PhaseError) Is(target error) bool {
	return target == ErrCredentialsRejected && e.Rejected
}

// Warning is a non-fatal problem observed during a successful probe.
type Warning struct {
	Phase  Phase  `json:"phase"`
	Detail string `json:"detail"`
}

// Result is the outcome of one probe. It is never modified after the probe returns it.
type Result struct {
	Mode      ConnectionMode `json:"mode"`
	Attempt   int            `json:"attempt"`
	Endpoint  string         `json:"endpoint"`
	Outcome   Outcome        `json:"outcome"`
	Phase     Phase          `json:"phase,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Rejected  bool           `json:"rejected,omitempty"`
	Category  string         `json:"category,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
	Warnings  []Warning      `json:"warnings,omitempty"`
	Identity  *ldap.Identity `json:"identity,omitempty"`
	Duration  time.Duration  `json:"-"`
	LatencyMs float64        `json:"latency_ms"`
	Err       error          `json:"-"`
}

// Succeeded reports whether the probe completed its sequence.
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}
