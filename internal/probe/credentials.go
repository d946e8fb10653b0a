package probe

import (
	"encoding/json"
	"fmt"
)

const redacted = "[REDACTED]"

// Credentials identify the principal a probe binds as. The secret is never
// rendered by String, GoString, Format or JSON encoding.
type Credentials struct {
	Principal string
	Secret    string
}

func (c Credentials) String() string {
	if c.Secret == "" {
		return c.Principal
	}
	return c.Principal + ":" + redacted
}

// GoString keeps %#v from printing the secret.
func (c Credentials) GoString() string {
	return fmt.Sprintf("probe.Credentials{Principal:%q, Secret:%q}", c.Principal, redacted)
}

// Format routes every verb through String so %+v is also safe.
func (c Credentials) Format(f fmt.State, verb rune) {
	if verb == 'v' && f.Flag('#') {
		_, _ = fmt.Fprint(f, c.GoString())
		return
	}
	_, _ = fmt.Fprint(f, c.String())
}

// MarshalJSON implements json.Marshaler.
func (c Credentials) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Principal string `json:"principal"`
		Secret    string `json:"secret,omitempty"`
	}{
		Principal: c.Principal,
		Secret:    redactIfSet(c.Secret),
	})
}

func redactIfSet(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}
