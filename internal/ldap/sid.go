package ldap

import (
	"errors"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
)

// minSIDLength is the size of a SID with zero sub-authorities.
const minSIDLength = 8

// SIDHandler provides SID operations for Active Directory.
// Active Directory stores SIDs in binary format that needs to be converted to human-readable strings.
type SIDHandler struct{}

// NewSIDHandler creates a new SID handler instance.
func NewSIDHandler() *SIDHandler {
	return &SIDHandler{}
}

// ConvertBinarySIDToString converts a binary SID to its S-1-5-21-... form.
func (s *SIDHandler) ConvertBinarySIDToString(binarySID []byte) (string, error) {
	if len(binarySID) < minSIDLength {
		return "", errors.New("binary SID is too short")
	}

	// byte 1 carries the sub-authority count, four bytes each
	if want := minSIDLength + 4*int(binarySID[1]); len(binarySID) < want {
		return "", errors.New("binary SID is truncated")
	}

	return objectsid.Decode(binarySID).String(), nil
}

// ExtractSID extracts the objectSid from an LDAP entry and returns it as a string.
func (s *SIDHandler) ExtractSID(entry *ldap.Entry) (string, error) {
	if entry == nil {
		return "", errors.New("LDAP entry cannot be nil")
	}

	sidBytes := entry.GetRawAttributeValue("objectSid")
	if len(sidBytes) == 0 {
		return "", errors.New("objectSid attribute not found in entry")
	}

	return s.ConvertBinarySIDToString(sidBytes)
}
