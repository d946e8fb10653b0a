package ldap

import (
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// GUIDBytesLength is the size of a binary objectGUID.
const GUIDBytesLength = 16

// GUIDHandler provides GUID operations for Active Directory.
// Active Directory stores GUIDs in a mixed-endian format that differs from standard UUID byte ordering.
type GUIDHandler struct{}

// NewGUIDHandler creates a new GUID handler instance.
func NewGUIDHandler() *GUIDHandler {
	return &GUIDHandler{}
}

// GUIDBytesToString converts Active Directory GUID bytes to standard string format.
func (g *GUIDHandler) GUIDBytesToString(guidBytes []byte) (string, error) {
	if len(guidBytes) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(guidBytes))
	}

	// Data1, Data2 and Data3 are little-endian; Data4 is stored as-is.
	standard := []byte{
		guidBytes[3], guidBytes[2], guidBytes[1], guidBytes[0],
		guidBytes[5], guidBytes[4],
		guidBytes[7], guidBytes[6],
	}
	standard = append(standard, guidBytes[8:]...)

	id, err := uuid.FromBytes(standard)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ExtractGUID extracts the objectGUID from an LDAP entry and returns it as a string.
func (g *GUIDHandler) ExtractGUID(entry *ldap.Entry) (string, error) {
	if entry == nil {
		return "", errors.New("LDAP entry cannot be nil")
	}

	guidAttr := entry.GetRawAttributeValue("objectGUID")
	if len(guidAttr) == 0 {
		return "", errors.New("objectGUID attribute not found in entry")
	}

	return g.GUIDBytesToString(guidAttr)
}
