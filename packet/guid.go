package packet

import "github.com/google/uuid"

// GUID addresses a plugin instance or a replicated object independently of hostnames.
// Equality is bitwise.
type GUID = uuid.UUID

// GUIDSize is the wire size of a GUID.
const GUIDSize = 16

func NewGUID() GUID {
	return uuid.New()
}

// MustParseGUID is intended for package level GUID constants.
func MustParseGUID(s string) GUID {
	return uuid.MustParse(s)
}
