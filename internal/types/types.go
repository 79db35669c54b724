// README: Shared value types used across modules.
package types

import (
	"crypto/rand"
	"encoding/hex"
)

type ID string

// NewID returns a 32-char hex identifier.
func NewID() ID {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return ID(hex.EncodeToString(b))
}

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Stop is a geographic point plus the human-readable address it was
// geocoded from.
type Stop struct {
	Address string `json:"address"`
	Point
}

// Direction is the coarse commute direction used to pre-filter candidates.
type Direction string

const (
	ToUniversity   Direction = "to_university"
	FromUniversity Direction = "from_university"
)

func (d Direction) Valid() bool {
	return d == ToUniversity || d == FromUniversity
}

type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

// Opposite returns the counterpart role for candidate lookups.
func (r Role) Opposite() Role {
	if r == RoleDriver {
		return RolePassenger
	}
	return RoleDriver
}
