package domain

import (
	"fmt"
	"strings"
)

// Role is the side of a replication pairing this process plays.
type Role uint8

const (
	// RoleUnknown is the zero value; never valid for a running session.
	RoleUnknown Role = iota
	// RolePrimary runs the checkpoint transaction loop.
	RolePrimary
	// RoleSecondary receives and applies checkpoints.
	RoleSecondary
)

// String returns the configuration spelling of the role.
func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// Valid reports whether r is primary or secondary.
func (r Role) Valid() bool {
	return r == RolePrimary || r == RoleSecondary
}

// ParseRole parses "primary" or "secondary" (case-insensitive).
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "master":
		return RolePrimary, nil
	case "secondary", "slave":
		return RoleSecondary, nil
	default:
		return RoleUnknown, ErrInvalidRole.WithDetails(fmt.Sprintf("%q", s))
	}
}
