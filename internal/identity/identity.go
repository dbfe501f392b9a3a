// internal/identity/identity.go
package identity

import (
	"fmt"

	"github.com/google/uuid"
)

// Role determines an actor's borrowing limit and permissions.
type Role string

const (
	RoleLibrarian Role = "librarian"
	RoleMember    Role = "member"
)

// Actor is an already-authenticated caller. Authentication and credential
// handling happen upstream; this package only models the resolved identity.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// ParseRole validates a role string coming from the upstream gateway.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleLibrarian:
		return RoleLibrarian, nil
	case RoleMember:
		return RoleMember, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// IsLibrarian reports whether the actor holds librarian privileges.
func (a Actor) IsLibrarian() bool {
	return a.Role == RoleLibrarian
}
