package auth

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Role is a closed privilege level. Roles are totally ordered:
// RoleViewer < RoleEditor < RoleAdmin < RoleOwner. The zero value is not a role.
type Role uint8

const (
	RoleViewer Role = iota + 1
	RoleEditor
	RoleAdmin
	RoleOwner
)

// DefaultRole is assigned on registration when no role is requested.
const DefaultRole = RoleViewer

var roleNames = [...]string{
	RoleViewer: "VIEWER",
	RoleEditor: "EDITOR",
	RoleAdmin:  "ADMIN",
	RoleOwner:  "OWNER",
}

// Roles lists every role from least to most privileged.
func Roles() []Role {
	return []Role{RoleViewer, RoleEditor, RoleAdmin, RoleOwner}
}

// Valid reports whether r is one of the four defined roles.
func (r Role) Valid() bool {
	return r >= RoleViewer && r <= RoleOwner
}

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
	return roleNames[r]
}

// ParseRole accepts the canonical upper-case names, case-insensitively.
func ParseRole(s string) (Role, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for _, r := range Roles() {
		if roleNames[r] == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("auth: cannot marshal invalid role %d", uint8(r))
	}
	return []byte(roleNames[r]), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Value stores the role by name so the column check constraint can enforce the enum.
func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("auth: cannot store invalid role %d", uint8(r))
	}
	return roleNames[r], nil
}

// Scan rejects anything that is not a defined role name.
func (r *Role) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return r.UnmarshalText([]byte(v))
	case []byte:
		return r.UnmarshalText(v)
	default:
		return fmt.Errorf("auth: cannot scan %T into Role", src)
	}
}

// HasRole reports whether current is at least as privileged as required.
// Invalid roles never satisfy a requirement.
func HasRole(current, required Role) bool {
	if !current.Valid() || !required.Valid() {
		return false
	}
	return current >= required
}
