package auth

import (
	"fmt"
	"strings"
)

// Action is an operation a role may be permitted to perform.
type Action string

const (
	ActionView        Action = "view"
	ActionEdit        Action = "edit"
	ActionDelete      Action = "delete"
	ActionManageUsers Action = "manage_users"
)

// minimumRole maps hierarchical actions to the least privileged role allowed.
var minimumRole = map[Action]Role{
	ActionView:   RoleViewer,
	ActionEdit:   RoleEditor,
	ActionDelete: RoleAdmin,
}

// userManagers is a membership set, not a threshold.
var userManagers = map[Role]struct{}{
	RoleAdmin: {},
	RoleOwner: {},
}

// Can reports whether role may perform action. Unknown actions and invalid roles are denied.
func Can(role Role, action Action) bool {
	if !role.Valid() {
		return false
	}
	if action == ActionManageUsers {
		_, ok := userManagers[role]
		return ok
	}
	min, ok := minimumRole[action]
	if !ok {
		return false
	}
	return role >= min
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if a == ActionManageUsers {
		return a, nil
	}
	if _, ok := minimumRole[a]; ok {
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, s)
}
