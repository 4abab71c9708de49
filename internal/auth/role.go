package auth

import "fmt"

// Role is the privilege level attached to an API key. Roles are ordered:
// Admin > Trader > Viewer. A command declares a minimum role and a caller's
// role must be at least that minimum.
type Role int

const (
	RoleViewer Role = iota
	RoleTrader
	RoleAdmin
)

// String returns the configuration/wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleTrader:
		return "trader"
	case RoleViewer:
		return "viewer"
	default:
		return "unknown"
	}
}

// AtLeast reports whether r carries at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// ParseRole converts a configuration string into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "admin":
		return RoleAdmin, nil
	case "trader":
		return RoleTrader, nil
	case "viewer":
		return RoleViewer, nil
	default:
		return RoleViewer, fmt.Errorf("unknown role: %q", s)
	}
}
