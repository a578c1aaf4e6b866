package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAgent      = "agent"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// IsKnown reports whether role may be put in a token.
func IsKnown(role string) bool {
	switch role {
	case RoleAgent, RoleSupervisor, RoleAdmin:
		return true
	default:
		return false
	}
}

// CanActForAgent reports whether a caller with role may act on another
// agent's session or calls.
func CanActForAgent(role string) bool {
	return role == RoleSupervisor || role == RoleAdmin
}
