package portal

// Decision is the outcome of an authorization matrix lookup.
type Decision uint8

const (
	// Allowed means the subject may open the portal.
	Allowed Decision = iota
	// DeniedTenantMismatch means the subject belongs to a different tenant.
	DeniedTenantMismatch
	// DeniedPortal means the role is not mapped to the portal.
	DeniedPortal
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case DeniedTenantMismatch:
		return "tenant_mismatch"
	default:
		return "portal_denied"
	}
}

// Subject is the identity-side input of the matrix.
type Subject struct {
	Role     Role
	Super    bool
	TenantID string
}

// IsSuper reports whether the subject bypasses tenant and portal checks.
func (s Subject) IsSuper() bool {
	return s.Super || s.Role == RoleSuperAdmin
}

// Decide evaluates the role x portal x tenant matrix. It is pure and safe for
// concurrent use.
func Decide(s Subject, tenantID string, p Portal) Decision {
	if s.IsSuper() {
		return Allowed
	}
	if s.TenantID == "" || s.TenantID != tenantID {
		return DeniedTenantMismatch
	}
	if !s.Role.Valid() || !p.Valid() {
		return DeniedPortal
	}
	if matrix[s.Role][p] {
		return Allowed
	}
	return DeniedPortal
}

// CanAccess is the boolean form of Decide.
func CanAccess(s Subject, tenantID string, p Portal) bool {
	return Decide(s, tenantID, p) == Allowed
}

var rolePermissions = [roleCount][]string{
	RoleClient:      {"projects:read", "tasks:read", "profile:write"},
	RoleEmployee:    {"projects:read", "tasks:read", "tasks:write", "time:write", "profile:write"},
	RoleAdmin:       {"projects:read", "projects:write", "tasks:read", "tasks:write", "users:read", "users:write", "reports:read", "profile:write"},
	RoleVendorAdmin: {"projects:read", "projects:write", "tasks:read", "tasks:write", "time:write", "users:read", "users:write", "reports:read", "vendor:manage", "profile:write"},
	RoleSuperAdmin:  {"*"},
}

// Permissions returns a copy of the fixed permission list carried in tokens for r.
func Permissions(r Role) []string {
	if !r.Valid() {
		return nil
	}
	src := rolePermissions[r]
	out := make([]string, len(src))
	copy(out, src)
	return out
}
