package portal

import (
	"errors"
	"strings"
)

// ErrUnknownRole is returned by ParseRole for names outside the closed role set.
var ErrUnknownRole = errors.New("unknown role")

// ErrUnknownPortal is returned by ParsePortal for names outside the closed portal set.
var ErrUnknownPortal = errors.New("unknown portal")

// Role is the closed set of identity roles.
type Role uint8

const (
	// RoleUnknown is the zero value and never grants access.
	RoleUnknown Role = iota
	// RoleClient is an end customer of a tenant.
	RoleClient
	// RoleEmployee is a tenant staff member.
	RoleEmployee
	// RoleAdmin administers a single tenant.
	RoleAdmin
	// RoleVendorAdmin administers a vendor tenant and may use both employee and admin portals.
	RoleVendorAdmin
	// RoleSuperAdmin operates across all tenants.
	RoleSuperAdmin
	roleCount
)

// Portal is the closed set of UI/API surfaces.
type Portal uint8

const (
	// PortalUnknown is the zero value and is never accessible.
	PortalUnknown Portal = iota
	// PortalClient is the customer-facing surface.
	PortalClient
	// PortalEmployee is the staff surface.
	PortalEmployee
	// PortalAdmin is the tenant administration surface.
	PortalAdmin
	// PortalSuperAdmin is the platform administration surface.
	PortalSuperAdmin
	portalCount
)

var roleNames = [roleCount]string{
	RoleUnknown:     "",
	RoleClient:      "client",
	RoleEmployee:    "employee",
	RoleAdmin:       "admin",
	RoleVendorAdmin: "vendor_admin",
	RoleSuperAdmin:  "super_admin",
}

var portalNames = [portalCount]string{
	PortalUnknown:    "",
	PortalClient:     "client",
	PortalEmployee:   "employee",
	PortalAdmin:      "admin",
	PortalSuperAdmin: "super_admin",
}

// matrix[role][portal] reports whether a tenant-matched role may open the portal.
var matrix = [roleCount][portalCount]bool{
	RoleClient:      {PortalClient: true},
	RoleEmployee:    {PortalEmployee: true},
	RoleAdmin:       {PortalAdmin: true},
	RoleVendorAdmin: {PortalEmployee: true, PortalAdmin: true},
	RoleSuperAdmin:  {PortalSuperAdmin: true},
}

// ParseRole maps a wire name onto a Role.
func ParseRole(name string) (Role, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for r := RoleClient; r < roleCount; r++ {
		if roleNames[r] == name {
			return r, nil
		}
	}
	return RoleUnknown, ErrUnknownRole
}

// ParsePortal maps a wire name onto a Portal.
func ParsePortal(name string) (Portal, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for p := PortalClient; p < portalCount; p++ {
		if portalNames[p] == name {
			return p, nil
		}
	}
	return PortalUnknown, ErrUnknownPortal
}

func (r Role) String() string {
	if r >= roleCount {
		return ""
	}
	return roleNames[r]
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r > RoleUnknown && r < roleCount }

func (p Portal) String() string {
	if p >= portalCount {
		return ""
	}
	return portalNames[p]
}

// Valid reports whether p is a known portal.
func (p Portal) Valid() bool { return p > PortalUnknown && p < portalCount }

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Portal) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Portal) UnmarshalText(b []byte) error {
	parsed, err := ParsePortal(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
