// Package authz holds the static role/menu permission matrix and the
// authorization gate every request handler consults before touching data.
package authz

// Role identifies one of the fixed job functions known to the dashboard.
// The set is closed: membership is decided by exact, case-sensitive match
// and changing it requires a code change and redeploy.
type Role string

const (
	RoleSuperAdmin         Role = "super admin"
	RoleDirector           Role = "director"
	RoleGeneralManager     Role = "general manager"
	RoleManagerMarketing   Role = "manager marketing"
	RoleMarketingExim      Role = "marketing exim"
	RoleMarketingDomestics Role = "marketing domestics"
	RoleMarketingProject   Role = "marketing project"
	RoleMarketingRetail    Role = "marketing retail"
	RoleSalesSupport       Role = "sales support"
	RoleCustomerService    Role = "customer service"
	RoleFinance            Role = "finance"
	RoleAccounting         Role = "accounting"
	RoleEximOps            Role = "EXIM Ops (operation)"
	RoleDomesticsOps       Role = "Domestics Ops (operation)"
	RoleHRGA               Role = "HRGA"
)

// RoleCount is the fixed cardinality of the role registry.
const RoleCount = 15

// AllRoles returns every registered role. The order is stable.
func AllRoles() []Role {
	return []Role{
		RoleSuperAdmin,
		RoleDirector,
		RoleGeneralManager,
		RoleManagerMarketing,
		RoleMarketingExim,
		RoleMarketingDomestics,
		RoleMarketingProject,
		RoleMarketingRetail,
		RoleSalesSupport,
		RoleCustomerService,
		RoleFinance,
		RoleAccounting,
		RoleEximOps,
		RoleDomesticsOps,
		RoleHRGA,
	}
}

// IsValidRole reports whether candidate exactly matches a registered role.
// No trimming or case folding is applied.
func IsValidRole(candidate string) bool {
	for _, r := range AllRoles() {
		if string(r) == candidate {
			return true
		}
	}
	return false
}

// Menu names a top-level functional area subject to independent access control.
type Menu string

const (
	MenuDashboard Menu = "Dashboard"
	MenuKPI       Menu = "KPI"
	MenuCRM       Menu = "CRM"
	MenuTicketing Menu = "Ticketing"
	MenuDSO       Menu = "DSO"
)

// MenuCount is the fixed cardinality of the menu set.
const MenuCount = 5

// AllMenus returns every menu in presentation order.
func AllMenus() []Menu {
	return []Menu{MenuDashboard, MenuKPI, MenuCRM, MenuTicketing, MenuDSO}
}

// IsValidMenu reports whether candidate exactly matches a known menu.
func IsValidMenu(candidate string) bool {
	for _, m := range AllMenus() {
		if string(m) == candidate {
			return true
		}
	}
	return false
}

// Identity is the resolved principal for one request. It is produced by the
// profile resolver after authentication and discarded when the request ends.
type Identity struct {
	Role      Role
	UserID    int64
	DeptCode  string
	ManagerID int64
}
