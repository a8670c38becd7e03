package authz

import "fmt"

// Matrix is the total lookup table from (role, menu) to an access level.
// It is built once at startup, validated, and never mutated afterwards, so
// concurrent reads need no coordination.
type Matrix struct {
	entries map[Role]map[Menu]AccessLevel
}

// defaultEntries enumerates every role's access to every menu. Rows are kept
// independent even where they coincide: the four marketing roles carry
// identical cells today but may diverge without touching each other.
func defaultEntries() map[Role]map[Menu]AccessLevel {
	return map[Role]map[Menu]AccessLevel{
		RoleSuperAdmin: {
			MenuDashboard: Admin, MenuKPI: Admin, MenuCRM: Admin, MenuTicketing: Admin, MenuDSO: Admin,
		},
		RoleDirector: {
			MenuDashboard: ReadAll, MenuKPI: ReadAll, MenuCRM: ReadAll, MenuTicketing: ReadAll, MenuDSO: ReadAll,
		},
		RoleGeneralManager: {
			MenuDashboard: ReadAll, MenuKPI: ReadAll, MenuCRM: Read, MenuTicketing: Read, MenuDSO: ReadArDsoSummary,
		},
		RoleManagerMarketing: {
			MenuDashboard: Read, MenuKPI: ReadTeam, MenuCRM: ReadWrite, MenuTicketing: Read, MenuDSO: ReadArDsoSummary,
		},
		RoleMarketingExim: {
			MenuDashboard: ReadOwn, MenuKPI: ReadOwn, MenuCRM: ReadWriteOwn, MenuTicketing: ReadScoped, MenuDSO: ReadScoped,
		},
		RoleMarketingDomestics: {
			MenuDashboard: ReadOwn, MenuKPI: ReadOwn, MenuCRM: ReadWriteOwn, MenuTicketing: ReadScoped, MenuDSO: ReadScoped,
		},
		RoleMarketingProject: {
			MenuDashboard: ReadOwn, MenuKPI: ReadOwn, MenuCRM: ReadWriteOwn, MenuTicketing: ReadScoped, MenuDSO: ReadScoped,
		},
		RoleMarketingRetail: {
			MenuDashboard: ReadOwn, MenuKPI: ReadOwn, MenuCRM: ReadWriteOwn, MenuTicketing: ReadScoped, MenuDSO: ReadScoped,
		},
		RoleSalesSupport: {
			MenuDashboard: NoAccess, MenuKPI: NoAccess, MenuCRM: ReadWriteAssist, MenuTicketing: ReadWriteAssist, MenuDSO: NoAccess,
		},
		RoleCustomerService: {
			MenuDashboard: NoAccess, MenuKPI: NoAccess, MenuCRM: ReadScoped, MenuTicketing: ReadWriteAssist, MenuDSO: NoAccess,
		},
		RoleFinance: {
			MenuDashboard: Read, MenuKPI: Read, MenuCRM: Read, MenuTicketing: NoAccess, MenuDSO: ReadWrite,
		},
		RoleAccounting: {
			MenuDashboard: Read, MenuKPI: NoAccess, MenuCRM: NoAccess, MenuTicketing: NoAccess, MenuDSO: Read,
		},
		RoleEximOps: {
			MenuDashboard: ReadSlaOnly, MenuKPI: ReadOwn, MenuCRM: NoAccess, MenuTicketing: ReadWriteDeptMasked, MenuDSO: NoAccess,
		},
		RoleDomesticsOps: {
			MenuDashboard: ReadSlaOnly, MenuKPI: ReadOwn, MenuCRM: NoAccess, MenuTicketing: ReadWriteDeptMasked, MenuDSO: NoAccess,
		},
		RoleHRGA: {
			MenuDashboard: Read, MenuKPI: NoAccess, MenuCRM: NoAccess, MenuTicketing: NoAccess, MenuDSO: NoAccess,
		},
	}
}

// NewMatrix builds and validates the embedded permission matrix. A validation
// failure here must abort process startup: a partially defined authorization
// table must never serve traffic.
func NewMatrix() (*Matrix, error) {
	m := &Matrix{entries: defaultEntries()}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// newMatrixFromEntries is the test seam for exercising validation failures.
func newMatrixFromEntries(entries map[Role]map[Menu]AccessLevel) *Matrix {
	return &Matrix{entries: entries}
}

// Validate checks registry cardinality and matrix totality. Every registered
// role must carry exactly one defined level for every menu; a missing cell is
// an error, never an implicit deny.
func (m *Matrix) Validate() error {
	if got := len(m.entries); got != RoleCount {
		return fmt.Errorf("authz: role registry holds %d roles, want %d", got, RoleCount)
	}
	for role, row := range m.entries {
		if !IsValidRole(string(role)) {
			return fmt.Errorf("authz: unknown role %q in matrix", role)
		}
		if got := len(row); got != MenuCount {
			return fmt.Errorf("authz: role %q covers %d menus, want %d", role, got, MenuCount)
		}
		for _, menu := range AllMenus() {
			level, ok := row[menu]
			if !ok {
				return fmt.Errorf("authz: role %q has no entry for menu %q", role, menu)
			}
			if !validLevel(level) {
				return fmt.Errorf("authz: role %q menu %q carries unknown level %q", role, menu, level)
			}
		}
	}
	return nil
}

func validLevel(level AccessLevel) bool {
	for _, l := range AllAccessLevels() {
		if l == level {
			return true
		}
	}
	return false
}

// AccessLevel returns the level for a (role, menu) pair. For registered roles
// and menus the lookup is total; an unregistered pair maps to NoAccess so a
// stale session can never widen access.
func (m *Matrix) AccessLevel(role Role, menu Menu) AccessLevel {
	row, ok := m.entries[role]
	if !ok {
		return NoAccess
	}
	level, ok := row[menu]
	if !ok {
		return NoAccess
	}
	return level
}

// AllowedMenus lists every menu the role may see, derived strictly from the
// matrix. Navigation must render from this and nothing else.
func (m *Matrix) AllowedMenus(role Role) []Menu {
	allowed := make([]Menu, 0, MenuCount)
	for _, menu := range AllMenus() {
		if m.AccessLevel(role, menu).CanRead() {
			allowed = append(allowed, menu)
		}
	}
	return allowed
}

// CanWrite reports whether the role may mutate data under the menu.
func (m *Matrix) CanWrite(role Role, menu Menu) bool {
	return m.AccessLevel(role, menu).CanWrite()
}
