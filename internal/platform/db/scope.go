package db

import (
	"errors"
	"fmt"

	"github.com/kargo-dash/kargo-dash/internal/authz"
)

// ErrScopeForbidsRows is returned when a row-level query is attempted under a
// scope that only permits aggregates or nothing at all.
var ErrScopeForbidsRows = errors.New("platform/db: scope does not permit row access")

// ScopeColumns names the columns a table exposes for scope filtering.
type ScopeColumns struct {
	Owner    string
	Dept     string
	Customer string
}

// ScopeClause renders an authorization scope into a WHERE fragment plus its
// bind arguments. startArg is the 1-based index of the next placeholder.
// Repositories must append the returned clause to every scoped query; there
// is no way to obtain rows without presenting a Scope.
func ScopeClause(scope authz.Scope, cols ScopeColumns, startArg int) (string, []any, error) {
	switch scope.Kind {
	case authz.ScopeAll:
		return "TRUE", nil, nil
	case authz.ScopeOwner:
		if cols.Owner == "" {
			return "", nil, fmt.Errorf("platform/db: owner scope on table without owner column")
		}
		return fmt.Sprintf("%s = $%d", cols.Owner, startArg), []any{scope.OwnerID}, nil
	case authz.ScopeTeam:
		if cols.Owner == "" {
			return "", nil, fmt.Errorf("platform/db: team scope on table without owner column")
		}
		clause := fmt.Sprintf("(%s = $%d OR %s IN (SELECT id FROM users WHERE manager_id = $%d))",
			cols.Owner, startArg, cols.Owner, startArg)
		return clause, []any{scope.TeamLeadID}, nil
	case authz.ScopeDepartment:
		if cols.Dept == "" {
			return "", nil, fmt.Errorf("platform/db: department scope on table without dept column")
		}
		return fmt.Sprintf("%s = $%d", cols.Dept, startArg), []any{scope.DeptCode}, nil
	case authz.ScopeCustomer:
		if cols.Customer == "" {
			return "", nil, fmt.Errorf("platform/db: customer scope on table without customer column")
		}
		clause := fmt.Sprintf("%s IN (SELECT id FROM customers WHERE assigned_to = $%d)",
			cols.Customer, startArg)
		return clause, []any{scope.OwnerID}, nil
	case authz.ScopeNone, authz.ScopeSLAAggregate, authz.ScopeARSummary:
		return "", nil, ErrScopeForbidsRows
	default:
		return "", nil, fmt.Errorf("platform/db: unknown scope kind %q", scope.Kind)
	}
}
