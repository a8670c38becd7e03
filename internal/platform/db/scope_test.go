package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kargo-dash/kargo-dash/internal/authz"
)

var leadCols = ScopeColumns{Owner: "owner_id", Dept: "dept_code", Customer: "customer_id"}

func TestScopeClauseAll(t *testing.T) {
	clause, args, err := ScopeClause(authz.Scope{Kind: authz.ScopeAll}, leadCols, 1)
	require.NoError(t, err)
	require.Equal(t, "TRUE", clause)
	require.Empty(t, args)
}

func TestScopeClauseOwner(t *testing.T) {
	clause, args, err := ScopeClause(authz.Scope{Kind: authz.ScopeOwner, OwnerID: 42}, leadCols, 3)
	require.NoError(t, err)
	require.Equal(t, "owner_id = $3", clause)
	require.Equal(t, []any{int64(42)}, args)
}

func TestScopeClauseTeam(t *testing.T) {
	clause, args, err := ScopeClause(authz.Scope{Kind: authz.ScopeTeam, TeamLeadID: 9}, leadCols, 1)
	require.NoError(t, err)
	require.Equal(t, "(owner_id = $1 OR owner_id IN (SELECT id FROM users WHERE manager_id = $1))", clause)
	require.Equal(t, []any{int64(9)}, args)
}

func TestScopeClauseDepartment(t *testing.T) {
	clause, args, err := ScopeClause(authz.Scope{Kind: authz.ScopeDepartment, DeptCode: "EXIM"}, leadCols, 2)
	require.NoError(t, err)
	require.Equal(t, "dept_code = $2", clause)
	require.Equal(t, []any{"EXIM"}, args)
}

func TestScopeClauseCustomer(t *testing.T) {
	clause, args, err := ScopeClause(authz.Scope{Kind: authz.ScopeCustomer, OwnerID: 5}, leadCols, 1)
	require.NoError(t, err)
	require.Equal(t, "customer_id IN (SELECT id FROM customers WHERE assigned_to = $1)", clause)
	require.Equal(t, []any{int64(5)}, args)
}

func TestScopeClauseRefusesAggregateScopes(t *testing.T) {
	for _, kind := range []authz.ScopeKind{authz.ScopeNone, authz.ScopeSLAAggregate, authz.ScopeARSummary} {
		_, _, err := ScopeClause(authz.Scope{Kind: kind}, leadCols, 1)
		require.ErrorIs(t, err, ErrScopeForbidsRows, "kind %q", kind)
	}
}

func TestScopeClauseMissingColumn(t *testing.T) {
	_, _, err := ScopeClause(authz.Scope{Kind: authz.ScopeOwner, OwnerID: 1}, ScopeColumns{}, 1)
	require.Error(t, err)
}
