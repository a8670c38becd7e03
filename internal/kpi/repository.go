package kpi

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/platform/db"
)

var shipmentScopeCols = db.ScopeColumns{Owner: "owner_id", Dept: "dept_code", Customer: "customer_id"}
var leadScopeCols = db.ScopeColumns{Owner: "owner_id", Customer: "customer_id"}
var ticketScopeCols = db.ScopeColumns{Owner: "owner_id", Dept: "dept_code", Customer: "customer_id"}

// Repository aggregates KPI figures straight from the operational tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Snapshot computes the period figures under the scope. Each block filters by
// the same scope rendered against its own table.
func (r *Repository) Snapshot(ctx context.Context, scope authz.Scope, period string) (*Snapshot, error) {
	snapshot := &Snapshot{Period: period}

	shipClause, shipArgs, err := db.ScopeClause(scope, shipmentScopeCols, 2)
	if err != nil {
		return nil, err
	}
	shipQuery := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'DELIVERED'),
			COUNT(*) FILTER (WHERE status = 'DELIVERED' AND delivered_at <= promised_at),
			COALESCE(SUM(revenue) FILTER (WHERE status = 'DELIVERED'), 0)
		FROM shipments
		WHERE to_char(created_at, 'YYYY-MM') = $1 AND %s`, shipClause)

	var delivered, onTime int64
	err = r.pool.QueryRow(ctx, shipQuery, append([]any{period}, shipArgs...)...).Scan(
		&delivered, &onTime, &snapshot.RevenueBooked,
	)
	if err != nil {
		return nil, err
	}
	snapshot.ShipmentsCompleted = delivered
	if delivered > 0 {
		snapshot.OnTimeRate = float64(onTime) / float64(delivered)
	}

	leadClause, leadArgs, err := db.ScopeClause(scope, leadScopeCols, 2)
	if err != nil {
		return nil, err
	}
	leadQuery := fmt.Sprintf(`
		SELECT COUNT(*) FROM leads
		WHERE to_char(created_at, 'YYYY-MM') = $1 AND %s`, leadClause)
	if err := r.pool.QueryRow(ctx, leadQuery, append([]any{period}, leadArgs...)...).Scan(&snapshot.NewLeads); err != nil {
		return nil, err
	}

	ticketClause, ticketArgs, err := db.ScopeClause(scope, ticketScopeCols, 2)
	if err != nil {
		return nil, err
	}
	ticketQuery := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE resolved_at IS NOT NULL),
			COUNT(*) FILTER (WHERE resolved_at IS NOT NULL AND resolved_at <= due_at)
		FROM tickets
		WHERE to_char(created_at, 'YYYY-MM') = $1 AND %s`, ticketClause)

	var resolved, withinSLA int64
	if err := r.pool.QueryRow(ctx, ticketQuery, append([]any{period}, ticketArgs...)...).Scan(&resolved, &withinSLA); err != nil {
		return nil, err
	}
	snapshot.TicketsResolved = resolved
	if resolved > 0 {
		snapshot.SLACompliance = float64(withinSLA) / float64(resolved)
	}

	return snapshot, nil
}
