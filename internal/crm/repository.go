package crm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/platform/db"
)

// ErrNotFound indicates resource not found or outside the caller's scope.
// The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("crm: not found")

var leadScopeCols = db.ScopeColumns{Owner: "owner_id", Customer: "customer_id"}
var oppScopeCols = db.ScopeColumns{Owner: "owner_id", Customer: "customer_id"}

// Repository provides PostgreSQL backed persistence for CRM.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListLeads returns leads visible under the scope.
func (r *Repository) ListLeads(ctx context.Context, scope authz.Scope, limit int) ([]Lead, error) {
	clause, args, err := db.ScopeClause(scope, leadScopeCols, 1)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT id, number, company, contact, phone, service, stage, owner_id, COALESCE(customer_id, 0), created_at, updated_at
		FROM leads
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, clause, len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		var l Lead
		if err := rows.Scan(&l.ID, &l.Number, &l.Company, &l.Contact, &l.Phone, &l.Service, &l.Stage, &l.OwnerID, &l.CustomerID, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// GetLead fetches a single lead within the scope.
func (r *Repository) GetLead(ctx context.Context, scope authz.Scope, id int64) (*Lead, error) {
	clause, args, err := db.ScopeClause(scope, leadScopeCols, 2)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, number, company, contact, phone, service, stage, owner_id, COALESCE(customer_id, 0), created_at, updated_at
		FROM leads
		WHERE id = $1 AND %s`, clause)

	var l Lead
	err = r.pool.QueryRow(ctx, query, append([]any{id}, args...)...).Scan(
		&l.ID, &l.Number, &l.Company, &l.Contact, &l.Phone, &l.Service, &l.Stage, &l.OwnerID, &l.CustomerID, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// CreateLead inserts a new lead.
func (r *Repository) CreateLead(ctx context.Context, input LeadInput) (*Lead, error) {
	const query = `
		INSERT INTO leads (number, company, contact, phone, service, stage, owner_id, customer_id, created_at, updated_at)
		VALUES (next_lead_number(), $1, $2, $3, $4, 'NEW', $5, NULLIF($6, 0), NOW(), NOW())
		RETURNING id, number, created_at, updated_at`

	lead := Lead{
		Company:    input.Company,
		Contact:    input.Contact,
		Phone:      input.Phone,
		Service:    input.Service,
		Stage:      LeadStageNew,
		OwnerID:    input.OwnerID,
		CustomerID: input.CustomerID,
	}
	err := r.pool.QueryRow(ctx, query,
		input.Company, input.Contact, input.Phone, input.Service, input.OwnerID, input.CustomerID,
	).Scan(&lead.ID, &lead.Number, &lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// UpdateLeadStage moves a lead to a new stage, constrained by the scope so a
// writer can never touch rows outside it.
func (r *Repository) UpdateLeadStage(ctx context.Context, scope authz.Scope, id int64, stage LeadStage) error {
	clause, args, err := db.ScopeClause(scope, leadScopeCols, 3)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE leads SET stage = $1, updated_at = NOW() WHERE id = $2 AND %s`, clause)

	tag, err := r.pool.Exec(ctx, query, append([]any{stage, id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLead removes a lead. Only reachable behind a destructive-access check.
func (r *Repository) DeleteLead(ctx context.Context, scope authz.Scope, id int64) error {
	clause, args, err := db.ScopeClause(scope, leadScopeCols, 2)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM leads WHERE id = $1 AND %s`, clause)
	tag, err := r.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOpportunities returns opportunities visible under the scope.
func (r *Repository) ListOpportunities(ctx context.Context, scope authz.Scope, limit int) ([]Opportunity, error) {
	clause, args, err := db.ScopeClause(scope, oppScopeCols, 1)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT id, number, COALESCE(lead_id, 0), customer_id, name, stage, value, owner_id, created_at, updated_at
		FROM opportunities
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, clause, len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opps []Opportunity
	for rows.Next() {
		var o Opportunity
		if err := rows.Scan(&o.ID, &o.Number, &o.LeadID, &o.CustomerID, &o.Name, &o.Stage, &o.Value, &o.OwnerID, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

// ConvertLead invokes the atomic conversion workflow in the database. The
// procedure creates the customer (when missing), the opportunity and marks
// the lead converted in one transaction, keyed for idempotent retry.
func (r *Repository) ConvertLead(ctx context.Context, leadID, actorID int64, idempotencyKey string) (*ConversionResult, error) {
	const query = `SELECT opportunity_id, customer_id FROM sp_convert_lead($1, $2, $3)`

	var result ConversionResult
	err := r.pool.QueryRow(ctx, query, leadID, actorID, idempotencyKey).Scan(&result.OpportunityID, &result.CustomerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

// SeedActivityCadence invokes the cadence seeding workflow: a fixed ladder of
// follow-up activities attached to a fresh opportunity.
func (r *Repository) SeedActivityCadence(ctx context.Context, opportunityID, actorID int64, idempotencyKey string) (*CadenceResult, error) {
	const query = `SELECT seeded FROM sp_seed_activity_cadence($1, $2, $3)`

	var result CadenceResult
	err := r.pool.QueryRow(ctx, query, opportunityID, actorID, idempotencyKey).Scan(&result.ActivitiesSeeded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

// Summary aggregates open pipeline figures under the scope.
func (r *Repository) Summary(ctx context.Context, scope authz.Scope) (*CRMSummary, error) {
	leadClause, leadArgs, err := db.ScopeClause(scope, leadScopeCols, 1)
	if err != nil {
		return nil, err
	}
	oppClause, oppArgs, err := db.ScopeClause(scope, oppScopeCols, 1)
	if err != nil {
		return nil, err
	}

	var summary CRMSummary
	leadQuery := fmt.Sprintf(`SELECT COUNT(*) FROM leads WHERE stage NOT IN ('CONVERTED','LOST') AND %s`, leadClause)
	if err := r.pool.QueryRow(ctx, leadQuery, leadArgs...).Scan(&summary.OpenLeads); err != nil {
		return nil, err
	}
	oppQuery := fmt.Sprintf(`SELECT COUNT(*), COALESCE(SUM(value), 0) FROM opportunities WHERE stage NOT IN ('WON','LOST') AND %s`, oppClause)
	if err := r.pool.QueryRow(ctx, oppQuery, oppArgs...).Scan(&summary.OpenOpportunities, &summary.PipelineValue); err != nil {
		return nil, err
	}
	return &summary, nil
}
