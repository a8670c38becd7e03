package ticketing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/platform/db"
)

// ErrNotFound indicates resource not found or outside the caller's scope.
var ErrNotFound = errors.New("ticketing: not found")

var ticketScopeCols = db.ScopeColumns{Owner: "owner_id", Dept: "dept_code", Customer: "customer_id"}

const ticketColumns = `id, number, subject, description, status, priority, dept_code,
	COALESCE(customer_id, 0), COALESCE(customer_name, ''), COALESCE(customer_contact, ''),
	owner_id, COALESCE(assignee_id, 0), due_at, resolved_at, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for ticketing.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	var resolvedAt pgtype.Timestamptz
	err := row.Scan(
		&t.ID, &t.Number, &t.Subject, &t.Description, &t.Status, &t.Priority, &t.DeptCode,
		&t.CustomerID, &t.CustomerName, &t.CustomerContact,
		&t.OwnerID, &t.AssigneeID, &t.DueAt, &resolvedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		ts := resolvedAt.Time
		t.ResolvedAt = &ts
	}
	return &t, nil
}

// ListTickets returns one page of tickets visible under the scope, newest
// first.
func (r *Repository) ListTickets(ctx context.Context, scope authz.Scope, status TicketStatus, limit, offset int) ([]Ticket, error) {
	clause, args, err := db.ScopeClause(scope, ticketScopeCols, 1)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s`, ticketColumns, clause)
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// CountTickets counts tickets visible under the scope, for pagination.
func (r *Repository) CountTickets(ctx context.Context, scope authz.Scope, status TicketStatus) (int, error) {
	clause, args, err := db.ScopeClause(scope, ticketScopeCols, 1)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM tickets WHERE %s`, clause)
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	var total int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// GetTicket fetches a single ticket within the scope.
func (r *Repository) GetTicket(ctx context.Context, scope authz.Scope, id int64) (*Ticket, error) {
	clause, args, err := db.ScopeClause(scope, ticketScopeCols, 2)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id = $1 AND %s`, ticketColumns, clause)

	t, err := scanTicket(r.pool.QueryRow(ctx, query, append([]any{id}, args...)...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// CreateTicket inserts a ticket with its SLA deadline precomputed, together
// with the opening entry of its event timeline.
func (r *Repository) CreateTicket(ctx context.Context, input TicketInput, dueAt time.Time) (*Ticket, error) {
	const query = `
		INSERT INTO tickets (number, subject, description, status, priority, dept_code,
			customer_id, customer_name, customer_contact, owner_id, assignee_id, due_at, created_at, updated_at)
		VALUES (next_ticket_number(), $1, $2, 'OPEN', $3, $4, NULLIF($5, 0), $6, $7, $8, NULLIF($9, 0), $10, NOW(), NOW())
		RETURNING ` + ticketColumns

	var ticket *Ticket
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		t, err := scanTicket(tx.QueryRow(ctx, query,
			input.Subject, input.Description, input.Priority, input.DeptCode,
			input.CustomerID, input.CustomerName, input.CustomerContact,
			input.OwnerID, input.AssigneeID, dueAt,
		))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO ticket_events (ticket_id, actor_id, kind, created_at)
			VALUES ($1, $2, 'created', NOW())`, t.ID, input.OwnerID)
		if err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// UpdateTicketStatus moves a ticket within the scope. The resolved timestamp
// is set on transition into RESOLVED and cleared on reopen.
func (r *Repository) UpdateTicketStatus(ctx context.Context, scope authz.Scope, id int64, status TicketStatus) error {
	clause, args, err := db.ScopeClause(scope, ticketScopeCols, 3)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE tickets
		SET status = $1,
			resolved_at = CASE WHEN $1 = 'RESOLVED' THEN NOW() WHEN $1 IN ('OPEN', 'IN_PROGRESS') THEN NULL ELSE resolved_at END,
			updated_at = NOW()
		WHERE id = $2 AND %s`, clause)

	tag, err := r.pool.Exec(ctx, query, append([]any{status, id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignTicket sets the assignee within the scope.
func (r *Repository) AssignTicket(ctx context.Context, scope authz.Scope, id, assigneeID int64) error {
	clause, args, err := db.ScopeClause(scope, ticketScopeCols, 3)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE tickets SET assignee_id = $1, updated_at = NOW() WHERE id = $2 AND %s`, clause)

	tag, err := r.pool.Exec(ctx, query, append([]any{assigneeID, id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTicket removes a ticket. Only reachable behind a destructive check.
func (r *Repository) DeleteTicket(ctx context.Context, scope authz.Scope, id int64) error {
	clause, args, err := db.ScopeClause(scope, ticketScopeCols, 2)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM tickets WHERE id = $1 AND %s`, clause)
	tag, err := r.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SLASummary computes aggregate figures across all tickets. Deliberately
// unscoped: roles restricted to aggregates receive exactly this and nothing
// row-shaped.
func (r *Repository) SLASummary(ctx context.Context) (*SLASummary, error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('OPEN', 'IN_PROGRESS')),
			COUNT(*) FILTER (WHERE status IN ('OPEN', 'IN_PROGRESS') AND due_at < NOW()),
			COUNT(*) FILTER (WHERE status IN ('OPEN', 'IN_PROGRESS') AND due_at BETWEEN NOW() AND NOW() + INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE status IN ('RESOLVED', 'CLOSED') AND resolved_at > NOW() - INTERVAL '30 days'),
			COUNT(*) FILTER (WHERE status IN ('RESOLVED', 'CLOSED') AND resolved_at > NOW() - INTERVAL '30 days' AND resolved_at <= due_at)
		FROM tickets`

	var summary SLASummary
	var resolvedOnTime int64
	err := r.pool.QueryRow(ctx, query).Scan(
		&summary.OpenTickets, &summary.BreachedTickets, &summary.DueWithin24h,
		&summary.ResolvedLast30Days, &resolvedOnTime,
	)
	if err != nil {
		return nil, err
	}
	if summary.ResolvedLast30Days > 0 {
		summary.ComplianceRate = float64(resolvedOnTime) / float64(summary.ResolvedLast30Days)
	}
	return &summary, nil
}
