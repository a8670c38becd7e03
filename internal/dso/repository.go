package dso

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
var ErrNotFound = errors.New("dso: not found")

var invoiceScopeCols = db.ScopeColumns{Customer: "customer_id"}

const invoiceColumns = `i.id, i.number, i.customer_id, COALESCE(c.name, ''), i.amount, i.paid_amount,
	i.status, i.issued_at, i.due_at, i.created_at, i.updated_at`

// Repository provides PostgreSQL backed persistence for receivables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.CustomerID, &inv.CustomerName, &inv.Amount, &inv.PaidAmount,
		&inv.Status, &inv.IssuedAt, &inv.DueAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListInvoices returns invoices visible under the scope, newest first.
func (r *Repository) ListInvoices(ctx context.Context, scope authz.Scope, status InvoiceStatus, limit int) ([]Invoice, error) {
	clause, args, err := db.ScopeClause(scope, invoiceScopeCols, 1)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s FROM invoices i LEFT JOIN customers c ON c.id = i.customer_id
		WHERE %s`, invoiceColumns, clause)
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND i.status = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY i.issued_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// GetInvoice fetches a single invoice within the scope.
func (r *Repository) GetInvoice(ctx context.Context, scope authz.Scope, id int64) (*Invoice, error) {
	clause, args, err := db.ScopeClause(scope, invoiceScopeCols, 2)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM invoices i LEFT JOIN customers c ON c.id = i.customer_id
		WHERE i.id = $1 AND %s`, invoiceColumns, clause)

	inv, err := scanInvoice(r.pool.QueryRow(ctx, query, append([]any{id}, args...)...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return inv, nil
}

// ListPayments returns payments for an invoice the scope can see.
func (r *Repository) ListPayments(ctx context.Context, scope authz.Scope, invoiceID int64) ([]Payment, error) {
	if _, err := r.GetInvoice(ctx, scope, invoiceID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, amount, method, COALESCE(reference, ''), paid_at
		FROM payments WHERE invoice_id = $1 ORDER BY paid_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference, &p.PaidAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// CreateInvoiceWithPayment invokes the atomic invoice workflow: invoice,
// optional first payment and the running balance update happen in one
// database transaction, keyed for idempotent retry.
func (r *Repository) CreateInvoiceWithPayment(ctx context.Context, input InvoiceInput, actorID int64, idempotencyKey string) (*InvoiceCreationResult, error) {
	const query = `
		SELECT invoice_id, COALESCE(payment_id, 0)
		FROM sp_create_invoice_with_payment($1, $2, $3, $4, $5, $6, $7, $8)`

	var result InvoiceCreationResult
	err := r.pool.QueryRow(ctx, query,
		input.CustomerID, input.Amount, input.IssuedAt, input.DueAt,
		input.InitialPayment, input.PaymentMethod, actorID, idempotencyKey,
	).Scan(&result.InvoiceID, &result.PaymentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

// WriteOffInvoice marks an invoice as uncollectible within the scope.
func (r *Repository) WriteOffInvoice(ctx context.Context, scope authz.Scope, id int64) error {
	clause, args, err := db.ScopeClause(scope, invoiceScopeCols, 2)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE invoices AS i SET status = 'WRITTEN_OFF', updated_at = NOW()
		WHERE i.id = $1 AND i.status <> 'PAID' AND %s`, clause)

	tag, err := r.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Aging buckets outstanding receivables by days overdue, filtered by scope.
func (r *Repository) Aging(ctx context.Context, scope authz.Scope) (*AgingReport, error) {
	clause, args, err := db.ScopeClause(scope, invoiceScopeCols, 1)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT
			CASE
				WHEN due_at >= NOW() THEN 'current'
				WHEN NOW() - due_at <= INTERVAL '30 days' THEN '1-30'
				WHEN NOW() - due_at <= INTERVAL '60 days' THEN '31-60'
				WHEN NOW() - due_at <= INTERVAL '90 days' THEN '61-90'
				WHEN NOW() - due_at <= INTERVAL '120 days' THEN '91-120'
				ELSE '120+'
			END AS bucket,
			COALESCE(SUM(amount - paid_amount), 0),
			COUNT(*)
		FROM invoices AS i
		WHERE status IN ('OPEN', 'PARTIAL') AND %s
		GROUP BY bucket`, clause)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byLabel := map[string]AgingBucket{}
	for rows.Next() {
		var b AgingBucket
		if err := rows.Scan(&b.Label, &b.Amount, &b.Count); err != nil {
			return nil, err
		}
		byLabel[b.Label] = b
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report := &AgingReport{}
	for _, label := range agingBucketLabels {
		b, ok := byLabel[label]
		if !ok {
			b = AgingBucket{Label: label}
		}
		report.Buckets = append(report.Buckets, b)
		report.Total += b.Amount
	}
	return report, nil
}

// SummaryFigures returns the raw aggregates behind the AR summary: total
// outstanding, overdue portion and trailing credit sales. Deliberately
// unscoped; this is the only shape summary-only roles receive.
func (r *Repository) SummaryFigures(ctx context.Context) (outstanding, overdue, creditSales float64, err error) {
	const query = `
		SELECT
			COALESCE(SUM(amount - paid_amount) FILTER (WHERE status IN ('OPEN', 'PARTIAL')), 0),
			COALESCE(SUM(amount - paid_amount) FILTER (WHERE status IN ('OPEN', 'PARTIAL') AND due_at < NOW()), 0),
			COALESCE(SUM(amount) FILTER (WHERE issued_at > NOW() - INTERVAL '90 days' AND status <> 'WRITTEN_OFF'), 0)
		FROM invoices`

	err = r.pool.QueryRow(ctx, query).Scan(&outstanding, &overdue, &creditSales)
	return outstanding, overdue, creditSales, err
}
