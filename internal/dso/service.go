package dso

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/platform/db"
	"github.com/kargo-dash/kargo-dash/internal/shared"
)

// RepositoryPort defines data access methods for receivables.
type RepositoryPort interface {
	ListInvoices(ctx context.Context, scope authz.Scope, status InvoiceStatus, limit int) ([]Invoice, error)
	GetInvoice(ctx context.Context, scope authz.Scope, id int64) (*Invoice, error)
	ListPayments(ctx context.Context, scope authz.Scope, invoiceID int64) ([]Payment, error)
	CreateInvoiceWithPayment(ctx context.Context, input InvoiceInput, actorID int64, idempotencyKey string) (*InvoiceCreationResult, error)
	WriteOffInvoice(ctx context.Context, scope authz.Scope, id int64) error
	Aging(ctx context.Context, scope authz.Scope) (*AgingReport, error)
	SummaryFigures(ctx context.Context) (outstanding, overdue, creditSales float64, err error)
}

// IdempotencyPort claims workflow keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, workflow string) error
	Release(ctx context.Context, key string) error
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// rupiah renders amounts with Indonesian digit grouping for display fields.
var rupiah = message.NewPrinter(language.Indonesian)

// FormatRupiah renders an amount as "Rp 1.234.567".
func FormatRupiah(amount float64) string {
	return rupiah.Sprintf("Rp %v", number.Decimal(amount, number.MaxFractionDigits(0)))
}

// Service handles receivables business logic.
type Service struct {
	repo        RepositoryPort
	idempotency IdempotencyPort
	audit       AuditPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, idempotency IdempotencyPort, audit AuditPort) *Service {
	return &Service{repo: repo, idempotency: idempotency, audit: audit}
}

// ListInvoices returns invoices visible under the scope.
func (s *Service) ListInvoices(ctx context.Context, scope authz.Scope, status InvoiceStatus, limit int) ([]Invoice, error) {
	return s.repo.ListInvoices(ctx, scope, status, limit)
}

// GetInvoice returns one invoice within the scope.
func (s *Service) GetInvoice(ctx context.Context, scope authz.Scope, id int64) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, scope, id)
}

// ListPayments returns payments for an invoice within the scope.
func (s *Service) ListPayments(ctx context.Context, scope authz.Scope, invoiceID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, scope, invoiceID)
}

// CreateInvoiceWithPayment runs the atomic invoice workflow. Retries with the
// same idempotency key are reported as already done.
func (s *Service) CreateInvoiceWithPayment(ctx context.Context, actor authz.Identity, input InvoiceInput, idempotencyKey string) (*InvoiceCreationResult, error) {
	if idempotencyKey == "" {
		return nil, errors.New("dso: idempotency key required")
	}
	if input.CustomerID <= 0 {
		return nil, errors.New("dso: customer required")
	}
	if input.Amount <= 0 {
		return nil, errors.New("dso: amount must be positive")
	}
	if input.InitialPayment < 0 || input.InitialPayment > input.Amount {
		return nil, errors.New("dso: initial payment out of range")
	}
	if input.IssuedAt.IsZero() {
		input.IssuedAt = time.Now()
	}
	if input.DueAt.IsZero() {
		input.DueAt = input.IssuedAt.AddDate(0, 0, 30)
	}
	if input.DueAt.Before(input.IssuedAt) {
		return nil, errors.New("dso: due date precedes issue date")
	}

	if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, "dso.create_invoice"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return &InvoiceCreationResult{AlreadyDone: true}, nil
		}
		return nil, err
	}
	result, err := s.repo.CreateInvoiceWithPayment(ctx, input, actor.UserID, idempotencyKey)
	if err != nil {
		_ = s.idempotency.Release(ctx, idempotencyKey)
		return nil, err
	}
	s.recordAudit(ctx, actor, "invoice.create", result.InvoiceID, map[string]any{
		"amount":          input.Amount,
		"initial_payment": input.InitialPayment,
		"idempotency_key": idempotencyKey,
	})
	return result, nil
}

// WriteOff marks an invoice as uncollectible. Only reachable behind the
// destructive-access check.
func (s *Service) WriteOff(ctx context.Context, actor authz.Identity, scope authz.Scope, id int64) error {
	if err := s.repo.WriteOffInvoice(ctx, scope, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "invoice.write_off", id, nil)
	return nil
}

// GetAging builds the scoped receivables aging report.
func (s *Service) GetAging(ctx context.Context, scope authz.Scope) (*AgingReport, error) {
	return s.repo.Aging(ctx, scope)
}

// GetSummary computes the AR summary projection: total figures and the DSO
// number over the trailing window, with display-formatted amounts. The
// figures are company-wide, so only unrestricted and summary-level scopes
// may read them; customer-limited callers are refused.
func (s *Service) GetSummary(ctx context.Context, scope authz.Scope) (*ARSummary, error) {
	if scope.Kind != authz.ScopeAll && scope.Kind != authz.ScopeARSummary {
		return nil, db.ErrScopeForbidsRows
	}
	outstanding, overdue, creditSales, err := s.repo.SummaryFigures(ctx)
	if err != nil {
		return nil, err
	}
	return &ARSummary{
		TotalOutstanding:     outstanding,
		TotalOverdue:         overdue,
		CreditSalesLast90:    creditSales,
		DSODays:              ComputeDSO(outstanding, creditSales),
		OutstandingFormatted: FormatRupiah(outstanding),
		OverdueFormatted:     FormatRupiah(overdue),
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, actor authz.Identity, action string, invoiceID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "invoice",
		EntityID: strconv.FormatInt(invoiceID, 10),
		Meta:     meta,
	})
}
