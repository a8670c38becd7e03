package dso

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/platform/db"
	"github.com/kargo-dash/kargo-dash/internal/shared"
)

type memoryDSORepo struct {
	outstanding float64
	overdue     float64
	creditSales float64
	createFn    func() (*InvoiceCreationResult, error)
	lastInput   InvoiceInput
}

func (m *memoryDSORepo) ListInvoices(_ context.Context, scope authz.Scope, _ InvoiceStatus, _ int) ([]Invoice, error) {
	if scope.AggregateOnly() || scope.Kind == authz.ScopeNone {
		return nil, db.ErrScopeForbidsRows
	}
	return nil, nil
}

func (m *memoryDSORepo) GetInvoice(_ context.Context, scope authz.Scope, _ int64) (*Invoice, error) {
	if scope.AggregateOnly() || scope.Kind == authz.ScopeNone {
		return nil, db.ErrScopeForbidsRows
	}
	return nil, ErrNotFound
}

func (m *memoryDSORepo) ListPayments(context.Context, authz.Scope, int64) ([]Payment, error) {
	return nil, nil
}

func (m *memoryDSORepo) CreateInvoiceWithPayment(_ context.Context, input InvoiceInput, _ int64, _ string) (*InvoiceCreationResult, error) {
	m.lastInput = input
	if m.createFn != nil {
		return m.createFn()
	}
	return &InvoiceCreationResult{InvoiceID: 10, PaymentID: 20}, nil
}

func (m *memoryDSORepo) WriteOffInvoice(context.Context, authz.Scope, int64) error {
	return nil
}

func (m *memoryDSORepo) Aging(context.Context, authz.Scope) (*AgingReport, error) {
	return &AgingReport{}, nil
}

func (m *memoryDSORepo) SummaryFigures(context.Context) (float64, float64, float64, error) {
	return m.outstanding, m.overdue, m.creditSales, nil
}

type dsoIdempotency struct {
	claimed  map[string]string
	released []string
}

func newDSOIdempotency() *dsoIdempotency {
	return &dsoIdempotency{claimed: map[string]string{}}
}

func (m *dsoIdempotency) CheckAndInsert(_ context.Context, key, workflow string) error {
	if _, ok := m.claimed[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.claimed[key] = workflow
	return nil
}

func (m *dsoIdempotency) Release(_ context.Context, key string) error {
	delete(m.claimed, key)
	m.released = append(m.released, key)
	return nil
}

type dsoAudit struct {
	records []shared.AuditLog
}

func (m *dsoAudit) Record(_ context.Context, log shared.AuditLog) error {
	m.records = append(m.records, log)
	return nil
}

func financeIdentity() authz.Identity {
	return authz.Identity{Role: authz.RoleFinance, UserID: 21, DeptCode: "FIN"}
}

func TestComputeDSO(t *testing.T) {
	require.InDelta(t, 45.0, ComputeDSO(500, 1000), 0.001)
	require.Zero(t, ComputeDSO(500, 0))
}

func TestFormatRupiahGroupsDigits(t *testing.T) {
	require.Equal(t, "Rp 1.234.567", FormatRupiah(1234567))
	require.Equal(t, "Rp 0", FormatRupiah(0))
}

func TestGetSummaryComputesDSOAndFormatsAmounts(t *testing.T) {
	repo := &memoryDSORepo{outstanding: 900000, overdue: 250000, creditSales: 2700000}
	svc := NewService(repo, newDSOIdempotency(), &dsoAudit{})

	summary, err := svc.GetSummary(context.Background(), authz.Scope{Kind: authz.ScopeARSummary})
	require.NoError(t, err)
	require.InDelta(t, 30.0, summary.DSODays, 0.001)
	require.Equal(t, "Rp 900.000", summary.OutstandingFormatted)
	require.Equal(t, "Rp 250.000", summary.OverdueFormatted)
}

func TestGetSummaryRefusesCustomerLimitedScope(t *testing.T) {
	repo := &memoryDSORepo{outstanding: 900000, overdue: 250000, creditSales: 2700000}
	svc := NewService(repo, newDSOIdempotency(), &dsoAudit{})

	// Marketing roles see only their assigned customers' rows; the
	// company-wide totals must stay out of reach for them.
	_, err := svc.GetSummary(context.Background(), authz.Scope{Kind: authz.ScopeCustomer, OwnerID: 7})
	require.ErrorIs(t, err, db.ErrScopeForbidsRows)

	_, err = svc.GetSummary(context.Background(), authz.Scope{Kind: authz.ScopeOwner, OwnerID: 7})
	require.ErrorIs(t, err, db.ErrScopeForbidsRows)

	_, err = svc.GetSummary(context.Background(), authz.Scope{Kind: authz.ScopeAll})
	require.NoError(t, err)
}

func TestCreateInvoiceValidation(t *testing.T) {
	svc := NewService(&memoryDSORepo{}, newDSOIdempotency(), &dsoAudit{})
	ctx := context.Background()

	_, err := svc.CreateInvoiceWithPayment(ctx, financeIdentity(), InvoiceInput{CustomerID: 1, Amount: 100}, "")
	require.Error(t, err)

	_, err = svc.CreateInvoiceWithPayment(ctx, financeIdentity(), InvoiceInput{CustomerID: 1, Amount: -5}, "key")
	require.Error(t, err)

	_, err = svc.CreateInvoiceWithPayment(ctx, financeIdentity(), InvoiceInput{CustomerID: 1, Amount: 100, InitialPayment: 150}, "key")
	require.Error(t, err)

	issued := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.CreateInvoiceWithPayment(ctx, financeIdentity(), InvoiceInput{
		CustomerID: 1, Amount: 100, IssuedAt: issued, DueAt: issued.AddDate(0, 0, -1),
	}, "key")
	require.Error(t, err)
}

func TestCreateInvoiceDefaultsDueDate(t *testing.T) {
	repo := &memoryDSORepo{}
	svc := NewService(repo, newDSOIdempotency(), &dsoAudit{})
	issued := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.CreateInvoiceWithPayment(context.Background(), financeIdentity(), InvoiceInput{
		CustomerID: 1, Amount: 100, IssuedAt: issued,
	}, "key-1")
	require.NoError(t, err)
	require.Equal(t, issued.AddDate(0, 0, 30), repo.lastInput.DueAt)
}

func TestCreateInvoiceRetryIsAlreadyDone(t *testing.T) {
	repo := &memoryDSORepo{}
	idem := newDSOIdempotency()
	audit := &dsoAudit{}
	svc := NewService(repo, idem, audit)
	ctx := context.Background()

	first, err := svc.CreateInvoiceWithPayment(ctx, financeIdentity(), InvoiceInput{CustomerID: 1, Amount: 100}, "key-1")
	require.NoError(t, err)
	require.False(t, first.AlreadyDone)
	require.Equal(t, "dso.create_invoice", idem.claimed["key-1"])
	require.Len(t, audit.records, 1)

	second, err := svc.CreateInvoiceWithPayment(ctx, financeIdentity(), InvoiceInput{CustomerID: 1, Amount: 100}, "key-1")
	require.NoError(t, err)
	require.True(t, second.AlreadyDone)
	require.Len(t, audit.records, 1)
}

func TestCreateInvoiceReleasesKeyOnFailure(t *testing.T) {
	repo := &memoryDSORepo{createFn: func() (*InvoiceCreationResult, error) {
		return nil, errors.New("serialization failure")
	}}
	idem := newDSOIdempotency()
	svc := NewService(repo, idem, &dsoAudit{})

	_, err := svc.CreateInvoiceWithPayment(context.Background(), financeIdentity(), InvoiceInput{CustomerID: 1, Amount: 100}, "key-1")
	require.Error(t, err)
	require.NotContains(t, idem.claimed, "key-1")
	require.Equal(t, []string{"key-1"}, idem.released)
}

func TestSummaryScopeCannotReachInvoiceRows(t *testing.T) {
	svc := NewService(&memoryDSORepo{}, newDSOIdempotency(), &dsoAudit{})
	scope := authz.Scope{Kind: authz.ScopeARSummary}

	_, err := svc.ListInvoices(context.Background(), scope, "", 10)
	require.ErrorIs(t, err, db.ErrScopeForbidsRows)
}

func TestInvoiceOutstanding(t *testing.T) {
	require.Equal(t, 40.0, Invoice{Amount: 100, PaidAmount: 60, Status: InvoicePartial}.Outstanding())
	require.Zero(t, Invoice{Amount: 100, PaidAmount: 0, Status: InvoiceWrittenOff}.Outstanding())
}
