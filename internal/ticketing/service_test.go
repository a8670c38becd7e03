package ticketing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/platform/db"
	"github.com/kargo-dash/kargo-dash/internal/shared"
)

type memoryTicketRepo struct {
	tickets   map[int64]*Ticket
	nextID    int64
	lastScope authz.Scope
	summary   SLASummary
}

func newMemoryTicketRepo() *memoryTicketRepo {
	return &memoryTicketRepo{tickets: map[int64]*Ticket{}, nextID: 1}
}

func (m *memoryTicketRepo) visible(scope authz.Scope, t *Ticket) bool {
	switch scope.Kind {
	case authz.ScopeAll:
		return true
	case authz.ScopeOwner:
		return t.OwnerID == scope.OwnerID
	case authz.ScopeDepartment:
		return t.DeptCode == scope.DeptCode
	default:
		return false
	}
}

func (m *memoryTicketRepo) ListTickets(_ context.Context, scope authz.Scope, status TicketStatus, _, _ int) ([]Ticket, error) {
	m.lastScope = scope
	var out []Ticket
	for _, t := range m.tickets {
		if !m.visible(scope, t) {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *memoryTicketRepo) CountTickets(_ context.Context, scope authz.Scope, status TicketStatus) (int, error) {
	total := 0
	for _, t := range m.tickets {
		if !m.visible(scope, t) {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		total++
	}
	return total, nil
}

func (m *memoryTicketRepo) GetTicket(_ context.Context, scope authz.Scope, id int64) (*Ticket, error) {
	t, ok := m.tickets[id]
	if !ok || !m.visible(scope, t) {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memoryTicketRepo) CreateTicket(_ context.Context, input TicketInput, dueAt time.Time) (*Ticket, error) {
	t := &Ticket{
		ID:           m.nextID,
		Number:       "TK-0001",
		Subject:      input.Subject,
		Status:       StatusOpen,
		Priority:     input.Priority,
		DeptCode:     input.DeptCode,
		CustomerName: input.CustomerName,
		OwnerID:      input.OwnerID,
		DueAt:        dueAt,
	}
	m.tickets[m.nextID] = t
	m.nextID++
	cp := *t
	return &cp, nil
}

func (m *memoryTicketRepo) UpdateTicketStatus(_ context.Context, scope authz.Scope, id int64, status TicketStatus) error {
	t, ok := m.tickets[id]
	if !ok || !m.visible(scope, t) {
		return ErrNotFound
	}
	t.Status = status
	return nil
}

func (m *memoryTicketRepo) AssignTicket(_ context.Context, scope authz.Scope, id, assigneeID int64) error {
	t, ok := m.tickets[id]
	if !ok || !m.visible(scope, t) {
		return ErrNotFound
	}
	t.AssigneeID = assigneeID
	return nil
}

func (m *memoryTicketRepo) DeleteTicket(_ context.Context, scope authz.Scope, id int64) error {
	t, ok := m.tickets[id]
	if !ok || !m.visible(scope, t) {
		return ErrNotFound
	}
	delete(m.tickets, id)
	return nil
}

func (m *memoryTicketRepo) SLASummary(_ context.Context) (*SLASummary, error) {
	cp := m.summary
	return &cp, nil
}

type ticketAudit struct {
	records []shared.AuditLog
}

func (m *ticketAudit) Record(_ context.Context, log shared.AuditLog) error {
	m.records = append(m.records, log)
	return nil
}

func eximOpsIdentity() authz.Identity {
	return authz.Identity{Role: authz.RoleEximOps, UserID: 11, DeptCode: "EXIM"}
}

func deptScope(code string) authz.Scope {
	return authz.Scope{
		Kind:         authz.ScopeDepartment,
		DeptCode:     code,
		MaskedFields: []string{"customer_name", "customer_contact"},
	}
}

func TestCreateTicketForcesDepartmentForDeptScopedWriter(t *testing.T) {
	repo := newMemoryTicketRepo()
	svc := NewService(repo, &ticketAudit{})

	ticket, err := svc.CreateTicket(context.Background(), eximOpsIdentity(), deptScope("EXIM"), TicketInput{
		Subject:  "Container delayed at port",
		Priority: PriorityHigh,
	})
	require.NoError(t, err)
	require.Equal(t, "EXIM", ticket.DeptCode)
	require.Equal(t, StatusOpen, ticket.Status)
}

func TestCreateTicketRejectsForeignDepartment(t *testing.T) {
	svc := NewService(newMemoryTicketRepo(), &ticketAudit{})

	_, err := svc.CreateTicket(context.Background(), eximOpsIdentity(), deptScope("EXIM"), TicketInput{
		Subject:  "Misrouted shipment",
		DeptCode: "DOM",
	})
	require.Error(t, err)
}

func TestCreateTicketComputesSLADeadline(t *testing.T) {
	repo := newMemoryTicketRepo()
	svc := NewService(repo, &ticketAudit{})
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }

	ticket, err := svc.CreateTicket(context.Background(), eximOpsIdentity(), deptScope("EXIM"), TicketInput{
		Subject:  "Customs hold",
		Priority: PriorityUrgent,
	})
	require.NoError(t, err)
	require.Equal(t, created.Add(4*time.Hour), ticket.DueAt)
}

func TestUpdateStatusEnforcesTransitions(t *testing.T) {
	repo := newMemoryTicketRepo()
	repo.tickets[1] = &Ticket{ID: 1, DeptCode: "EXIM", Status: StatusOpen, OwnerID: 11}
	svc := NewService(repo, &ticketAudit{})
	scope := deptScope("EXIM")

	require.NoError(t, svc.UpdateStatus(context.Background(), eximOpsIdentity(), scope, 1, StatusInProgress))
	require.Error(t, svc.UpdateStatus(context.Background(), eximOpsIdentity(), scope, 1, StatusClosed))
	require.NoError(t, svc.UpdateStatus(context.Background(), eximOpsIdentity(), scope, 1, StatusResolved))
	require.NoError(t, svc.UpdateStatus(context.Background(), eximOpsIdentity(), scope, 1, StatusClosed))
	require.Error(t, svc.UpdateStatus(context.Background(), eximOpsIdentity(), scope, 1, StatusOpen))
}

func TestUpdateStatusOutsideDepartmentIsNotFound(t *testing.T) {
	repo := newMemoryTicketRepo()
	repo.tickets[1] = &Ticket{ID: 1, DeptCode: "DOM", Status: StatusOpen, OwnerID: 3}
	svc := NewService(repo, &ticketAudit{})

	err := svc.UpdateStatus(context.Background(), eximOpsIdentity(), deptScope("EXIM"), 1, StatusInProgress)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyMaskRedactsCustomerFields(t *testing.T) {
	ticket := Ticket{
		Subject:         "Damaged cargo claim",
		CustomerName:    "Pelita Samudra",
		CustomerContact: "Budi Hartono",
	}

	masked := ApplyMask(deptScope("EXIM"), ticket)
	require.Equal(t, "P***** S******", masked.CustomerName)
	require.Equal(t, "B*** H******", masked.CustomerContact)
	require.Equal(t, "Damaged cargo claim", masked.Subject)

	unmasked := ApplyMask(authz.Scope{Kind: authz.ScopeAll}, ticket)
	require.Equal(t, "Pelita Samudra", unmasked.CustomerName)
}

func TestBreachedUsesResolutionTime(t *testing.T) {
	due := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	late := due.Add(time.Hour)
	onTime := due.Add(-time.Hour)

	require.True(t, Ticket{Status: StatusResolved, DueAt: due, ResolvedAt: &late}.Breached(late))
	require.False(t, Ticket{Status: StatusResolved, DueAt: due, ResolvedAt: &onTime}.Breached(late))
	require.True(t, Ticket{Status: StatusOpen, DueAt: due}.Breached(due.Add(time.Minute)))
	require.False(t, Ticket{Status: StatusOpen, DueAt: due}.Breached(due.Add(-time.Minute)))
}

func TestListTicketsReturnsPaginationMeta(t *testing.T) {
	repo := newMemoryTicketRepo()
	for i := int64(1); i <= 45; i++ {
		repo.tickets[i] = &Ticket{ID: i, DeptCode: "EXIM", Status: StatusOpen, OwnerID: 11}
	}
	svc := NewService(repo, &ticketAudit{})

	_, pagination, err := svc.ListTickets(context.Background(), deptScope("EXIM"), "", 2, 20)
	require.NoError(t, err)
	require.Equal(t, 2, pagination.Page)
	require.Equal(t, 20, pagination.PerPage)
	require.Equal(t, 45, pagination.Total)
	require.Equal(t, 3, pagination.TotalPages)
}

func TestSLASummaryPassthrough(t *testing.T) {
	repo := newMemoryTicketRepo()
	repo.summary = SLASummary{OpenTickets: 12, BreachedTickets: 3, ComplianceRate: 0.91}
	svc := NewService(repo, &ticketAudit{})

	summary, err := svc.GetSLASummary(context.Background(), authz.Scope{Kind: authz.ScopeSLAAggregate})
	require.NoError(t, err)
	require.Equal(t, int64(12), summary.OpenTickets)
	require.Equal(t, 0.91, summary.ComplianceRate)

	summary, err = svc.GetSLASummary(context.Background(), deptScope("EXIM"))
	require.NoError(t, err)
	require.Equal(t, int64(12), summary.OpenTickets)
}

func TestSLASummaryRefusesCustomerLimitedScope(t *testing.T) {
	repo := newMemoryTicketRepo()
	repo.summary = SLASummary{OpenTickets: 12}
	svc := NewService(repo, &ticketAudit{})

	_, err := svc.GetSLASummary(context.Background(), authz.Scope{Kind: authz.ScopeCustomer, OwnerID: 7})
	require.ErrorIs(t, err, db.ErrScopeForbidsRows)

	_, err = svc.GetSLASummary(context.Background(), authz.Scope{Kind: authz.ScopeOwner, OwnerID: 7})
	require.ErrorIs(t, err, db.ErrScopeForbidsRows)
}
