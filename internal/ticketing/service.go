package ticketing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/platform/db"
	"github.com/kargo-dash/kargo-dash/internal/shared"
)

// RepositoryPort defines data access methods for ticketing.
type RepositoryPort interface {
	ListTickets(ctx context.Context, scope authz.Scope, status TicketStatus, limit, offset int) ([]Ticket, error)
	CountTickets(ctx context.Context, scope authz.Scope, status TicketStatus) (int, error)
	GetTicket(ctx context.Context, scope authz.Scope, id int64) (*Ticket, error)
	CreateTicket(ctx context.Context, input TicketInput, dueAt time.Time) (*Ticket, error)
	UpdateTicketStatus(ctx context.Context, scope authz.Scope, id int64, status TicketStatus) error
	AssignTicket(ctx context.Context, scope authz.Scope, id, assigneeID int64) error
	DeleteTicket(ctx context.Context, scope authz.Scope, id int64) error
	SLASummary(ctx context.Context) (*SLASummary, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles ticketing business logic.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// ListTickets returns one page of tickets visible under the scope together
// with pagination metadata.
func (s *Service) ListTickets(ctx context.Context, scope authz.Scope, status TicketStatus, page, perPage int) ([]Ticket, shared.Pagination, error) {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	total, err := s.repo.CountTickets(ctx, scope, status)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	tickets, err := s.repo.ListTickets(ctx, scope, status, perPage, (page-1)*perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return tickets, shared.NewPagination(page, perPage, total), nil
}

// GetTicket returns one ticket within the scope.
func (s *Service) GetTicket(ctx context.Context, scope authz.Scope, id int64) (*Ticket, error) {
	return s.repo.GetTicket(ctx, scope, id)
}

// CreateTicket validates and inserts a ticket. Writers confined to a
// department can only file tickets into that department.
func (s *Service) CreateTicket(ctx context.Context, actor authz.Identity, scope authz.Scope, input TicketInput) (*Ticket, error) {
	input.Subject = strings.TrimSpace(input.Subject)
	if input.Subject == "" {
		return nil, errors.New("ticketing: subject required")
	}
	if _, ok := slaHours[input.Priority]; !ok {
		input.Priority = PriorityMedium
	}
	if scope.Kind == authz.ScopeDepartment {
		if input.DeptCode != "" && input.DeptCode != scope.DeptCode {
			return nil, fmt.Errorf("ticketing: cannot file ticket for department %s", input.DeptCode)
		}
		input.DeptCode = scope.DeptCode
	}
	if input.DeptCode == "" {
		input.DeptCode = actor.DeptCode
	}
	if input.OwnerID == 0 {
		input.OwnerID = actor.UserID
	}

	created := s.now()
	ticket, err := s.repo.CreateTicket(ctx, input, SLADeadline(input.Priority, created))
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "ticket.create", ticket.ID, map[string]any{
		"priority": string(ticket.Priority),
		"dept":     ticket.DeptCode,
	})
	return ticket, nil
}

// UpdateStatus moves a ticket through its lifecycle within the scope.
func (s *Service) UpdateStatus(ctx context.Context, actor authz.Identity, scope authz.Scope, id int64, status TicketStatus) error {
	current, err := s.repo.GetTicket(ctx, scope, id)
	if err != nil {
		return err
	}
	if !CanTransition(current.Status, status) {
		return fmt.Errorf("ticketing: cannot move ticket from %s to %s", current.Status, status)
	}
	if err := s.repo.UpdateTicketStatus(ctx, scope, id, status); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "ticket.status", id, map[string]any{
		"from": string(current.Status),
		"to":   string(status),
	})
	return nil
}

// Assign sets the ticket assignee within the scope.
func (s *Service) Assign(ctx context.Context, actor authz.Identity, scope authz.Scope, id, assigneeID int64) error {
	if assigneeID <= 0 {
		return errors.New("ticketing: assignee required")
	}
	if err := s.repo.AssignTicket(ctx, scope, id, assigneeID); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "ticket.assign", id, map[string]any{"assignee_id": assigneeID})
	return nil
}

// Delete removes a ticket. Callers must have passed the destructive check.
func (s *Service) Delete(ctx context.Context, actor authz.Identity, scope authz.Scope, id int64) error {
	if err := s.repo.DeleteTicket(ctx, scope, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "ticket.delete", id, nil)
	return nil
}

// CanViewSLAAggregate reports whether a scope may read the company-wide SLA
// figures. Customer-limited scopes see only their assigned customers' rows
// and carry no aggregate privilege.
func CanViewSLAAggregate(scope authz.Scope) bool {
	switch scope.Kind {
	case authz.ScopeAll, authz.ScopeDepartment, authz.ScopeSLAAggregate:
		return true
	default:
		return false
	}
}

// GetSLASummary returns the aggregate SLA figures. This is the only shape of
// ticketing data available to aggregate-only scopes.
func (s *Service) GetSLASummary(ctx context.Context, scope authz.Scope) (*SLASummary, error) {
	if !CanViewSLAAggregate(scope) {
		return nil, db.ErrScopeForbidsRows
	}
	return s.repo.SLASummary(ctx)
}

// ApplyMask redacts the customer fields the scope hides. Returns a copy; the
// stored record is untouched.
func ApplyMask(scope authz.Scope, t Ticket) Ticket {
	if scope.Masks("customer_name") {
		t.CustomerName = authz.MaskValue(t.CustomerName)
	}
	if scope.Masks("customer_contact") {
		t.CustomerContact = authz.MaskValue(t.CustomerContact)
	}
	return t
}

func (s *Service) recordAudit(ctx context.Context, actor authz.Identity, action string, ticketID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "ticket",
		EntityID: strconv.FormatInt(ticketID, 10),
		Meta:     meta,
	})
}
