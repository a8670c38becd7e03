package ticketing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/platform/db"
	"github.com/kargo-dash/kargo-dash/internal/platform/httpx"
)

// ScanEnqueuer schedules an on-demand SLA sweep in the background worker.
// Satisfied by the jobs client.
type ScanEnqueuer interface {
	EnqueueSLAScan(ctx context.Context, escalateAfterHours int) error
}

// scanEscalateAfterHours matches the scheduled sweep: tickets breached longer
// than this are promoted to urgent.
const scanEscalateAfterHours = 24

// Handler exposes the Ticketing menu over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	authz     authz.Middleware
	validator *validator.Validate
	enqueue   ScanEnqueuer
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware, enqueue ScanEnqueuer) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		authz:     mw,
		validator: validator.New(),
		enqueue:   enqueue,
	}
}

// MountRoutes registers ticketing routes behind the access matrix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.authz.Require(authz.MenuTicketing))

	r.Get("/tickets", h.listTickets)
	r.Get("/tickets/{id}", h.getTicket)
	r.Get("/sla", h.getSLASummary)

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireWrite(authz.MenuTicketing))
		r.Post("/tickets", h.createTicket)
		r.Patch("/tickets/{id}/status", h.updateStatus)
		r.Patch("/tickets/{id}/assign", h.assignTicket)
		r.Post("/sla/scan", h.triggerSLAScan)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireDelete(authz.MenuTicketing))
		r.Delete("/tickets/{id}", h.deleteTicket)
	})
}

type ticketView struct {
	ID              int64  `json:"id"`
	Number          string `json:"number"`
	Subject         string `json:"subject"`
	Description     string `json:"description"`
	Status          string `json:"status"`
	Priority        string `json:"priority"`
	DeptCode        string `json:"dept_code"`
	CustomerID      int64  `json:"customer_id,omitempty"`
	CustomerName    string `json:"customer_name"`
	CustomerContact string `json:"customer_contact"`
	OwnerID         int64  `json:"owner_id"`
	AssigneeID      int64  `json:"assignee_id,omitempty"`
	DueAt           string `json:"due_at"`
	ResolvedAt      string `json:"resolved_at,omitempty"`
	Breached        bool   `json:"breached"`
}

// newTicketView builds the response shape, masking customer fields when the
// caller's scope requires it.
func newTicketView(scope authz.Scope, t Ticket, now time.Time) ticketView {
	masked := ApplyMask(scope, t)
	view := ticketView{
		ID:              masked.ID,
		Number:          masked.Number,
		Subject:         masked.Subject,
		Description:     masked.Description,
		Status:          string(masked.Status),
		Priority:        string(masked.Priority),
		DeptCode:        masked.DeptCode,
		CustomerID:      masked.CustomerID,
		CustomerName:    masked.CustomerName,
		CustomerContact: masked.CustomerContact,
		OwnerID:         masked.OwnerID,
		AssigneeID:      masked.AssigneeID,
		DueAt:           masked.DueAt.Format(time.RFC3339),
		Breached:        masked.Breached(now),
	}
	if masked.ResolvedAt != nil {
		view.ResolvedAt = masked.ResolvedAt.Format(time.RFC3339)
	}
	return view
}

func (h *Handler) listTickets(w http.ResponseWriter, r *http.Request) {
	decision, _ := authz.DecisionFromContext(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	status := TicketStatus(strings.ToUpper(r.URL.Query().Get("status")))

	tickets, pagination, err := h.service.ListTickets(r.Context(), decision.Scope, status, page, perPage)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	now := time.Now()
	views := make([]ticketView, 0, len(tickets))
	for _, t := range tickets {
		views = append(views, newTicketView(decision.Scope, t, now))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"tickets": views,
		"pagination": map[string]any{
			"page":        pagination.Page,
			"per_page":    pagination.PerPage,
			"total":       pagination.Total,
			"total_pages": pagination.TotalPages,
		},
	})
}

func (h *Handler) getTicket(w http.ResponseWriter, r *http.Request) {
	decision, _ := authz.DecisionFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid ticket id")
		return
	}
	ticket, err := h.service.GetTicket(r.Context(), decision.Scope, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newTicketView(decision.Scope, *ticket, time.Now()))
}

type createTicketRequest struct {
	Subject         string `json:"subject" validate:"required"`
	Description     string `json:"description"`
	Priority        string `json:"priority"`
	DeptCode        string `json:"dept_code"`
	CustomerID      int64  `json:"customer_id"`
	CustomerName    string `json:"customer_name"`
	CustomerContact string `json:"customer_contact"`
	AssigneeID      int64  `json:"assignee_id"`
}

func (h *Handler) createTicket(w http.ResponseWriter, r *http.Request) {
	identity, _ := authz.IdentityFromContext(r.Context())
	decision, _ := authz.DecisionFromContext(r.Context())

	var req createTicketRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "subject is required")
		return
	}

	ticket, err := h.service.CreateTicket(r.Context(), identity, decision.Scope, TicketInput{
		Subject:         req.Subject,
		Description:     req.Description,
		Priority:        TicketPriority(strings.ToUpper(req.Priority)),
		DeptCode:        req.DeptCode,
		CustomerID:      req.CustomerID,
		CustomerName:    req.CustomerName,
		CustomerContact: req.CustomerContact,
		OwnerID:         identity.UserID,
		AssigneeID:      req.AssigneeID,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, db.ErrScopeForbidsRows) {
			h.respondServiceError(w, err)
			return
		}
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Ticket", err.Error())
		return
	}
	httpx.JSON(w, http.StatusCreated, newTicketView(decision.Scope, *ticket, time.Now()))
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	identity, _ := authz.IdentityFromContext(r.Context())
	decision, _ := authz.DecisionFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid ticket id")
		return
	}

	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "status is required")
		return
	}

	status := TicketStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if err := h.service.UpdateStatus(r.Context(), identity, decision.Scope, id, status); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, db.ErrScopeForbidsRows) {
			h.respondServiceError(w, err)
			return
		}
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Transition", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": string(status)})
}

type assignRequest struct {
	AssigneeID int64 `json:"assignee_id" validate:"required,gt=0"`
}

func (h *Handler) assignTicket(w http.ResponseWriter, r *http.Request) {
	identity, _ := authz.IdentityFromContext(r.Context())
	decision, _ := authz.DecisionFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid ticket id")
		return
	}

	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "assignee_id is required")
		return
	}

	if err := h.service.Assign(r.Context(), identity, decision.Scope, id, req.AssigneeID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "assignee_id": req.AssigneeID})
}

func (h *Handler) deleteTicket(w http.ResponseWriter, r *http.Request) {
	identity, _ := authz.IdentityFromContext(r.Context())
	decision, _ := authz.DecisionFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid ticket id")
		return
	}
	if err := h.service.Delete(r.Context(), identity, decision.Scope, id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getSLASummary(w http.ResponseWriter, r *http.Request) {
	decision, _ := authz.DecisionFromContext(r.Context())
	summary, err := h.service.GetSLASummary(r.Context(), decision.Scope)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"open_tickets":          summary.OpenTickets,
		"breached_tickets":      summary.BreachedTickets,
		"due_within_24h":        summary.DueWithin24h,
		"resolved_last_30_days": summary.ResolvedLast30Days,
		"compliance_rate":       summary.ComplianceRate,
	})
}

// triggerSLAScan queues an immediate sweep without waiting for the next
// scheduled run, for use after bulk imports or deadline corrections.
func (h *Handler) triggerSLAScan(w http.ResponseWriter, r *http.Request) {
	if h.enqueue == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "background worker not configured")
		return
	}
	if err := h.enqueue.EnqueueSLAScan(r.Context(), scanEscalateAfterHours); err != nil {
		h.logger.Error("sla scan enqueue failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "resource not found")
	case errors.Is(err, db.ErrScopeForbidsRows):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "access denied")
	default:
		h.logger.Error("ticketing request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
