package crm

import (
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
	"github.com/kargo-dash/kargo-dash/internal/shared"
)

// Handler exposes the CRM menu over HTTP. The access matrix is enforced at
// mount time; handlers only read the decision already placed in context.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	authz     authz.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		authz:     mw,
		validator: validator.New(),
	}
}

// MountRoutes registers CRM routes. Reads require CRM access, mutations
// additionally require a write-capable level, deletes a destructive one.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.authz.Require(authz.MenuCRM))

	r.Get("/leads", h.listLeads)
	r.Get("/leads/{id}", h.getLead)
	r.Get("/opportunities", h.listOpportunities)
	r.Get("/summary", h.getSummary)

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireWrite(authz.MenuCRM))
		r.Post("/leads", h.createLead)
		r.Patch("/leads/{id}/stage", h.updateLeadStage)
		r.Post("/leads/{id}/convert", h.convertLead)
		r.Post("/opportunities/{id}/cadence", h.seedCadence)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireDelete(authz.MenuCRM))
		r.Delete("/leads/{id}", h.deleteLead)
	})
}

type leadView struct {
	ID         int64  `json:"id"`
	Number     string `json:"number"`
	Company    string `json:"company"`
	Contact    string `json:"contact"`
	Phone      string `json:"phone"`
	Service    string `json:"service"`
	Stage      string `json:"stage"`
	OwnerID    int64  `json:"owner_id"`
	CustomerID int64  `json:"customer_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func newLeadView(l Lead) leadView {
	return leadView{
		ID:         l.ID,
		Number:     l.Number,
		Company:    l.Company,
		Contact:    l.Contact,
		Phone:      l.Phone,
		Service:    l.Service,
		Stage:      string(l.Stage),
		OwnerID:    l.OwnerID,
		CustomerID: l.CustomerID,
		CreatedAt:  l.CreatedAt.Format(time.RFC3339),
	}
}

type opportunityView struct {
	ID         int64   `json:"id"`
	Number     string  `json:"number"`
	LeadID     int64   `json:"lead_id,omitempty"`
	CustomerID int64   `json:"customer_id"`
	Name       string  `json:"name"`
	Stage      string  `json:"stage"`
	Value      float64 `json:"value"`
	OwnerID    int64   `json:"owner_id"`
}

func (h *Handler) listLeads(w http.ResponseWriter, r *http.Request) {
	decision, _ := authz.DecisionFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	leads, err := h.service.ListLeads(r.Context(), decision.Scope, limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	views := make([]leadView, 0, len(leads))
	for _, l := range leads {
		views = append(views, newLeadView(l))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"leads": views})
}

func (h *Handler) getLead(w http.ResponseWriter, r *http.Request) {
	decision, _ := authz.DecisionFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid lead id")
		return
	}
	lead, err := h.service.GetLead(r.Context(), decision.Scope, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newLeadView(*lead))
}

type createLeadRequest struct {
	Company    string `json:"company" validate:"required"`
	Contact    string `json:"contact" validate:"required"`
	Phone      string `json:"phone"`
	Service    string `json:"service" validate:"required"`
	CustomerID int64  `json:"customer_id"`
}

func (h *Handler) createLead(w http.ResponseWriter, r *http.Request) {
	identity, _ := authz.IdentityFromContext(r.Context())

	var req createLeadRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company, contact and service are required")
		return
	}

	lead, err := h.service.CreateLead(r.Context(), identity, LeadInput{
		Company:    req.Company,
		Contact:    req.Contact,
		Phone:      req.Phone,
		Service:    req.Service,
		OwnerID:    identity.UserID,
		CustomerID: req.CustomerID,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newLeadView(*lead))
}

type updateStageRequest struct {
	Stage string `json:"stage" validate:"required"`
}

func (h *Handler) updateLeadStage(w http.ResponseWriter, r *http.Request) {
	identity, _ := authz.IdentityFromContext(r.Context())
	decision, _ := authz.DecisionFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid lead id")
		return
	}

	var req updateStageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "stage is required")
		return
	}

	stage := LeadStage(strings.ToUpper(strings.TrimSpace(req.Stage)))
	if err := h.service.UpdateLeadStage(r.Context(), identity, decision.Scope, id, stage); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, db.ErrScopeForbidsRows) {
			h.respondServiceError(w, err)
			return
		}
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Stage", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "stage": string(stage)})
}

func (h *Handler) deleteLead(w http.ResponseWriter, r *http.Request) {
	identity, _ := authz.IdentityFromContext(r.Context())
	decision, _ := authz.DecisionFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid lead id")
		return
	}
	if err := h.service.DeleteLead(r.Context(), identity, decision.Scope, id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listOpportunities(w http.ResponseWriter, r *http.Request) {
	decision, _ := authz.DecisionFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	opps, err := h.service.ListOpportunities(r.Context(), decision.Scope, limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	views := make([]opportunityView, 0, len(opps))
	for _, o := range opps {
		views = append(views, opportunityView{
			ID:         o.ID,
			Number:     o.Number,
			LeadID:     o.LeadID,
			CustomerID: o.CustomerID,
			Name:       o.Name,
			Stage:      string(o.Stage),
			Value:      o.Value,
			OwnerID:    o.OwnerID,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"opportunities": views})
}

func (h *Handler) convertLead(w http.ResponseWriter, r *http.Request) {
	identity, _ := authz.IdentityFromContext(r.Context())
	decision, _ := authz.DecisionFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid lead id")
		return
	}

	key := idempotencyKey(r)
	result, err := h.service.ConvertLead(r.Context(), identity, decision.Scope, id, key)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if result.AlreadyDone {
		status = http.StatusOK
	}
	httpx.JSON(w, status, map[string]any{
		"opportunity_id":  result.OpportunityID,
		"customer_id":     result.CustomerID,
		"already_done":    result.AlreadyDone,
		"idempotency_key": key,
	})
}

func (h *Handler) seedCadence(w http.ResponseWriter, r *http.Request) {
	identity, _ := authz.IdentityFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid opportunity id")
		return
	}

	key := idempotencyKey(r)
	result, err := h.service.SeedActivityCadence(r.Context(), identity, id, key)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"activities_seeded": result.ActivitiesSeeded,
		"idempotency_key":   key,
	})
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	decision, _ := authz.DecisionFromContext(r.Context())
	summary, err := h.service.GetSummary(r.Context(), decision.Scope)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"open_leads":         summary.OpenLeads,
		"open_opportunities": summary.OpenOpportunities,
		"pipeline_value":     summary.PipelineValue,
	})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "resource not found")
	case errors.Is(err, db.ErrScopeForbidsRows):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "access denied")
	default:
		h.logger.Error("crm request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// idempotencyKey prefers the caller supplied header so retries dedupe, and
// mints a fresh key otherwise.
func idempotencyKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		return key
	}
	return shared.NewIdempotencyKey()
}
