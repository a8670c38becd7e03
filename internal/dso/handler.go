package dso

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

// Handler exposes the DSO menu over HTTP.
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

// MountRoutes registers receivables routes behind the access matrix. The
// summary route refuses customer-limited scopes; row routes refuse
// summary-only scopes at the repository.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.authz.Require(authz.MenuDSO))

	r.Get("/summary", h.getSummary)
	r.Get("/aging", h.getAging)
	r.Get("/invoices", h.listInvoices)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Get("/invoices/{id}/payments", h.listPayments)

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireWrite(authz.MenuDSO))
		r.Post("/invoices", h.createInvoice)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireDelete(authz.MenuDSO))
		r.Post("/invoices/{id}/write-off", h.writeOffInvoice)
	})
}

type invoiceView struct {
	ID           int64   `json:"id"`
	Number       string  `json:"number"`
	CustomerID   int64   `json:"customer_id"`
	CustomerName string  `json:"customer_name"`
	Amount       float64 `json:"amount"`
	PaidAmount   float64 `json:"paid_amount"`
	Outstanding  float64 `json:"outstanding"`
	Status       string  `json:"status"`
	IssuedAt     string  `json:"issued_at"`
	DueAt        string  `json:"due_at"`
}

func newInvoiceView(inv Invoice) invoiceView {
	return invoiceView{
		ID:           inv.ID,
		Number:       inv.Number,
		CustomerID:   inv.CustomerID,
		CustomerName: inv.CustomerName,
		Amount:       inv.Amount,
		PaidAmount:   inv.PaidAmount,
		Outstanding:  inv.Outstanding(),
		Status:       string(inv.Status),
		IssuedAt:     inv.IssuedAt.Format(time.RFC3339),
		DueAt:        inv.DueAt.Format(time.RFC3339),
	}
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	decision, _ := authz.DecisionFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := InvoiceStatus(strings.ToUpper(r.URL.Query().Get("status")))

	invoices, err := h.service.ListInvoices(r.Context(), decision.Scope, status, limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	views := make([]invoiceView, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, newInvoiceView(inv))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": views})
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	decision, _ := authz.DecisionFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), decision.Scope, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newInvoiceView(*inv))
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	decision, _ := authz.DecisionFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	payments, err := h.service.ListPayments(r.Context(), decision.Scope, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	type paymentView struct {
		ID        int64   `json:"id"`
		Amount    float64 `json:"amount"`
		Method    string  `json:"method"`
		Reference string  `json:"reference,omitempty"`
		PaidAt    string  `json:"paid_at"`
	}
	views := make([]paymentView, 0, len(payments))
	for _, p := range payments {
		views = append(views, paymentView{
			ID:        p.ID,
			Amount:    p.Amount,
			Method:    p.Method,
			Reference: p.Reference,
			PaidAt:    p.PaidAt.Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoice_id": id, "payments": views})
}

type createInvoiceRequest struct {
	CustomerID     int64   `json:"customer_id" validate:"required,gt=0"`
	Amount         float64 `json:"amount" validate:"required,gt=0"`
	IssuedAt       string  `json:"issued_at"`
	DueAt          string  `json:"due_at"`
	InitialPayment float64 `json:"initial_payment" validate:"gte=0"`
	PaymentMethod  string  `json:"payment_method"`
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	identity, _ := authz.IdentityFromContext(r.Context())

	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "customer_id and a positive amount are required")
		return
	}

	input := InvoiceInput{
		CustomerID:     req.CustomerID,
		Amount:         req.Amount,
		InitialPayment: req.InitialPayment,
		PaymentMethod:  req.PaymentMethod,
	}
	if req.IssuedAt != "" {
		t, err := time.Parse(time.RFC3339, req.IssuedAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "issued_at must be RFC 3339")
			return
		}
		input.IssuedAt = t
	}
	if req.DueAt != "" {
		t, err := time.Parse(time.RFC3339, req.DueAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "due_at must be RFC 3339")
			return
		}
		input.DueAt = t
	}

	key := idempotencyKey(r)
	result, err := h.service.CreateInvoiceWithPayment(r.Context(), identity, input, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, db.ErrScopeForbidsRows) {
			h.respondServiceError(w, err)
			return
		}
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Invoice", err.Error())
		return
	}
	status := http.StatusCreated
	if result.AlreadyDone {
		status = http.StatusOK
	}
	httpx.JSON(w, status, map[string]any{
		"invoice_id":      result.InvoiceID,
		"payment_id":      result.PaymentID,
		"already_done":    result.AlreadyDone,
		"idempotency_key": key,
	})
}

func (h *Handler) writeOffInvoice(w http.ResponseWriter, r *http.Request) {
	identity, _ := authz.IdentityFromContext(r.Context())
	decision, _ := authz.DecisionFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	if err := h.service.WriteOff(r.Context(), identity, decision.Scope, id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": string(InvoiceWrittenOff)})
}

func (h *Handler) getAging(w http.ResponseWriter, r *http.Request) {
	decision, _ := authz.DecisionFromContext(r.Context())
	report, err := h.service.GetAging(r.Context(), decision.Scope)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	type bucketView struct {
		Label  string  `json:"label"`
		Amount float64 `json:"amount"`
		Count  int64   `json:"count"`
	}
	buckets := make([]bucketView, 0, len(report.Buckets))
	for _, b := range report.Buckets {
		buckets = append(buckets, bucketView{Label: b.Label, Amount: b.Amount, Count: b.Count})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"buckets": buckets, "total": report.Total})
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	decision, _ := authz.DecisionFromContext(r.Context())
	summary, err := h.service.GetSummary(r.Context(), decision.Scope)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"total_outstanding":     summary.TotalOutstanding,
		"total_overdue":         summary.TotalOverdue,
		"credit_sales_last_90":  summary.CreditSalesLast90,
		"dso_days":              summary.DSODays,
		"outstanding_formatted": summary.OutstandingFormatted,
		"overdue_formatted":     summary.OverdueFormatted,
	})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "resource not found")
	case errors.Is(err, db.ErrScopeForbidsRows):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "access denied")
	default:
		h.logger.Error("dso request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func idempotencyKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		return key
	}
	return shared.NewIdempotencyKey()
}
