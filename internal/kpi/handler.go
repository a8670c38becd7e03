package kpi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/platform/db"
	"github.com/kargo-dash/kargo-dash/internal/platform/httpx"
)

// RefreshEnqueuer schedules a background snapshot rebuild after a cache
// invalidation. Satisfied by the jobs client; nil skips the enqueue.
type RefreshEnqueuer interface {
	EnqueueKPIRefresh(ctx context.Context, reason string) error
}

// Handler exposes the KPI menu over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
	authz   authz.Middleware
	enqueue RefreshEnqueuer
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware, enqueue RefreshEnqueuer) *Handler {
	return &Handler{logger: logger, service: service, authz: mw, enqueue: enqueue}
}

// MountRoutes registers KPI routes behind the access matrix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.authz.Require(authz.MenuKPI))

	r.Get("/snapshot", h.getSnapshot)

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireWrite(authz.MenuKPI))
		r.Post("/refresh", h.refresh)
	})
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	decision, _ := authz.DecisionFromContext(r.Context())

	period, err := NormalizePeriod(r.URL.Query().Get("period"), time.Now())
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: period must be YYYY-MM", httpx.ErrValidation))
		return
	}

	snapshot, err := h.service.GetSnapshot(r.Context(), decision.Scope, period)
	if err != nil {
		if errors.Is(err, db.ErrScopeForbidsRows) {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "access denied")
			return
		}
		h.logger.Error("kpi snapshot failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, snapshot)
}

// refresh invalidates cached snapshots after a data correction and queues a
// background rebuild so the next reads find warm entries.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Invalidate(r.Context()); err != nil {
		h.logger.Error("kpi cache bump failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	queued := false
	if h.enqueue != nil {
		if err := h.enqueue.EnqueueKPIRefresh(r.Context(), "manual"); err != nil {
			h.logger.Warn("kpi refresh enqueue failed", slog.Any("error", err))
		} else {
			queued = true
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invalidated": true, "queued": queued})
}
