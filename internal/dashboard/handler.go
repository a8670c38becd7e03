package dashboard

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/platform/httpx"
)

// Handler exposes the landing dashboard over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
	authz   authz.Middleware
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, authz: mw}
}

// MountRoutes registers the dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.authz.Require(authz.MenuDashboard))
	r.Get("/overview", h.getOverview)
	r.Get("/menus", h.getMenus)
}

func (h *Handler) getOverview(w http.ResponseWriter, r *http.Request) {
	identity, _ := authz.IdentityFromContext(r.Context())

	overview, err := h.service.Overview(r.Context(), identity)
	if err != nil {
		if errors.Is(err, ErrNoDashboard) {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "access denied")
			return
		}
		h.logger.Error("dashboard overview failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, overview)
}

// getMenus tells the client which navigation entries to render. The frontend
// never decides visibility itself.
func (h *Handler) getMenus(w http.ResponseWriter, r *http.Request) {
	identity, _ := authz.IdentityFromContext(r.Context())

	menus := h.service.gate.AllowedMenus(identity.Role)
	names := make([]string, 0, len(menus))
	for _, m := range menus {
		names = append(names, string(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": string(identity.Role), "menus": names})
}
