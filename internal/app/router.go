package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kargo-dash/kargo-dash/internal/auth"
	"github.com/kargo-dash/kargo-dash/internal/crm"
	"github.com/kargo-dash/kargo-dash/internal/dashboard"
	"github.com/kargo-dash/kargo-dash/internal/dso"
	"github.com/kargo-dash/kargo-dash/internal/kpi"
	"github.com/kargo-dash/kargo-dash/internal/observability"
	"github.com/kargo-dash/kargo-dash/internal/shared"
	"github.com/kargo-dash/kargo-dash/internal/ticketing"
	"github.com/kargo-dash/kargo-dash/jobs"
)

// RouterParams groups dependencies for building the HTTP router. One route
// subtree per menu; every subtree enforces the matrix through the authz
// middleware its handler mounts.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager

	AuthHandler      *auth.Handler
	DashboardHandler *dashboard.Handler
	KPIHandler       *kpi.Handler
	CRMHandler       *crm.Handler
	TicketingHandler *ticketing.Handler
	DSOHandler       *dso.Handler
	JobHandler       *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with the default middleware stack.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	if params.DashboardHandler != nil {
		r.Route("/dashboard", params.DashboardHandler.MountRoutes)
	}
	if params.KPIHandler != nil {
		r.Route("/kpi", params.KPIHandler.MountRoutes)
	}
	if params.CRMHandler != nil {
		r.Route("/crm", params.CRMHandler.MountRoutes)
	}
	if params.TicketingHandler != nil {
		r.Route("/ticketing", params.TicketingHandler.MountRoutes)
	}
	if params.DSOHandler != nil {
		r.Route("/dso", params.DSOHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
