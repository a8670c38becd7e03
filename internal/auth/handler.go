package auth

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kargo-dash/kargo-dash/internal/platform/httpx"
	"github.com/kargo-dash/kargo-dash/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/session", h.showSession)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	CSRFToken     string `json:"csrf_token,omitempty"`
}

// showSession reports the current session state and hands out the CSRF token
// mutating requests must echo back.
func (h *Handler) showSession(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.JSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("ensure csrf token", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, sessionResponse{
		Authenticated: sess.User() != "",
		UserID:        sess.User(),
		CSRFToken:     token,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "email and password are required")
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10))

	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}

	token, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	httpx.JSON(w, http.StatusOK, sessionResponse{
		Authenticated: true,
		UserID:        sess.User(),
		CSRFToken:     token,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	httpx.JSON(w, http.StatusOK, sessionResponse{Authenticated: false})
}
