package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/kargo-dash/kargo-dash/internal/platform/httpx"
	"github.com/kargo-dash/kargo-dash/internal/shared"
)

// IdentityResolver turns an authenticated user id into a full Identity.
// Implemented by the profile service; injected so tests can substitute fakes.
type IdentityResolver interface {
	Resolve(ctx context.Context, userID int64) (Identity, error)
}

type identityContextKey struct{}
type decisionContextKey struct{}

// ContextWithIdentity stores the resolved identity in the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity placed by the middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// ContextWithDecision stores the authorization decision in the context.
func ContextWithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionContextKey{}, d)
}

// DecisionFromContext extracts the decision placed by the middleware.
// Handlers read the scope from here and pass it to their repositories.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(Decision)
	return d, ok
}

// DenialRecorder counts rejected requests per menu. Satisfied by the
// observability metrics; nil disables recording.
type DenialRecorder interface {
	RecordDenied(menu string)
}

// Middleware wires the authorization gate into the HTTP layer.
type Middleware struct {
	Gate     *Gate
	Resolver IdentityResolver
	Logger   *slog.Logger
	Denials  DenialRecorder
}

func (m Middleware) recordDenied(menu Menu) {
	if m.Denials != nil {
		m.Denials.RecordDenied(string(menu))
	}
}

// Require authorizes every request against the menu and stores the identity
// and decision in the request context. Unauthenticated requests get 401
// before any role lookup; denied requests get a generic 403.
func (m Middleware) Require(menu Menu) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := m.resolveIdentity(r)
			if err != nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			decision, err := m.Gate.Authorize(id, menu)
			if err != nil {
				if errors.Is(err, ErrUnauthenticated) {
					httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
					return
				}
				if m.Logger != nil {
					m.Logger.Warn("access denied",
						slog.String("role", string(id.Role)),
						slog.String("menu", string(menu)))
				}
				m.recordDenied(menu)
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "access denied")
				return
			}
			ctx := ContextWithIdentity(r.Context(), id)
			ctx = ContextWithDecision(ctx, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireWrite additionally rejects any request whose access level is
// read-only, independent of the read decision already in context. Mutating
// routes mount both Require and RequireWrite.
func (m Middleware) RequireWrite(menu Menu) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, ok := DecisionFromContext(r.Context())
			if !ok || !decision.CanWrite() {
				m.recordDenied(menu)
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireDelete rejects requests whose level excludes destructive operations.
func (m Middleware) RequireDelete(menu Menu) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, ok := DecisionFromContext(r.Context())
			if !ok || !decision.CanDelete() {
				m.recordDenied(menu)
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) resolveIdentity(r *http.Request) (Identity, error) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return Identity{}, ErrUnauthenticated
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("parse session user id", slog.String("value", raw))
		}
		return Identity{}, ErrUnauthenticated
	}
	id, err := m.Resolver.Resolve(r.Context(), userID)
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}
