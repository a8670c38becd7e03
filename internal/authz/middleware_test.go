package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kargo-dash/kargo-dash/internal/shared"
)

type fakeResolver struct {
	identities map[int64]Identity
	calls      int
}

func (f *fakeResolver) Resolve(_ context.Context, userID int64) (Identity, error) {
	f.calls++
	id, ok := f.identities[userID]
	if !ok {
		return Identity{}, errors.New("unknown user")
	}
	return id, nil
}

type fakeDenials struct {
	byMenu map[string]int
}

func (f *fakeDenials) RecordDenied(menu string) {
	if f.byMenu == nil {
		f.byMenu = make(map[string]int)
	}
	f.byMenu[menu]++
}

func newTestMiddleware(t *testing.T, resolver *fakeResolver, denials *fakeDenials) (Middleware, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	matrix, err := NewMatrix()
	require.NoError(t, err)
	sessions := shared.NewSessionManager(client, "kargo_session", "test-secret", time.Hour, false)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	mw := Middleware{Gate: NewGate(matrix), Resolver: resolver, Logger: logger}
	if denials != nil {
		mw.Denials = denials
	}
	return mw, sessions
}

func authedRequest(t *testing.T, sessions *shared.SessionManager, userID string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/kpi/snapshot", nil)
	sess, err := sessions.Load(context.Background(), req)
	require.NoError(t, err)
	if userID != "" {
		sess.SetUser(userID)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireRejectsMissingSessionBeforeRoleLookup(t *testing.T) {
	resolver := &fakeResolver{}
	mw, _ := newTestMiddleware(t, resolver, nil)

	req := httptest.NewRequest(http.MethodGet, "/kpi/snapshot", nil)
	rr := httptest.NewRecorder()
	mw.Require(MenuKPI)(okHandler()).ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Zero(t, resolver.calls)
}

func TestRequireRejectsBlankSessionUser(t *testing.T) {
	resolver := &fakeResolver{}
	mw, sessions := newTestMiddleware(t, resolver, nil)

	req := authedRequest(t, sessions, "")
	rr := httptest.NewRecorder()
	mw.Require(MenuKPI)(okHandler()).ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Zero(t, resolver.calls)
}

func TestRequireDeniedRespondsGenericallyAndCounts(t *testing.T) {
	resolver := &fakeResolver{identities: map[int64]Identity{
		31: {Role: RoleHRGA, UserID: 31},
	}}
	denials := &fakeDenials{}
	mw, sessions := newTestMiddleware(t, resolver, denials)

	req := authedRequest(t, sessions, "31")
	rr := httptest.NewRecorder()
	mw.Require(MenuKPI)(okHandler()).ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Contains(t, rr.Body.String(), "access denied")
	require.NotContains(t, rr.Body.String(), string(RoleHRGA))
	require.Equal(t, 1, denials.byMenu[string(MenuKPI)])
}

func TestRequireStoresIdentityAndDecision(t *testing.T) {
	resolver := &fakeResolver{identities: map[int64]Identity{
		7: {Role: RoleMarketingExim, UserID: 7},
	}}
	mw, sessions := newTestMiddleware(t, resolver, nil)

	var gotIdentity Identity
	var gotDecision Decision
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, _ = IdentityFromContext(r.Context())
		gotDecision, _ = DecisionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := authedRequest(t, sessions, "7")
	rr := httptest.NewRecorder()
	mw.Require(MenuKPI)(next).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, RoleMarketingExim, gotIdentity.Role)
	require.True(t, gotDecision.Allowed)
	require.Equal(t, ReadOwn, gotDecision.Level)
	require.Equal(t, ScopeOwner, gotDecision.Scope.Kind)
	require.EqualValues(t, 7, gotDecision.Scope.OwnerID)
}

func TestRequireWriteBlocksReadOnlyLevels(t *testing.T) {
	resolver := &fakeResolver{identities: map[int64]Identity{
		21: {Role: RoleFinance, UserID: 21},
		1:  {Role: RoleSuperAdmin, UserID: 1},
	}}
	denials := &fakeDenials{}
	mw, sessions := newTestMiddleware(t, resolver, denials)

	chain := mw.Require(MenuKPI)(mw.RequireWrite(MenuKPI)(okHandler()))

	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, authedRequest(t, sessions, "21"))
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, 1, denials.byMenu[string(MenuKPI)])

	rr = httptest.NewRecorder()
	chain.ServeHTTP(rr, authedRequest(t, sessions, "1"))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireDeleteBlocksAssistLevel(t *testing.T) {
	resolver := &fakeResolver{identities: map[int64]Identity{
		5: {Role: RoleSalesSupport, UserID: 5},
	}}
	mw, sessions := newTestMiddleware(t, resolver, nil)

	writeChain := mw.Require(MenuCRM)(mw.RequireWrite(MenuCRM)(okHandler()))
	deleteChain := mw.Require(MenuCRM)(mw.RequireDelete(MenuCRM)(okHandler()))

	rr := httptest.NewRecorder()
	writeChain.ServeHTTP(rr, authedRequest(t, sessions, "5"))
	require.Equal(t, http.StatusOK, rr.Code, "assist level may write")

	rr = httptest.NewRecorder()
	deleteChain.ServeHTTP(rr, authedRequest(t, sessions, "5"))
	require.Equal(t, http.StatusForbidden, rr.Code, "assist level must not delete")
}
