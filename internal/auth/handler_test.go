package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kargo-dash/kargo-dash/internal/shared"
)

type memoryAuthRepo struct {
	users    map[string]*User
	sessions map[string]int64
}

func newMemoryAuthRepo() *memoryAuthRepo {
	return &memoryAuthRepo{users: make(map[string]*User), sessions: make(map[string]int64)}
}

func (r *memoryAuthRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	user, ok := r.users[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return user, nil
}

func (r *memoryAuthRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	r.sessions[id] = userID
	return nil
}

func (r *memoryAuthRepo) DeleteSession(ctx context.Context, id string) error {
	delete(r.sessions, id)
	return nil
}

func newTestHandler(t *testing.T, repo Repository) (*Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions := shared.NewSessionManager(client, "kargo_session", "test-secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewHandler(logger, NewService(repo), sessions, csrf), sessions
}

func requestWithSession(t *testing.T, sessions *shared.SessionManager, method, target string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	sess, err := sessions.Load(context.Background(), req)
	require.NoError(t, err)
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func TestHandleLoginSuccess(t *testing.T) {
	repo := newMemoryAuthRepo()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.DefaultCost)
	require.NoError(t, err)
	repo.users["ops@kargo.example"] = &User{
		ID: 7, Email: "ops@kargo.example", PasswordHash: string(hashed), IsActive: true,
	}
	handler, sessions := newTestHandler(t, repo)

	body, _ := json.Marshal(loginRequest{Email: "ops@kargo.example", Password: "correctpass"})
	req := requestWithSession(t, sessions, http.MethodPost, "/auth/login", body)
	rr := httptest.NewRecorder()

	handler.handleLogin(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.Authenticated)
	require.Equal(t, "7", resp.UserID)
	require.NotEmpty(t, resp.CSRFToken)
	require.Len(t, repo.sessions, 1)
}

func TestHandleLoginBadPassword(t *testing.T) {
	repo := newMemoryAuthRepo()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.DefaultCost)
	require.NoError(t, err)
	repo.users["ops@kargo.example"] = &User{
		ID: 7, Email: "ops@kargo.example", PasswordHash: string(hashed), IsActive: true,
	}
	handler, sessions := newTestHandler(t, repo)

	body, _ := json.Marshal(loginRequest{Email: "ops@kargo.example", Password: "wrongpassword"})
	req := requestWithSession(t, sessions, http.MethodPost, "/auth/login", body)
	rr := httptest.NewRecorder()

	handler.handleLogin(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Empty(t, repo.sessions)
}

func TestHandleLoginInactiveUser(t *testing.T) {
	repo := newMemoryAuthRepo()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.DefaultCost)
	require.NoError(t, err)
	repo.users["gone@kargo.example"] = &User{
		ID: 8, Email: "gone@kargo.example", PasswordHash: string(hashed), IsActive: false,
	}
	handler, sessions := newTestHandler(t, repo)

	body, _ := json.Marshal(loginRequest{Email: "gone@kargo.example", Password: "correctpass"})
	req := requestWithSession(t, sessions, http.MethodPost, "/auth/login", body)
	rr := httptest.NewRecorder()

	handler.handleLogin(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandleLoginValidation(t *testing.T) {
	handler, sessions := newTestHandler(t, newMemoryAuthRepo())

	body, _ := json.Marshal(loginRequest{Email: "not-an-email", Password: "short"})
	req := requestWithSession(t, sessions, http.MethodPost, "/auth/login", body)
	rr := httptest.NewRecorder()

	handler.handleLogin(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}
