package kpi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kargo-dash/kargo-dash/internal/authz"
)

type fakeRefreshEnqueuer struct {
	reasons []string
	err     error
}

func (f *fakeRefreshEnqueuer) EnqueueKPIRefresh(_ context.Context, reason string) error {
	if f.err != nil {
		return f.err
	}
	f.reasons = append(f.reasons, reason)
	return nil
}

func newRefreshHandler(t *testing.T, enqueue RefreshEnqueuer) *Handler {
	t.Helper()
	svc := NewService(&countingKPIRepo{}, newTestCache(t, time.Minute))
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewHandler(logger, svc, authz.Middleware{}, enqueue)
}

func TestRefreshQueuesBackgroundRebuild(t *testing.T) {
	enqueue := &fakeRefreshEnqueuer{}
	handler := newRefreshHandler(t, enqueue)

	rr := httptest.NewRecorder()
	handler.refresh(rr, httptest.NewRequest(http.MethodPost, "/kpi/refresh", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []string{"manual"}, enqueue.reasons)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, true, resp["invalidated"])
	require.Equal(t, true, resp["queued"])
}

func TestRefreshStillInvalidatesWhenEnqueueFails(t *testing.T) {
	enqueue := &fakeRefreshEnqueuer{err: errors.New("queue down")}
	handler := newRefreshHandler(t, enqueue)

	rr := httptest.NewRecorder()
	handler.refresh(rr, httptest.NewRequest(http.MethodPost, "/kpi/refresh", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, true, resp["invalidated"])
	require.Equal(t, false, resp["queued"])
}
