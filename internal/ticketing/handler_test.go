package ticketing

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kargo-dash/kargo-dash/internal/authz"
)

type fakeScanEnqueuer struct {
	escalations []int
}

func (f *fakeScanEnqueuer) EnqueueSLAScan(_ context.Context, escalateAfterHours int) error {
	f.escalations = append(f.escalations, escalateAfterHours)
	return nil
}

func newScanHandler(t *testing.T, enqueue ScanEnqueuer) *Handler {
	t.Helper()
	svc := NewService(newMemoryTicketRepo(), &ticketAudit{})
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewHandler(logger, svc, authz.Middleware{}, enqueue)
}

func TestTriggerSLAScanQueuesSweep(t *testing.T) {
	enqueue := &fakeScanEnqueuer{}
	handler := newScanHandler(t, enqueue)

	rr := httptest.NewRecorder()
	handler.triggerSLAScan(rr, httptest.NewRequest(http.MethodPost, "/ticketing/sla/scan", nil))

	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []int{scanEscalateAfterHours}, enqueue.escalations)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, true, resp["queued"])
}

func TestTriggerSLAScanWithoutWorkerIsUnavailable(t *testing.T) {
	handler := newScanHandler(t, nil)

	rr := httptest.NewRecorder()
	handler.triggerSLAScan(rr, httptest.NewRequest(http.MethodPost, "/ticketing/sla/scan", nil))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
