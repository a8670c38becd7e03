package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/kargo-dash/kargo-dash/internal/jobs"
	"github.com/kargo-dash/kargo-dash/internal/kpi"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// KPIRefreshJob bumps the KPI cache version so every instance reloads its
// snapshots after nightly data loads or corrections.
type KPIRefreshJob struct {
	KPI     *kpi.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewKPIRefreshJob wires dependencies for the refresh handler.
func NewKPIRefreshJob(kpiSvc *kpi.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *KPIRefreshJob {
	return &KPIRefreshJob{KPI: kpiSvc, Logger: logger, Metrics: metrics}
}

// Handle processes cache refresh tasks.
func (j *KPIRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.KPI == nil {
		return errors.New("kpi refresh: handler not configured")
	}
	var payload KPIRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskKPIRefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if resultErr = j.KPI.Invalidate(ctx); resultErr != nil {
		j.logger().Error("kpi cache refresh failed", slog.Any("error", resultErr))
		return resultErr
	}
	j.logger().Info("kpi cache refreshed", slog.String("reason", payload.Reason))
	return nil
}

func (j *KPIRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *KPIRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
