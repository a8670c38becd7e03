package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/kargo-dash/kargo-dash/internal/jobs"
)

// defaultIdempotencyRetention keeps claimed workflow keys long enough to
// absorb client retries before they are pruned.
const defaultIdempotencyRetention = 72 * time.Hour

// IdempotencyCleaner prunes workflow keys older than the retention window.
// Satisfied by shared.IdempotencyStore.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob prunes expired workflow keys so the table does not
// grow without bound.
type IdempotencyCleanupJob struct {
	Store   IdempotencyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob wires dependencies for the pruning handler.
func NewIdempotencyCleanupJob(store IdempotencyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle processes key pruning tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := defaultIdempotencyRetention
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}

	tracker := j.metrics().Track(TaskIdempotencyCleanup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if resultErr = j.Store.Cleanup(ctx, retention); resultErr != nil {
		j.logger().Error("idempotency cleanup failed", slog.Any("error", resultErr))
		return resultErr
	}
	j.logger().Info("idempotency keys pruned", slog.Duration("retention", retention))
	return nil
}

func (j *IdempotencyCleanupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *IdempotencyCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
