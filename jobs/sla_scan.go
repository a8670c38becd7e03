package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/kargo-dash/kargo-dash/internal/jobs"
)

// SLAScanJob sweeps open tickets for missed deadlines. Breached tickets get
// flagged, counted per department and, past the escalation window, promoted
// to urgent priority.
type SLAScanJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSLAScanJob wires dependencies for the sweep handler.
func NewSLAScanJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *SLAScanJob {
	return &SLAScanJob{Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle processes SLA sweep tasks.
func (j *SLAScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("sla scan: handler not configured")
	}
	var payload SLAScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskSLAScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	rows, err := j.Pool.Query(ctx, `
		UPDATE tickets
		SET sla_breached = TRUE, updated_at = NOW()
		WHERE status IN ('OPEN', 'IN_PROGRESS') AND due_at < NOW() AND NOT sla_breached
		RETURNING dept_code`)
	if err != nil {
		resultErr = err
		return resultErr
	}
	byDept := map[string]int{}
	for rows.Next() {
		var dept string
		if err := rows.Scan(&dept); err != nil {
			rows.Close()
			resultErr = err
			return resultErr
		}
		byDept[dept]++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		resultErr = err
		return resultErr
	}

	total := 0
	for dept, count := range byDept {
		j.metrics().AddBreaches(dept, count)
		total += count
	}

	if payload.EscalateAfterHours > 0 {
		tag, err := j.Pool.Exec(ctx, `
			UPDATE tickets
			SET priority = 'URGENT', updated_at = NOW()
			WHERE status IN ('OPEN', 'IN_PROGRESS')
			  AND sla_breached
			  AND priority <> 'URGENT'
			  AND due_at < NOW() - make_interval(hours => $1)`, payload.EscalateAfterHours)
		if err != nil {
			resultErr = err
			return resultErr
		}
		if tag.RowsAffected() > 0 {
			j.logger().Warn("tickets escalated to urgent", slog.Int64("count", tag.RowsAffected()))
		}
	}

	j.logger().Info("sla scan complete", slog.Int("newly_breached", total))
	return nil
}

func (j *SLAScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SLAScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
