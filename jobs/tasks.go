package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskKPIRefresh invalidates cached KPI snapshots after data loads.
	TaskKPIRefresh = "kpi:refresh"
	// TaskSLAScan sweeps open tickets for missed SLA deadlines.
	TaskSLAScan = "sla:scan"
	// TaskIdempotencyCleanup prunes expired workflow keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// KPIRefreshPayload parameterises a cache refresh run.
type KPIRefreshPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewKPIRefreshTask constructs the refresh task.
func NewKPIRefreshTask(payload KPIRefreshPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskKPIRefresh, data), nil
}

// SLAScanPayload parameterises an SLA sweep.
type SLAScanPayload struct {
	// EscalateAfterHours promotes tickets breached longer than this to
	// urgent priority. Zero disables escalation.
	EscalateAfterHours int `json:"escalate_after_hours,omitempty"`
}

// NewSLAScanTask constructs the sweep task.
func NewSLAScanTask(payload SLAScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSLAScan, data), nil
}

// IdempotencyCleanupPayload parameterises a key pruning run.
type IdempotencyCleanupPayload struct {
	// RetentionHours keeps keys younger than this. Zero falls back to the
	// handler default.
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewIdempotencyCleanupTask constructs the pruning task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
