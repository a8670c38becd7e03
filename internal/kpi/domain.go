package kpi

import (
	"fmt"
	"time"
)

// Snapshot carries the indicator card for one period. Figures are already
// narrowed to the caller's scope when they arrive here.
type Snapshot struct {
	Period             string  `json:"period"`
	ShipmentsCompleted int64   `json:"shipments_completed"`
	OnTimeRate         float64 `json:"on_time_rate"`
	RevenueBooked      float64 `json:"revenue_booked"`
	NewLeads           int64   `json:"new_leads"`
	TicketsResolved    int64   `json:"tickets_resolved"`
	SLACompliance      float64 `json:"sla_compliance"`
}

// NormalizePeriod validates a YYYY-MM period, defaulting to the current month.
func NormalizePeriod(raw string, now time.Time) (string, error) {
	if raw == "" {
		return now.Format("2006-01"), nil
	}
	if _, err := time.Parse("2006-01", raw); err != nil {
		return "", fmt.Errorf("kpi: period must be YYYY-MM: %w", err)
	}
	return raw, nil
}
