package ticketing

import "time"

// TicketStatus enumerates ticket lifecycle states.
type TicketStatus string

const (
	StatusOpen       TicketStatus = "OPEN"
	StatusInProgress TicketStatus = "IN_PROGRESS"
	StatusResolved   TicketStatus = "RESOLVED"
	StatusClosed     TicketStatus = "CLOSED"
)

// validTransitions caps where a ticket may move next. Closed is terminal.
var validTransitions = map[TicketStatus][]TicketStatus{
	StatusOpen:       {StatusInProgress, StatusResolved},
	StatusInProgress: {StatusResolved, StatusOpen},
	StatusResolved:   {StatusClosed, StatusInProgress},
	StatusClosed:     {},
}

// CanTransition reports whether a status change is allowed.
func CanTransition(from, to TicketStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TicketPriority drives the response-time promise attached at creation.
type TicketPriority string

const (
	PriorityLow    TicketPriority = "LOW"
	PriorityMedium TicketPriority = "MEDIUM"
	PriorityHigh   TicketPriority = "HIGH"
	PriorityUrgent TicketPriority = "URGENT"
)

// slaHours maps priority to the resolution window in hours.
var slaHours = map[TicketPriority]int{
	PriorityUrgent: 4,
	PriorityHigh:   24,
	PriorityMedium: 72,
	PriorityLow:    120,
}

// SLADeadline computes the due time for a ticket created at createdAt.
func SLADeadline(priority TicketPriority, createdAt time.Time) time.Time {
	hours, ok := slaHours[priority]
	if !ok {
		hours = slaHours[PriorityMedium]
	}
	return createdAt.Add(time.Duration(hours) * time.Hour)
}

// Ticket model.
type Ticket struct {
	ID              int64
	Number          string
	Subject         string
	Description     string
	Status          TicketStatus
	Priority        TicketPriority
	DeptCode        string
	CustomerID      int64
	CustomerName    string
	CustomerContact string
	OwnerID         int64
	AssigneeID      int64
	DueAt           time.Time
	ResolvedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Breached reports whether the ticket missed its SLA window.
func (t Ticket) Breached(now time.Time) bool {
	if t.ResolvedAt != nil {
		return t.ResolvedAt.After(t.DueAt)
	}
	return t.Status != StatusClosed && now.After(t.DueAt)
}

// TicketInput for creating tickets.
type TicketInput struct {
	Subject         string
	Description     string
	Priority        TicketPriority
	DeptCode        string
	CustomerID      int64
	CustomerName    string
	CustomerContact string
	OwnerID         int64
	AssigneeID      int64
}

// SLASummary carries the aggregate figures exposed to roles that may not see
// individual tickets.
type SLASummary struct {
	OpenTickets        int64
	BreachedTickets    int64
	DueWithin24h       int64
	ResolvedLast30Days int64
	ComplianceRate     float64
}
