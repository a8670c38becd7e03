package dso

import "time"

// InvoiceStatus enumerates receivable states.
type InvoiceStatus string

const (
	InvoiceOpen       InvoiceStatus = "OPEN"
	InvoicePartial    InvoiceStatus = "PARTIAL"
	InvoicePaid       InvoiceStatus = "PAID"
	InvoiceWrittenOff InvoiceStatus = "WRITTEN_OFF"
)

// Invoice model.
type Invoice struct {
	ID           int64
	Number       string
	CustomerID   int64
	CustomerName string
	Amount       float64
	PaidAmount   float64
	Status       InvoiceStatus
	IssuedAt     time.Time
	DueAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Outstanding returns the unpaid balance.
func (i Invoice) Outstanding() float64 {
	if i.Status == InvoiceWrittenOff {
		return 0
	}
	return i.Amount - i.PaidAmount
}

// Payment model.
type Payment struct {
	ID        int64
	InvoiceID int64
	Amount    float64
	Method    string
	Reference string
	PaidAt    time.Time
}

// InvoiceInput feeds the invoice-with-payment workflow. InitialPayment may be
// zero for a plain credit invoice.
type InvoiceInput struct {
	CustomerID     int64
	Amount         float64
	IssuedAt       time.Time
	DueAt          time.Time
	InitialPayment float64
	PaymentMethod  string
}

// InvoiceCreationResult is returned by the invoice creation workflow.
type InvoiceCreationResult struct {
	InvoiceID   int64
	PaymentID   int64
	AlreadyDone bool
}

// AgingBucket is one column of the receivables aging report.
type AgingBucket struct {
	Label  string
	Amount float64
	Count  int64
}

// AgingReport groups outstanding receivables by days overdue.
type AgingReport struct {
	Buckets []AgingBucket
	Total   float64
}

// agingBucketLabels fixes the report columns from not-yet-due through the
// deep-overdue tail.
var agingBucketLabels = []string{"current", "1-30", "31-60", "61-90", "91-120", "120+"}

// ARSummary is the aggregate projection for roles whose access stops at
// summary figures. No invoice rows travel with it.
type ARSummary struct {
	TotalOutstanding     float64
	TotalOverdue         float64
	CreditSalesLast90    float64
	DSODays              float64
	OutstandingFormatted string
	OverdueFormatted     string
}

// dsoWindowDays is the trailing period used for the DSO calculation.
const dsoWindowDays = 90

// ComputeDSO returns days sales outstanding over the trailing window:
// receivables balance divided by credit sales, scaled to days.
func ComputeDSO(outstanding, creditSales float64) float64 {
	if creditSales <= 0 {
		return 0
	}
	return outstanding / creditSales * dsoWindowDays
}
