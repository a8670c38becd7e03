package crm

import "time"

// LeadStage enumerates lead lifecycle stages.
type LeadStage string

const (
	LeadStageNew       LeadStage = "NEW"
	LeadStageContacted LeadStage = "CONTACTED"
	LeadStageQualified LeadStage = "QUALIFIED"
	LeadStageConverted LeadStage = "CONVERTED"
	LeadStageLost      LeadStage = "LOST"
)

// Lead model.
type Lead struct {
	ID         int64
	Number     string
	Company    string
	Contact    string
	Phone      string
	Service    string
	Stage      LeadStage
	OwnerID    int64
	CustomerID int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LeadInput for creating or updating leads.
type LeadInput struct {
	Company    string
	Contact    string
	Phone      string
	Service    string
	OwnerID    int64
	CustomerID int64
}

// OpportunityStage enumerates opportunity pipeline stages.
type OpportunityStage string

const (
	OppStageProspect    OpportunityStage = "PROSPECT"
	OppStageProposal    OpportunityStage = "PROPOSAL"
	OppStageNegotiation OpportunityStage = "NEGOTIATION"
	OppStageWon         OpportunityStage = "WON"
	OppStageLost        OpportunityStage = "LOST"
)

// Opportunity model.
type Opportunity struct {
	ID         int64
	Number     string
	LeadID     int64
	CustomerID int64
	Name       string
	Stage      OpportunityStage
	Value      float64
	OwnerID    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ConversionResult is returned by the lead conversion workflow.
type ConversionResult struct {
	OpportunityID int64
	CustomerID    int64
	AlreadyDone   bool
}

// CadenceResult is returned by the activity cadence seeding workflow.
type CadenceResult struct {
	ActivitiesSeeded int
}

// CRMSummary aggregates pipeline figures for the dashboard.
type CRMSummary struct {
	OpenLeads         int64
	OpenOpportunities int64
	PipelineValue     float64
}
