package crm

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/shared"
)

// RepositoryPort defines data access methods for CRM.
type RepositoryPort interface {
	ListLeads(ctx context.Context, scope authz.Scope, limit int) ([]Lead, error)
	GetLead(ctx context.Context, scope authz.Scope, id int64) (*Lead, error)
	CreateLead(ctx context.Context, input LeadInput) (*Lead, error)
	UpdateLeadStage(ctx context.Context, scope authz.Scope, id int64, stage LeadStage) error
	DeleteLead(ctx context.Context, scope authz.Scope, id int64) error
	ListOpportunities(ctx context.Context, scope authz.Scope, limit int) ([]Opportunity, error)
	ConvertLead(ctx context.Context, leadID, actorID int64, idempotencyKey string) (*ConversionResult, error)
	SeedActivityCadence(ctx context.Context, opportunityID, actorID int64, idempotencyKey string) (*CadenceResult, error)
	Summary(ctx context.Context, scope authz.Scope) (*CRMSummary, error)
}

// IdempotencyPort claims workflow keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, workflow string) error
	Release(ctx context.Context, key string) error
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles CRM business logic. Every method that touches rows takes
// the scope produced by the authorization gate.
type Service struct {
	repo        RepositoryPort
	idempotency IdempotencyPort
	audit       AuditPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, idempotency IdempotencyPort, audit AuditPort) *Service {
	return &Service{repo: repo, idempotency: idempotency, audit: audit}
}

// ListLeads returns leads visible under the scope.
func (s *Service) ListLeads(ctx context.Context, scope authz.Scope, limit int) ([]Lead, error) {
	return s.repo.ListLeads(ctx, scope, limit)
}

// GetLead returns one lead within the scope.
func (s *Service) GetLead(ctx context.Context, scope authz.Scope, id int64) (*Lead, error) {
	return s.repo.GetLead(ctx, scope, id)
}

// CreateLead validates and inserts a lead owned by the actor.
func (s *Service) CreateLead(ctx context.Context, actor authz.Identity, input LeadInput) (*Lead, error) {
	input.Company = strings.TrimSpace(input.Company)
	if input.Company == "" {
		return nil, errors.New("crm: company required")
	}
	if input.OwnerID == 0 {
		input.OwnerID = actor.UserID
	}
	lead, err := s.repo.CreateLead(ctx, input)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "lead.create", "lead", lead.ID, nil)
	return lead, nil
}

// UpdateLeadStage moves a lead between stages within the scope.
func (s *Service) UpdateLeadStage(ctx context.Context, actor authz.Identity, scope authz.Scope, id int64, stage LeadStage) error {
	switch stage {
	case LeadStageNew, LeadStageContacted, LeadStageQualified, LeadStageLost:
	case LeadStageConverted:
		return errors.New("crm: conversion must go through the conversion workflow")
	default:
		return errors.New("crm: unknown lead stage")
	}
	if err := s.repo.UpdateLeadStage(ctx, scope, id, stage); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "lead.stage", "lead", id, map[string]any{"stage": string(stage)})
	return nil
}

// DeleteLead removes a lead. Callers must have passed the destructive-access
// check before reaching here.
func (s *Service) DeleteLead(ctx context.Context, actor authz.Identity, scope authz.Scope, id int64) error {
	if err := s.repo.DeleteLead(ctx, scope, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "lead.delete", "lead", id, nil)
	return nil
}

// ListOpportunities returns opportunities visible under the scope.
func (s *Service) ListOpportunities(ctx context.Context, scope authz.Scope, limit int) ([]Opportunity, error) {
	return s.repo.ListOpportunities(ctx, scope, limit)
}

// ConvertLead runs the atomic lead conversion workflow. The idempotency key
// identifies the logical action: a retry with the same key is reported as
// already done instead of converting twice.
func (s *Service) ConvertLead(ctx context.Context, actor authz.Identity, scope authz.Scope, leadID int64, idempotencyKey string) (*ConversionResult, error) {
	if idempotencyKey == "" {
		return nil, errors.New("crm: idempotency key required")
	}
	// Visibility check first so callers outside the scope get not-found.
	if _, err := s.repo.GetLead(ctx, scope, leadID); err != nil {
		return nil, err
	}
	if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, "crm.convert_lead"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return &ConversionResult{AlreadyDone: true}, nil
		}
		return nil, err
	}
	result, err := s.repo.ConvertLead(ctx, leadID, actor.UserID, idempotencyKey)
	if err != nil {
		// Free the key so the caller may retry the failed workflow.
		_ = s.idempotency.Release(ctx, idempotencyKey)
		return nil, err
	}
	s.recordAudit(ctx, actor, "lead.convert", "lead", leadID, map[string]any{
		"opportunity_id":  result.OpportunityID,
		"idempotency_key": idempotencyKey,
	})
	return result, nil
}

// SeedActivityCadence attaches the standard follow-up cadence to an
// opportunity via the database workflow.
func (s *Service) SeedActivityCadence(ctx context.Context, actor authz.Identity, opportunityID int64, idempotencyKey string) (*CadenceResult, error) {
	if idempotencyKey == "" {
		return nil, errors.New("crm: idempotency key required")
	}
	if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, "crm.seed_cadence"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return &CadenceResult{}, nil
		}
		return nil, err
	}
	result, err := s.repo.SeedActivityCadence(ctx, opportunityID, actor.UserID, idempotencyKey)
	if err != nil {
		_ = s.idempotency.Release(ctx, idempotencyKey)
		return nil, err
	}
	s.recordAudit(ctx, actor, "opportunity.cadence", "opportunity", opportunityID, map[string]any{
		"seeded": result.ActivitiesSeeded,
	})
	return result, nil
}

// GetSummary aggregates pipeline figures under the scope.
func (s *Service) GetSummary(ctx context.Context, scope authz.Scope) (*CRMSummary, error) {
	return s.repo.Summary(ctx, scope)
}

func (s *Service) recordAudit(ctx context.Context, actor authz.Identity, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
