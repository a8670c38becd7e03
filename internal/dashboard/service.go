package dashboard

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/crm"
	"github.com/kargo-dash/kargo-dash/internal/dso"
	"github.com/kargo-dash/kargo-dash/internal/kpi"
	"github.com/kargo-dash/kargo-dash/internal/ticketing"
)

// ErrNoDashboard indicates the identity has no dashboard access at all.
var ErrNoDashboard = errors.New("dashboard: access denied")

// CRMSource supplies the pipeline summary section.
type CRMSource interface {
	GetSummary(ctx context.Context, scope authz.Scope) (*crm.CRMSummary, error)
}

// SLASource supplies the service-level section.
type SLASource interface {
	GetSLASummary(ctx context.Context, scope authz.Scope) (*ticketing.SLASummary, error)
}

// ARSource supplies the receivables section.
type ARSource interface {
	GetSummary(ctx context.Context, scope authz.Scope) (*dso.ARSummary, error)
}

// KPISource supplies the indicator card.
type KPISource interface {
	GetSnapshot(ctx context.Context, scope authz.Scope, period string) (*kpi.Snapshot, error)
}

// Overview is the dashboard payload. Sections the caller may not see are nil
// and omitted from the response.
type Overview struct {
	Role     string                `json:"role"`
	Sections []string              `json:"sections"`
	CRM      *crm.CRMSummary       `json:"crm,omitempty"`
	SLA      *ticketing.SLASummary `json:"sla,omitempty"`
	AR       *dso.ARSummary        `json:"ar,omitempty"`
	KPI      *kpi.Snapshot         `json:"kpi,omitempty"`
}

// Service assembles the landing dashboard. Which sections load, and how wide
// each one sees, is decided per menu by the same gate that guards the menus
// themselves.
type Service struct {
	gate *authz.Gate
	crm  CRMSource
	sla  SLASource
	ar   ARSource
	kpi  KPISource
	now  func() time.Time
}

// NewService builds a Service instance.
func NewService(gate *authz.Gate, crmSrc CRMSource, slaSrc SLASource, arSrc ARSource, kpiSrc KPISource) *Service {
	return &Service{gate: gate, crm: crmSrc, sla: slaSrc, ar: arSrc, kpi: kpiSrc, now: time.Now}
}

// Overview loads every section the identity is entitled to, concurrently.
// An identity limited to SLA aggregates gets exactly the SLA card.
func (s *Service) Overview(ctx context.Context, identity authz.Identity) (*Overview, error) {
	dashDecision, err := s.gate.Authorize(identity, authz.MenuDashboard)
	if err != nil {
		return nil, ErrNoDashboard
	}

	overview := &Overview{Role: string(identity.Role)}
	g, gctx := errgroup.WithContext(ctx)

	if dashDecision.Scope.Kind == authz.ScopeSLAAggregate {
		overview.Sections = []string{"sla"}
		scope := dashDecision.Scope
		g.Go(func() error {
			summary, err := s.sla.GetSLASummary(gctx, scope)
			if err != nil {
				return err
			}
			overview.SLA = summary
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return overview, nil
	}

	if decision, err := s.gate.Authorize(identity, authz.MenuCRM); err == nil && !decision.Scope.AggregateOnly() {
		overview.Sections = append(overview.Sections, "crm")
		scope := decision.Scope
		g.Go(func() error {
			summary, err := s.crm.GetSummary(gctx, scope)
			if err != nil {
				return err
			}
			overview.CRM = summary
			return nil
		})
	}

	// The SLA card is also a company-wide aggregate. Ticketing levels whose
	// scope is limited to assigned customers get their rows through the
	// ticketing menu itself, not the dashboard card.
	if decision, err := s.gate.Authorize(identity, authz.MenuTicketing); err == nil && ticketing.CanViewSLAAggregate(decision.Scope) {
		overview.Sections = append(overview.Sections, "sla")
		scope := decision.Scope
		g.Go(func() error {
			summary, err := s.sla.GetSLASummary(gctx, scope)
			if err != nil {
				return err
			}
			overview.SLA = summary
			return nil
		})
	}

	// The receivables card carries company-wide figures, so it only loads for
	// levels whose DSO visibility is not limited to assigned customers.
	if decision, err := s.gate.Authorize(identity, authz.MenuDSO); err == nil &&
		(decision.Scope.Kind == authz.ScopeAll || decision.Scope.Kind == authz.ScopeARSummary) {
		overview.Sections = append(overview.Sections, "ar")
		scope := decision.Scope
		g.Go(func() error {
			summary, err := s.ar.GetSummary(gctx, scope)
			if err != nil {
				return err
			}
			overview.AR = summary
			return nil
		})
	}

	if decision, err := s.gate.Authorize(identity, authz.MenuKPI); err == nil && !decision.Scope.AggregateOnly() {
		overview.Sections = append(overview.Sections, "kpi")
		scope := decision.Scope
		period := s.now().Format("2006-01")
		g.Go(func() error {
			snapshot, err := s.kpi.GetSnapshot(gctx, scope, period)
			if err != nil {
				return err
			}
			overview.KPI = snapshot
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return overview, nil
}
