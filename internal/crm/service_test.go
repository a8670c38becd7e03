package crm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/shared"
)

type memoryCRMRepo struct {
	leads     map[int64]*Lead
	lastScope authz.Scope
	converted map[int64]bool
	convertFn func() (*ConversionResult, error)
	cadenceFn func() (*CadenceResult, error)
}

func newMemoryCRMRepo() *memoryCRMRepo {
	return &memoryCRMRepo{leads: map[int64]*Lead{}, converted: map[int64]bool{}}
}

func (m *memoryCRMRepo) visible(scope authz.Scope, l *Lead) bool {
	switch scope.Kind {
	case authz.ScopeAll:
		return true
	case authz.ScopeOwner:
		return l.OwnerID == scope.OwnerID
	case authz.ScopeTeam:
		return l.OwnerID == scope.TeamLeadID
	default:
		return false
	}
}

func (m *memoryCRMRepo) ListLeads(_ context.Context, scope authz.Scope, _ int) ([]Lead, error) {
	m.lastScope = scope
	var out []Lead
	for _, l := range m.leads {
		if m.visible(scope, l) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memoryCRMRepo) GetLead(_ context.Context, scope authz.Scope, id int64) (*Lead, error) {
	m.lastScope = scope
	l, ok := m.leads[id]
	if !ok || !m.visible(scope, l) {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memoryCRMRepo) CreateLead(_ context.Context, input LeadInput) (*Lead, error) {
	id := int64(len(m.leads) + 1)
	l := &Lead{ID: id, Number: "LD-0001", Company: input.Company, Contact: input.Contact, Stage: LeadStageNew, OwnerID: input.OwnerID}
	m.leads[id] = l
	cp := *l
	return &cp, nil
}

func (m *memoryCRMRepo) UpdateLeadStage(_ context.Context, scope authz.Scope, id int64, stage LeadStage) error {
	l, ok := m.leads[id]
	if !ok || !m.visible(scope, l) {
		return ErrNotFound
	}
	l.Stage = stage
	return nil
}

func (m *memoryCRMRepo) DeleteLead(_ context.Context, scope authz.Scope, id int64) error {
	l, ok := m.leads[id]
	if !ok || !m.visible(scope, l) {
		return ErrNotFound
	}
	delete(m.leads, id)
	return nil
}

func (m *memoryCRMRepo) ListOpportunities(_ context.Context, scope authz.Scope, _ int) ([]Opportunity, error) {
	m.lastScope = scope
	return nil, nil
}

func (m *memoryCRMRepo) ConvertLead(_ context.Context, leadID, _ int64, _ string) (*ConversionResult, error) {
	if m.convertFn != nil {
		return m.convertFn()
	}
	m.converted[leadID] = true
	return &ConversionResult{OpportunityID: 100, CustomerID: 200}, nil
}

func (m *memoryCRMRepo) SeedActivityCadence(_ context.Context, _, _ int64, _ string) (*CadenceResult, error) {
	if m.cadenceFn != nil {
		return m.cadenceFn()
	}
	return &CadenceResult{ActivitiesSeeded: 5}, nil
}

func (m *memoryCRMRepo) Summary(_ context.Context, scope authz.Scope) (*CRMSummary, error) {
	m.lastScope = scope
	return &CRMSummary{OpenLeads: int64(len(m.leads))}, nil
}

type memoryIdempotency struct {
	claimed  map[string]string
	released []string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{claimed: map[string]string{}}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, workflow string) error {
	if _, ok := m.claimed[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.claimed[key] = workflow
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, key string) error {
	delete(m.claimed, key)
	m.released = append(m.released, key)
	return nil
}

type memoryAudit struct {
	records []shared.AuditLog
}

func (m *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	m.records = append(m.records, log)
	return nil
}

func marketingIdentity(userID int64) authz.Identity {
	return authz.Identity{Role: authz.RoleMarketingExim, UserID: userID, DeptCode: "MKT"}
}

func ownerScope(userID int64) authz.Scope {
	return authz.Scope{Kind: authz.ScopeOwner, OwnerID: userID}
}

func TestCreateLeadDefaultsOwnerToActor(t *testing.T) {
	repo := newMemoryCRMRepo()
	audit := &memoryAudit{}
	svc := NewService(repo, newMemoryIdempotency(), audit)

	lead, err := svc.CreateLead(context.Background(), marketingIdentity(7), LeadInput{
		Company: "Pelita Samudra",
		Contact: "Budi",
		Service: "EXIM",
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), lead.OwnerID)
	require.Equal(t, LeadStageNew, lead.Stage)
	require.Len(t, audit.records, 1)
	require.Equal(t, "lead.create", audit.records[0].Action)
}

func TestCreateLeadRequiresCompany(t *testing.T) {
	svc := NewService(newMemoryCRMRepo(), newMemoryIdempotency(), &memoryAudit{})
	_, err := svc.CreateLead(context.Background(), marketingIdentity(7), LeadInput{Company: "   "})
	require.Error(t, err)
}

func TestUpdateLeadStageScopedToOwner(t *testing.T) {
	repo := newMemoryCRMRepo()
	repo.leads[1] = &Lead{ID: 1, OwnerID: 7, Stage: LeadStageNew}
	svc := NewService(repo, newMemoryIdempotency(), &memoryAudit{})

	err := svc.UpdateLeadStage(context.Background(), marketingIdentity(9), ownerScope(9), 1, LeadStageContacted)
	require.ErrorIs(t, err, ErrNotFound)

	err = svc.UpdateLeadStage(context.Background(), marketingIdentity(7), ownerScope(7), 1, LeadStageContacted)
	require.NoError(t, err)
	require.Equal(t, LeadStageContacted, repo.leads[1].Stage)
}

func TestUpdateLeadStageRejectsDirectConversion(t *testing.T) {
	repo := newMemoryCRMRepo()
	repo.leads[1] = &Lead{ID: 1, OwnerID: 7, Stage: LeadStageQualified}
	svc := NewService(repo, newMemoryIdempotency(), &memoryAudit{})

	err := svc.UpdateLeadStage(context.Background(), marketingIdentity(7), ownerScope(7), 1, LeadStageConverted)
	require.Error(t, err)
	require.Equal(t, LeadStageQualified, repo.leads[1].Stage)
}

func TestConvertLeadClaimsKeyAndRecordsAudit(t *testing.T) {
	repo := newMemoryCRMRepo()
	repo.leads[1] = &Lead{ID: 1, OwnerID: 7, Stage: LeadStageQualified}
	idem := newMemoryIdempotency()
	audit := &memoryAudit{}
	svc := NewService(repo, idem, audit)

	result, err := svc.ConvertLead(context.Background(), marketingIdentity(7), ownerScope(7), 1, "key-1")
	require.NoError(t, err)
	require.False(t, result.AlreadyDone)
	require.Equal(t, int64(100), result.OpportunityID)
	require.Equal(t, "crm.convert_lead", idem.claimed["key-1"])
	require.Len(t, audit.records, 1)
	require.Equal(t, "lead.convert", audit.records[0].Action)
}

func TestConvertLeadRetryIsReportedAlreadyDone(t *testing.T) {
	repo := newMemoryCRMRepo()
	repo.leads[1] = &Lead{ID: 1, OwnerID: 7, Stage: LeadStageQualified}
	idem := newMemoryIdempotency()
	svc := NewService(repo, idem, &memoryAudit{})

	_, err := svc.ConvertLead(context.Background(), marketingIdentity(7), ownerScope(7), 1, "key-1")
	require.NoError(t, err)

	result, err := svc.ConvertLead(context.Background(), marketingIdentity(7), ownerScope(7), 1, "key-1")
	require.NoError(t, err)
	require.True(t, result.AlreadyDone)
}

func TestConvertLeadReleasesKeyOnWorkflowFailure(t *testing.T) {
	repo := newMemoryCRMRepo()
	repo.leads[1] = &Lead{ID: 1, OwnerID: 7, Stage: LeadStageQualified}
	repo.convertFn = func() (*ConversionResult, error) {
		return nil, errors.New("deadlock detected")
	}
	idem := newMemoryIdempotency()
	svc := NewService(repo, idem, &memoryAudit{})

	_, err := svc.ConvertLead(context.Background(), marketingIdentity(7), ownerScope(7), 1, "key-1")
	require.Error(t, err)
	require.NotContains(t, idem.claimed, "key-1")
	require.Equal(t, []string{"key-1"}, idem.released)
}

func TestConvertLeadOutsideScopeIsNotFound(t *testing.T) {
	repo := newMemoryCRMRepo()
	repo.leads[1] = &Lead{ID: 1, OwnerID: 7, Stage: LeadStageQualified}
	idem := newMemoryIdempotency()
	svc := NewService(repo, idem, &memoryAudit{})

	_, err := svc.ConvertLead(context.Background(), marketingIdentity(9), ownerScope(9), 1, "key-1")
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, idem.claimed)
}

func TestConvertLeadRequiresKey(t *testing.T) {
	svc := NewService(newMemoryCRMRepo(), newMemoryIdempotency(), &memoryAudit{})
	_, err := svc.ConvertLead(context.Background(), marketingIdentity(7), ownerScope(7), 1, "")
	require.Error(t, err)
}

func TestSeedActivityCadence(t *testing.T) {
	repo := newMemoryCRMRepo()
	idem := newMemoryIdempotency()
	svc := NewService(repo, idem, &memoryAudit{})

	result, err := svc.SeedActivityCadence(context.Background(), marketingIdentity(7), 100, "key-2")
	require.NoError(t, err)
	require.Equal(t, 5, result.ActivitiesSeeded)
	require.Equal(t, "crm.seed_cadence", idem.claimed["key-2"])

	repeat, err := svc.SeedActivityCadence(context.Background(), marketingIdentity(7), 100, "key-2")
	require.NoError(t, err)
	require.Zero(t, repeat.ActivitiesSeeded)
}

func TestSummaryPassesScopeThrough(t *testing.T) {
	repo := newMemoryCRMRepo()
	svc := NewService(repo, newMemoryIdempotency(), &memoryAudit{})

	_, err := svc.GetSummary(context.Background(), ownerScope(7))
	require.NoError(t, err)
	require.Equal(t, authz.ScopeOwner, repo.lastScope.Kind)
	require.Equal(t, int64(7), repo.lastScope.OwnerID)
}
