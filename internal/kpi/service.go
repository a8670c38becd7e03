package kpi

import (
	"context"
	"strconv"
	"strings"

	"github.com/kargo-dash/kargo-dash/internal/authz"
)

// RepositoryPort defines data access for KPI aggregation.
type RepositoryPort interface {
	Snapshot(ctx context.Context, scope authz.Scope, period string) (*Snapshot, error)
}

// Service resolves KPI snapshots through the versioned cache. Cache keys
// include the scope shape so two users with different visibility never share
// an entry.
type Service struct {
	repo  RepositoryPort
	cache *Cache
}

// NewService builds a Service instance. cache may be nil; lookups then go
// straight to the repository.
func NewService(repo RepositoryPort, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// scopeCacheToken renders a scope into a stable cache key fragment.
func scopeCacheToken(scope authz.Scope) string {
	switch scope.Kind {
	case authz.ScopeAll:
		return "all"
	case authz.ScopeOwner:
		return "own:" + strconv.FormatInt(scope.OwnerID, 10)
	case authz.ScopeTeam:
		return "team:" + strconv.FormatInt(scope.TeamLeadID, 10)
	case authz.ScopeDepartment:
		return "dept:" + strings.ToLower(scope.DeptCode)
	case authz.ScopeCustomer:
		return "cust:" + strconv.FormatInt(scope.OwnerID, 10)
	default:
		return string(scope.Kind)
	}
}

// GetSnapshot returns the KPI card for the period, cache-aware.
func (s *Service) GetSnapshot(ctx context.Context, scope authz.Scope, period string) (*Snapshot, error) {
	loader := func(ctx context.Context) (interface{}, error) {
		return s.repo.Snapshot(ctx, scope, period)
	}

	if s.cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return value.(*Snapshot), nil
	}

	key, err := s.cache.BuildKey(ctx, "kpi", "snapshot", scopeCacheToken(scope), period)
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := s.cache.FetchJSON(ctx, key, &snapshot, loader); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Invalidate bumps the cache version after the underlying data changed.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}
