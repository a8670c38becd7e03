package profile

import (
	"context"
	"fmt"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/shared"
)

// Service turns stored profile rows into identities. A row carrying a role
// string outside the registry is treated as unresolvable rather than mapped
// to some default: a typo in the users table must never grant access.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Resolve implements authz.IdentityResolver.
func (s *Service) Resolve(ctx context.Context, userID int64) (authz.Identity, error) {
	rec, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return authz.Identity{}, err
	}
	if !rec.IsActive {
		return authz.Identity{}, shared.ErrNotFound
	}
	if !authz.IsValidRole(rec.Role) {
		return authz.Identity{}, fmt.Errorf("profile: user %d carries unknown role %q", userID, rec.Role)
	}
	return authz.Identity{
		Role:      authz.Role(rec.Role),
		UserID:    rec.UserID,
		DeptCode:  rec.DeptCode,
		ManagerID: rec.ManagerID,
	}, nil
}

var _ authz.IdentityResolver = (*Service)(nil)
