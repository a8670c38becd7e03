package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/shared"
)

type memoryProfileRepo struct {
	records map[int64]*Record
}

func (r *memoryProfileRepo) FindByUserID(ctx context.Context, userID int64) (*Record, error) {
	rec, ok := r.records[userID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return rec, nil
}

func TestResolveBuildsIdentity(t *testing.T) {
	repo := &memoryProfileRepo{records: map[int64]*Record{
		7: {UserID: 7, Role: "EXIM Ops (operation)", DeptCode: "EXIM", ManagerID: 2, IsActive: true},
	}}
	svc := NewService(repo)

	id, err := svc.Resolve(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, authz.RoleEximOps, id.Role)
	require.Equal(t, "EXIM", id.DeptCode)
	require.EqualValues(t, 2, id.ManagerID)
}

func TestResolveRejectsUnknownRole(t *testing.T) {
	repo := &memoryProfileRepo{records: map[int64]*Record{
		8: {UserID: 8, Role: "Finance", IsActive: true}, // wrong case, not registered
	}}
	svc := NewService(repo)

	_, err := svc.Resolve(context.Background(), 8)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown role")
}

func TestResolveRejectsInactiveUser(t *testing.T) {
	repo := &memoryProfileRepo{records: map[int64]*Record{
		9: {UserID: 9, Role: "finance", IsActive: false},
	}}
	svc := NewService(repo)

	_, err := svc.Resolve(context.Background(), 9)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestResolveMissingUser(t *testing.T) {
	svc := NewService(&memoryProfileRepo{records: map[int64]*Record{}})

	_, err := svc.Resolve(context.Background(), 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
