// Package profile resolves an authenticated user id into the identity the
// authorization gate evaluates: role, department code and manager.
package profile

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kargo-dash/kargo-dash/internal/shared"
)

// Record is the raw profile row as stored.
type Record struct {
	UserID    int64
	Role      string
	DeptCode  string
	ManagerID int64
	IsActive  bool
}

// Repository defines persistence operations for profiles.
type Repository interface {
	FindByUserID(ctx context.Context, userID int64) (*Record, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByUserID fetches the profile attributes for a user.
func (r *PGRepository) FindByUserID(ctx context.Context, userID int64) (*Record, error) {
	const query = `
		SELECT u.id, u.role, COALESCE(u.dept_code, ''), u.manager_id, u.is_active
		FROM users u
		WHERE u.id = $1`

	var rec Record
	var managerID pgtype.Int8
	err := r.pool.QueryRow(ctx, query, userID).Scan(&rec.UserID, &rec.Role, &rec.DeptCode, &managerID, &rec.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if managerID.Valid {
		rec.ManagerID = managerID.Int64
	}
	return &rec, nil
}

var _ Repository = (*PGRepository)(nil)
