package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doukkan/shop-api/internal/domain/user"
)

const (
	getUserByIDSQL = `SELECT id, first_name, last_name, phone, email, role, points, created_at
		FROM users WHERE id = $1`

	// Relative increment: concurrent awards serialize at the row.
	incrementPointsSQL = `UPDATE users SET points = points + $2 WHERE id = $1`

	upsertUserSQL = `INSERT INTO users (id, first_name, last_name, phone, email, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			role = EXCLUDED.role`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID returns a single user.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	rows, err := r.pool.Query(ctx, getUserByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get user %q", id)
	}
	u, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[user.User])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get user %q", id)
	}
	return &u, nil
}

// Upsert inserts or replaces a user's profile fields. The points balance is
// never touched here.
func (r *UserRepository) Upsert(ctx context.Context, u *user.User) error {
	_, err := r.pool.Exec(ctx, upsertUserSQL,
		u.ID, u.FirstName, u.LastName, u.Phone, u.Email, u.Role,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert user %q", u.ID)
	}
	return nil
}

// IncrementPoints adds delta to the user's loyalty balance.
func (r *UserRepository) IncrementPoints(ctx context.Context, id string, delta int64) error {
	tag, err := r.pool.Exec(ctx, incrementPointsSQL, id, delta)
	if err != nil {
		return errors.Wrapf(err, "increment points for user %q", id)
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}
