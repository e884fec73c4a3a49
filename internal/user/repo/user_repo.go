package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/dkostenko/carnet/internal/user/entity"
)

// UserRepo provides data access for the users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (used to surface duplicate email/username as a conflict).
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  is_verified BOOLEAN NOT NULL DEFAULT false,
  avatar_url TEXT,
  role TEXT NOT NULL DEFAULT 'user',
  reset_token TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_reset_token ON users(reset_token) WHERE reset_token IS NOT NULL;
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a new user row. Returns the new ID; unique violations
// bubble up for the service to classify.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	const q = `INSERT INTO users (username, email, password_hash, is_verified, role)
	           VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err := r.db.GetContext(ctx, &u.ID, q, u.Username, u.Email, u.PasswordHash, u.IsVerified, u.Role); err != nil {
		return 0, err
	}
	return u.ID, nil
}

// GetByEmail returns a user matched by email or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	const q = `SELECT id, username, email, password_hash, is_verified, avatar_url, role, reset_token, created_at, updated_at
	           FROM users WHERE email=$1`
	var row entity.User
	if err := r.db.GetContext(ctx, &row, q, email); err != nil {
		return nil, err
	}
	return &row, nil
}

// GetByUsername fetches by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	const q = `SELECT id, username, email, password_hash, is_verified, avatar_url, role, reset_token, created_at, updated_at
	           FROM users WHERE username=$1`
	var row entity.User
	if err := r.db.GetContext(ctx, &row, q, username); err != nil {
		return nil, err
	}
	return &row, nil
}

// SnapshotByEmail returns only the fields the cache stores.
func (r *UserRepo) SnapshotByEmail(ctx context.Context, email string) (*entity.Snapshot, error) {
	const q = `SELECT id, username, email, role FROM users WHERE email=$1`
	var snap entity.Snapshot
	if err := r.db.GetContext(ctx, &snap, q, email); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SetVerified marks the account with the given email as verified.
func (r *UserRepo) SetVerified(ctx context.Context, email string) error {
	const q = `UPDATE users SET is_verified=true, updated_at=NOW() WHERE email=$1`
	return r.execExpectingRow(ctx, q, email)
}

// UpdateRole sets the role for a user id and returns the account email so
// callers can evict the matching cache entry.
func (r *UserRepo) UpdateRole(ctx context.Context, id int64, role string) (string, error) {
	const q = `UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1 RETURNING email`
	var email string
	if err := r.db.GetContext(ctx, &email, q, id, role); err != nil {
		return "", err
	}
	return email, nil
}

// UpdateAvatar persists the stored avatar URL on the user row.
func (r *UserRepo) UpdateAvatar(ctx context.Context, id int64, url string) error {
	const q = `UPDATE users SET avatar_url=$2, updated_at=NOW() WHERE id=$1`
	return r.execExpectingRow(ctx, q, id, url)
}

// SetResetToken stores a single-use password-reset token on the user row.
func (r *UserRepo) SetResetToken(ctx context.Context, email, token string) error {
	const q = `UPDATE users SET reset_token=$2, updated_at=NOW() WHERE email=$1`
	return r.execExpectingRow(ctx, q, email, token)
}

// ConsumeResetToken replaces the password for the account holding token and
// clears the token in the same statement, making it single-use. Returns the
// account email, or sql.ErrNoRows when the token is unknown or already used.
func (r *UserRepo) ConsumeResetToken(ctx context.Context, token, passwordHash string) (string, error) {
	const q = `UPDATE users SET password_hash=$2, reset_token=NULL, updated_at=NOW()
	           WHERE reset_token=$1 RETURNING email`
	var email string
	if err := r.db.GetContext(ctx, &email, q, token, passwordHash); err != nil {
		return "", err
	}
	return email, nil
}

func (r *UserRepo) execExpectingRow(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
