package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/dkostenko/carnet/internal/contact/entity"
)

// ContactRepo provides data access for contacts and the user_contact
// ownership relation using sqlx.
type ContactRepo struct {
	db *sqlx.DB
}

func NewContactRepo(db *sqlx.DB) *ContactRepo { return &ContactRepo{db: db} }

// EnsureTable creates the contacts and user_contact tables if not exists
// (idempotent). Prefer migrations in production.
func (r *ContactRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS contacts (
  id BIGSERIAL PRIMARY KEY,
  first_name TEXT NOT NULL,
  last_name TEXT NOT NULL,
  email TEXT NOT NULL UNIQUE,
  phone TEXT NOT NULL,
  birthday DATE,
  additional_info TEXT
);
CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email);
CREATE TABLE IF NOT EXISTS user_contact (
  user_id BIGINT NOT NULL REFERENCES users(id),
  contact_id BIGINT NOT NULL REFERENCES contacts(id),
  PRIMARY KEY (user_id, contact_id)
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const contactColumns = `id, first_name, last_name, email, phone, birthday, additional_info`

// Create attaches a contact to ownerID, reusing an existing contact row
// with the same email instead of duplicating it. The ownership insert is
// idempotent through the composite primary key. The two statements are
// separate commits; there is no surrounding transaction.
func (r *ContactRepo) Create(ctx context.Context, c *entity.Contact, ownerID int64) (*entity.Contact, error) {
	existing, err := r.getByEmail(ctx, c.Email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if existing != nil {
		c = existing
	} else {
		const q = `INSERT INTO contacts (first_name, last_name, email, phone, birthday, additional_info)
		           VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
		if err := r.db.GetContext(ctx, &c.ID, q, c.FirstName, c.LastName, c.Email, c.Phone, c.Birthday, c.AdditionalInfo); err != nil {
			return nil, err
		}
	}

	const link = `INSERT INTO user_contact (user_id, contact_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := r.db.ExecContext(ctx, link, ownerID, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ContactRepo) getByEmail(ctx context.Context, email string) (*entity.Contact, error) {
	const q = `SELECT ` + contactColumns + ` FROM contacts WHERE email=$1`
	var row entity.Contact
	if err := r.db.GetContext(ctx, &row, q, email); err != nil {
		return nil, err
	}
	return &row, nil
}

// ListByOwner returns every contact joined through the ownership relation.
// Order is unspecified.
func (r *ContactRepo) ListByOwner(ctx context.Context, ownerID int64) ([]*entity.Contact, error) {
	const q = `SELECT c.id, c.first_name, c.last_name, c.email, c.phone, c.birthday, c.additional_info
	           FROM contacts c
	           JOIN user_contact uc ON uc.contact_id = c.id
	           WHERE uc.user_id = $1`
	rows := []*entity.Contact{}
	if err := r.db.SelectContext(ctx, &rows, q, ownerID); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetForOwner returns the contact only when the (owner, contact) ownership
// row exists; otherwise sql.ErrNoRows. This is the boundary that stops
// cross-user access by guessed ids.
func (r *ContactRepo) GetForOwner(ctx context.Context, contactID, ownerID int64) (*entity.Contact, error) {
	const q = `SELECT c.id, c.first_name, c.last_name, c.email, c.phone, c.birthday, c.additional_info
	           FROM contacts c
	           JOIN user_contact uc ON uc.contact_id = c.id
	           WHERE uc.user_id = $1 AND uc.contact_id = $2`
	var row entity.Contact
	if err := r.db.GetContext(ctx, &row, q, ownerID, contactID); err != nil {
		return nil, err
	}
	return &row, nil
}

// Update overwrites all mutable fields (full replace, not partial merge).
func (r *ContactRepo) Update(ctx context.Context, c *entity.Contact) error {
	const q = `UPDATE contacts SET first_name=$2, last_name=$3, email=$4, phone=$5, birthday=$6, additional_info=$7
	           WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, c.ID, c.FirstName, c.LastName, c.Email, c.Phone, c.Birthday, c.AdditionalInfo)
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

// Delete removes the owner's relation row, then the contact row itself only
// when no other owner still references it.
func (r *ContactRepo) Delete(ctx context.Context, contactID, ownerID int64) error {
	const unlink = `DELETE FROM user_contact WHERE user_id=$1 AND contact_id=$2`
	res, err := r.db.ExecContext(ctx, unlink, ownerID, contactID)
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
	const sweep = `DELETE FROM contacts c WHERE c.id=$1
	               AND NOT EXISTS (SELECT 1 FROM user_contact uc WHERE uc.contact_id = c.id)`
	_, err = r.db.ExecContext(ctx, sweep, contactID)
	return err
}

// BirthdaysBetween returns the owner's contacts whose birthday month+day
// falls in [startMMDD, endMMDD] inclusive, year ignored. Callers split
// windows that wrap past Dec 31 into two ranges.
func (r *ContactRepo) BirthdaysBetween(ctx context.Context, ownerID int64, startMMDD, endMMDD string) ([]*entity.Contact, error) {
	const q = `SELECT c.id, c.first_name, c.last_name, c.email, c.phone, c.birthday, c.additional_info
	           FROM contacts c
	           JOIN user_contact uc ON uc.contact_id = c.id
	           WHERE uc.user_id = $1
	             AND c.birthday IS NOT NULL
	             AND to_char(c.birthday, 'MMDD') BETWEEN $2 AND $3`
	rows := []*entity.Contact{}
	if err := r.db.SelectContext(ctx, &rows, q, ownerID, startMMDD, endMMDD); err != nil {
		return nil, err
	}
	return rows, nil
}
