package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

// ErrDuplicate is returned when an insert or update hits the email, cpf or
// google_id unique constraint.
var ErrDuplicate = errors.New("duplicate user")

const userColumns = `id, email, name, phone_number, cpf, birth_date, cep, street, number,
	complement, neighborhood, city, state, password_hash, google_id, role,
	email_verified, email_verified_at, phone_verified, phone_verified_at,
	profile_completion_status, last_login_at, created_at, updated_at, deleted_at`

// UserRepo provides data access for users table using sqlx.
// Lookups ignore soft-deleted rows and return sql.ErrNoRows when nothing matches.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// EnsureTable creates the users table if not exists (idempotent).
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  phone_number TEXT NOT NULL DEFAULT '',
  cpf TEXT UNIQUE,
  birth_date DATE,
  cep TEXT,
  street TEXT,
  number TEXT,
  complement TEXT,
  neighborhood TEXT,
  city TEXT,
  state TEXT,
  password_hash TEXT,
  google_id TEXT UNIQUE,
  role TEXT NOT NULL DEFAULT 'beneficiary',
  email_verified BOOLEAN NOT NULL DEFAULT false,
  email_verified_at TIMESTAMPTZ,
  phone_verified BOOLEAN NOT NULL DEFAULT false,
  phone_verified_at TIMESTAMPTZ,
  profile_completion_status TEXT NOT NULL DEFAULT 'incomplete'
    CHECK (profile_completion_status IN ('incomplete', 'complete')),
  last_login_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deleted_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_users_deleted_at ON users(deleted_at);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts u. CreatedAt/UpdatedAt are taken from u.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (id, email, name, phone_number, cpf, birth_date, cep, street, number,
		complement, neighborhood, city, state, password_hash, google_id, role,
		email_verified, email_verified_at, phone_verified, profile_completion_status, created_at, updated_at)
	VALUES (:id, :email, :name, :phone_number, :cpf, :birth_date, :cep, :street, :number,
		:complement, :neighborhood, :city, :state, :password_hash, :google_id, :role,
		:email_verified, :email_verified_at, :phone_verified, :profile_completion_status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, q, u); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, database.ConstraintName(err))
		}
		return err
	}
	return nil
}

// GetByID fetches a non-deleted user.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1 AND deleted_at IS NULL`, id)
}

// GetByEmail matches the email exactly as stored.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1 AND deleted_at IS NULL`, email)
}

// GetByGoogleID fetches a user by linked google subject id.
func (r *UserRepo) GetByGoogleID(ctx context.Context, googleID string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE google_id=$1 AND deleted_at IS NULL`, googleID)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, arg); err != nil {
		return nil, err
	}
	return &u, nil
}

// ExistsByEmailOrCPF reports whether any user already holds email, or cpf when non-nil.
func (r *UserRepo) ExistsByEmailOrCPF(ctx context.Context, email string, cpf *string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE email=$1 OR (cpf IS NOT NULL AND cpf=$2))`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, q, email, cpf); err != nil {
		return false, err
	}
	return exists, nil
}

// LinkGoogleID attaches a google subject id to an existing account.
func (r *UserRepo) LinkGoogleID(ctx context.Context, id, googleID string) error {
	const q = `UPDATE users SET google_id=$2, updated_at=NOW() WHERE id=$1`
	if _, err := r.db.ExecContext(ctx, q, id, googleID); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, database.ConstraintName(err))
		}
		return err
	}
	return nil
}

// TouchLastLogin stamps last_login_at.
func (r *UserRepo) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE users SET last_login_at=$2 WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, at)
	return err
}

// CompleteProfile writes the profile fields, marks the profile complete and
// returns the updated row.
func (r *UserRepo) CompleteProfile(ctx context.Context, id string, p entity.Profile) (*entity.User, error) {
	const q = `UPDATE users
		SET cpf=$2, phone_number=$3, birth_date=$4, cep=$5, street=$6, number=$7,
			complement=$8, neighborhood=$9, city=$10, state=$11,
			profile_completion_status='complete', updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
		RETURNING ` + userColumns
	var u entity.User
	err := r.db.GetContext(ctx, &u, q, id, p.CPF, p.PhoneNumber, p.BirthDate, p.CEP, p.Street, p.Number,
		p.Complement, p.Neighborhood, p.City, p.State)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, database.ConstraintName(err))
		}
		return nil, err
	}
	return &u, nil
}

// MarkEmailVerified sets email_verified with its timestamp.
func (r *UserRepo) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	return r.markVerified(ctx, `UPDATE users SET email_verified=true, email_verified_at=$2, updated_at=NOW() WHERE id=$1`, id, at)
}

// MarkPhoneVerified sets phone_verified with its timestamp.
func (r *UserRepo) MarkPhoneVerified(ctx context.Context, id string, at time.Time) error {
	return r.markVerified(ctx, `UPDATE users SET phone_verified=true, phone_verified_at=$2, updated_at=NOW() WHERE id=$1`, id, at)
}

func (r *UserRepo) markVerified(ctx context.Context, q, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, q, id, at)
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

// SoftDelete sets deleted_at; the row stays for audit but no lookup sees it.
// It backs operator-driven account removal. No HTTP route exposes it; a
// removed user's refresh tokens fail with user not found on rotation.
func (r *UserRepo) SoftDelete(ctx context.Context, id string) error {
	const q = `UPDATE users SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}
