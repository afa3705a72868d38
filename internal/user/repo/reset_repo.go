package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// ResetRepo persists password reset tokens.
type ResetRepo struct {
	db *sqlx.DB
}

func NewResetRepo(db *sqlx.DB) *ResetRepo { return &ResetRepo{db: db} }

// EnsureTable creates password_reset_tokens. Requires the users table.
func (r *ResetRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS password_reset_tokens (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  token TEXT NOT NULL UNIQUE,
  expires_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_password_reset_tokens_user ON password_reset_tokens(user_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *ResetRepo) Create(ctx context.Context, t *entity.PasswordResetToken) error {
	const q = `INSERT INTO password_reset_tokens (id, user_id, token, expires_at, created_at)
		VALUES (:id, :user_id, :token, :expires_at, :created_at)`
	_, err := r.db.NamedExecContext(ctx, q, t)
	return err
}
