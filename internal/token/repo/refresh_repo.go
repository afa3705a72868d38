package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

type RefreshRepo struct {
	db *sqlx.DB
}

func NewRefreshRepo(db *sqlx.DB) *RefreshRepo {
	return &RefreshRepo{db: db}
}

// EnsureTable creates refresh_tokens. Requires the users table.
func (r *RefreshRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
  id BIGINT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  token_hash TEXT NOT NULL UNIQUE,
  expires_at TIMESTAMPTZ NOT NULL,
  revoked BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *RefreshRepo) Save(ctx context.Context, id int64, userID, tokenHash string, expiresAt, createdAt time.Time) error {
	const q = `INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, created_at) VALUES ($1, $2, $3, $4, false, $5)`
	_, err := r.db.ExecContext(ctx, q, id, userID, tokenHash, expiresAt, createdAt)
	return err
}

// Consume revokes a live token in a single statement and returns its owner.
// A missing, revoked or expired token yields sql.ErrNoRows, so two
// concurrent refreshes of the same token cannot both succeed.
func (r *RefreshRepo) Consume(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	const q = `UPDATE refresh_tokens SET revoked=true
		WHERE token_hash=$1 AND revoked=false AND expires_at > $2
		RETURNING user_id`
	var userID string
	if err := r.db.GetContext(ctx, &userID, q, tokenHash, now); err != nil {
		return "", err
	}
	return userID, nil
}

// Revoke marks a token revoked. Unknown tokens are not an error.
func (r *RefreshRepo) Revoke(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked=true WHERE token_hash=$1`, tokenHash)
	return err
}

// DeleteExpired removes rows past expiry and returns how many were removed.
func (r *RefreshRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
