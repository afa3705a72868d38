package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/verification/entity"
)

// Queries are the statements that run while the owning user row is locked.
type Queries interface {
	// LatestCreatedAt returns the creation time of the newest code for the
	// pair regardless of state, or nil when there is none.
	LatestCreatedAt(ctx context.Context, userID string, ch entity.Channel) (*time.Time, error)
	// ExpireActive force-expires every unverified code for the pair.
	ExpireActive(ctx context.Context, userID string, ch entity.Channel, at time.Time) error
	Insert(ctx context.Context, c *entity.Code) error
}

type CodeRepo struct {
	db *sqlx.DB
}

func NewCodeRepo(db *sqlx.DB) *CodeRepo { return &CodeRepo{db: db} }

// EnsureTable creates verification_codes. Requires the users table.
func (r *CodeRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS verification_codes (
  id BIGINT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  type TEXT NOT NULL CHECK (type IN ('email', 'phone')),
  code TEXT NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  verified BOOLEAN NOT NULL DEFAULT false,
  verified_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_verification_codes_lookup ON verification_codes(user_id, type, created_at DESC);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// WithUserLock runs fn in a transaction holding a row lock on the user, so
// concurrent sends for the same user serialize. The transaction commits when
// fn returns nil. sql.ErrNoRows is returned when the user does not exist.
func (r *CodeRepo) WithUserLock(ctx context.Context, userID string, fn func(q Queries) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked string
	if err = tx.GetContext(ctx, &locked, `SELECT id FROM users WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, userID); err != nil {
		return err
	}
	if err = fn(txQueries{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// FindLatestByValue returns the newest code for the pair with the given
// value, in any state.
func (r *CodeRepo) FindLatestByValue(ctx context.Context, userID string, ch entity.Channel, code string) (*entity.Code, error) {
	const q = `SELECT id, user_id, type, code, expires_at, verified, verified_at, created_at
		FROM verification_codes
		WHERE user_id=$1 AND type=$2 AND code=$3
		ORDER BY created_at DESC LIMIT 1`
	var c entity.Code
	if err := r.db.GetContext(ctx, &c, q, userID, ch, code); err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkVerified consumes the code. It reports false when another request
// already consumed it.
func (r *CodeRepo) MarkVerified(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE verification_codes SET verified=true, verified_at=$2 WHERE id=$1 AND verified=false`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteExpired removes codes that expired before cutoff.
func (r *CodeRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verification_codes WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type txQueries struct {
	tx *sqlx.Tx
}

func (q txQueries) LatestCreatedAt(ctx context.Context, userID string, ch entity.Channel) (*time.Time, error) {
	var at time.Time
	err := q.tx.GetContext(ctx, &at, `SELECT created_at FROM verification_codes
		WHERE user_id=$1 AND type=$2 ORDER BY created_at DESC LIMIT 1`, userID, ch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &at, nil
}

func (q txQueries) ExpireActive(ctx context.Context, userID string, ch entity.Channel, at time.Time) error {
	_, err := q.tx.ExecContext(ctx, `UPDATE verification_codes SET expires_at=$3
		WHERE user_id=$1 AND type=$2 AND verified=false AND expires_at > $3`, userID, ch, at)
	return err
}

func (q txQueries) Insert(ctx context.Context, c *entity.Code) error {
	const stmt = `INSERT INTO verification_codes (id, user_id, type, code, expires_at, verified, created_at)
		VALUES (:id, :user_id, :type, :code, :expires_at, :verified, :created_at)`
	_, err := q.tx.NamedExecContext(ctx, stmt, c)
	return err
}
