package entity

import "time"

// PasswordResetToken is a row in `password_reset_tokens`. Tokens expire but
// are not marked as consumed.
type PasswordResetToken struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Token     string    `db:"token"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}
