package entity

import "time"

// Channel is the medium a code proves ownership of.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelPhone
}

// Code represents a row in `verification_codes`. A code is active while it
// is unverified and unexpired; at most one is active per (user, channel).
type Code struct {
	ID         int64      `db:"id"`
	UserID     string     `db:"user_id"`
	Type       Channel    `db:"type"`
	Code       string     `db:"code"`
	ExpiresAt  time.Time  `db:"expires_at"`
	Verified   bool       `db:"verified"`
	VerifiedAt *time.Time `db:"verified_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

// Status is the pair of ownership flags of a user.
type Status struct {
	EmailVerified bool `json:"emailVerified"`
	PhoneVerified bool `json:"phoneVerified"`
}
