package verification

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mail"
	userentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/verification/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/verification/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

const (
	CodeTTL    = 15 * time.Minute
	RateWindow = time.Minute
)

var (
	ErrInvalidChannel  = errors.New("channel must be email or phone")
	ErrUserNotFound    = errors.New("user not found")
	ErrAlreadyVerified = errors.New("channel already verified")
	ErrRateLimited     = errors.New("code requested too recently")
	ErrDispatchFailed  = errors.New("code dispatch failed")
	ErrMalformedCode   = errors.New("code must be 6 digits")
	ErrNoSuchCode      = errors.New("no such code")
	ErrAlreadyUsed     = errors.New("code already used")
	ErrExpired         = errors.New("code expired")
)

var validate = validator.New()

// codeRule accepts exactly six ASCII digits.
const codeRule = "len=6,number"

// UserStore is the part of the user repository the manager needs. Lookups
// and updates return sql.ErrNoRows for unknown users.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*userentity.User, error)
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	MarkPhoneVerified(ctx context.Context, id string, at time.Time) error
}

type CodeStore interface {
	WithUserLock(ctx context.Context, userID string, fn func(q repo.Queries) error) error
	FindLatestByValue(ctx context.Context, userID string, ch entity.Channel, code string) (*entity.Code, error)
	MarkVerified(ctx context.Context, id int64, at time.Time) (bool, error)
}

type SendResult struct {
	ExpiresAt time.Time
}

// Manager issues, rate-limits and consumes verification codes.
type Manager struct {
	users    UserStore
	codes    CodeStore
	mailer   mail.Mailer
	sms      SMSSender
	logger   *zap.SugaredLogger
	now      func() time.Time
	generate func() (string, error)
}

func NewManager(users UserStore, codes CodeStore, mailer mail.Mailer, sms SMSSender, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		users:    users,
		codes:    codes,
		mailer:   mailer,
		sms:      sms,
		logger:   logger,
		now:      time.Now,
		generate: generateCode,
	}
}

// generateCode returns a uniform code in 100000..999999.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return strconv.FormatInt(n.Int64()+100000, 10), nil
}

// Send replaces any active code for (userID, ch) with a fresh one and
// dispatches it. The code stays persisted when dispatch fails.
func (m *Manager) Send(ctx context.Context, userID string, ch entity.Channel) (*SendResult, error) {
	if !ch.Valid() {
		return nil, ErrInvalidChannel
	}
	u, err := m.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if isVerified(u, ch) {
		return nil, ErrAlreadyVerified
	}

	value, err := m.generate()
	if err != nil {
		return nil, err
	}
	now := m.now()
	code := &entity.Code{
		ID:        utilities.NextID(),
		UserID:    userID,
		Type:      ch,
		Code:      value,
		ExpiresAt: now.Add(CodeTTL),
		CreatedAt: now,
	}

	err = m.codes.WithUserLock(ctx, userID, func(q repo.Queries) error {
		last, err := q.LatestCreatedAt(ctx, userID, ch)
		if err != nil {
			return fmt.Errorf("latest code: %w", err)
		}
		if last != nil && now.Sub(*last) < RateWindow {
			return ErrRateLimited
		}
		if err := q.ExpireActive(ctx, userID, ch, now); err != nil {
			return fmt.Errorf("expire codes: %w", err)
		}
		if err := q.Insert(ctx, code); err != nil {
			return fmt.Errorf("insert code: %w", err)
		}
		return nil
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrUserNotFound
	case err != nil:
		return nil, err
	}

	if err := m.dispatch(ctx, u, ch, value); err != nil {
		m.logger.Errorw("verification code dispatch failed", "user_id", userID, "type", ch, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	return &SendResult{ExpiresAt: code.ExpiresAt}, nil
}

// Resend is Send under another name; the same rate limit applies.
func (m *Manager) Resend(ctx context.Context, userID string, ch entity.Channel) (*SendResult, error) {
	return m.Send(ctx, userID, ch)
}

func (m *Manager) dispatch(ctx context.Context, u *userentity.User, ch entity.Channel, code string) error {
	if ch == entity.ChannelEmail {
		return m.mailer.SendVerificationCode(ctx, u.Email, u.Name, code)
	}
	return m.sms.SendCode(ctx, u.PhoneNumber, code)
}

// Verify consumes code and flips the user's flag for ch. It returns the
// refreshed user.
func (m *Manager) Verify(ctx context.Context, userID string, ch entity.Channel, code string) (*userentity.User, error) {
	if !ch.Valid() {
		return nil, ErrInvalidChannel
	}
	if validate.Var(code, codeRule) != nil {
		return nil, ErrMalformedCode
	}

	c, err := m.codes.FindLatestByValue(ctx, userID, ch, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSuchCode
		}
		return nil, fmt.Errorf("find code: %w", err)
	}
	if c.Verified {
		return nil, ErrAlreadyUsed
	}
	now := m.now()
	if now.After(c.ExpiresAt) {
		return nil, ErrExpired
	}

	consumed, err := m.codes.MarkVerified(ctx, c.ID, now)
	if err != nil {
		return nil, fmt.Errorf("mark code verified: %w", err)
	}
	if !consumed {
		return nil, ErrAlreadyUsed
	}

	mark := m.users.MarkEmailVerified
	if ch == entity.ChannelPhone {
		mark = m.users.MarkPhoneVerified
	}
	if err := mark(ctx, userID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("mark user verified: %w", err)
	}
	return m.loadUser(ctx, userID)
}

// Status reports both ownership flags.
func (m *Manager) Status(ctx context.Context, userID string) (*entity.Status, error) {
	u, err := m.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &entity.Status{EmailVerified: u.EmailVerified, PhoneVerified: u.PhoneVerified}, nil
}

func (m *Manager) loadUser(ctx context.Context, userID string) (*userentity.User, error) {
	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func isVerified(u *userentity.User, ch entity.Channel) bool {
	if ch == entity.ChannelEmail {
		return u.EmailVerified
	}
	return u.PhoneVerified
}
