package user

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mail"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

const ResetTokenTTL = time.Hour

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid identity token")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidBirthDate   = errors.New("birth_date must be YYYY-MM-DD")
)

var validate = validator.New()

// UserStore is implemented by repo.UserRepo. Lookups return sql.ErrNoRows
// when nothing matches and writes return repo.ErrDuplicate on a unique
// constraint hit.
type UserStore interface {
	Create(ctx context.Context, u *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByGoogleID(ctx context.Context, googleID string) (*entity.User, error)
	ExistsByEmailOrCPF(ctx context.Context, email string, cpf *string) (bool, error)
	LinkGoogleID(ctx context.Context, id, googleID string) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	CompleteProfile(ctx context.Context, id string, p entity.Profile) (*entity.User, error)
}

type ResetStore interface {
	Create(ctx context.Context, t *entity.PasswordResetToken) error
}

// TokenIssuer is implemented by *token.Issuer.
type TokenIssuer interface {
	IssuePair(ctx context.Context, u *entity.User) (*token.Pair, error)
	Refresh(ctx context.Context, raw string, lookup token.UserLookup) (*token.Pair, error)
	Revoke(ctx context.Context, raw string) error
}

// UserService orchestrates login, registration and the account lifecycle.
type UserService struct {
	users    UserStore
	resets   ResetStore
	tokens   TokenIssuer
	verifier identity.Verifier
	mailer   mail.Mailer
	hasher   PasswordHasher
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewUserService(users UserStore, resets ResetStore, tokens TokenIssuer, verifier identity.Verifier,
	mailer mail.Mailer, hasher PasswordHasher, logger *zap.SugaredLogger) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 10}
	}
	return &UserService{
		users:    users,
		resets:   resets,
		tokens:   tokens,
		verifier: verifier,
		mailer:   mailer,
		hasher:   hasher,
		logger:   logger,
		now:      time.Now,
	}
}

// LoginWithPassword returns ErrInvalidCredentials for an unknown email, an
// account without a password and a wrong password alike.
func (s *UserService) LoginWithPassword(ctx context.Context, email, password string) (*token.Pair, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidRequest
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if !u.HasPassword() || !s.hasher.Verify(*u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.completeLogin(ctx, u)
}

// LoginWithExternalIdentity signs in with a Firebase or Google ID token,
// matching the local account by subject, then by email (linking the
// subject), and creating it otherwise.
func (s *UserService) LoginWithExternalIdentity(ctx context.Context, idToken string) (*token.Pair, error) {
	if idToken == "" {
		return nil, ErrInvalidRequest
	}
	id, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		s.logger.Debugw("identity token rejected", "err", err)
		return nil, ErrInvalidToken
	}
	if id.Email == "" {
		return nil, ErrInvalidToken
	}

	u, err := s.resolveExternal(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.completeLogin(ctx, u)
}

func (s *UserService) resolveExternal(ctx context.Context, id *identity.Identity) (*entity.User, error) {
	u, err := s.users.GetByGoogleID(ctx, id.Subject)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user by google id: %w", err)
	}

	u, err = s.users.GetByEmail(ctx, id.Email)
	switch {
	case err == nil:
		if err := s.users.LinkGoogleID(ctx, u.ID, id.Subject); err != nil {
			return nil, fmt.Errorf("link google id: %w", err)
		}
		u.GoogleID = &id.Subject
		return u, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	now := s.now()
	sub := id.Subject
	u = &entity.User{
		ID:                      utilities.NewUUID(),
		Email:                   id.Email,
		Name:                    id.Name,
		GoogleID:                &sub,
		Role:                    entity.RoleBeneficiary,
		EmailVerified:           true,
		EmailVerifiedAt:         &now,
		ProfileCompletionStatus: entity.ProfileIncomplete,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, userrepo.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Infow("user created from external identity", "user_id", u.ID, "provider", id.Provider)
	return u, nil
}

func (s *UserService) completeLogin(ctx context.Context, u *entity.User) (*token.Pair, error) {
	now := s.now()
	if err := s.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		return nil, fmt.Errorf("touch last login: %w", err)
	}
	u.LastLoginAt = &now
	return s.tokens.IssuePair(ctx, u)
}

// RegisterInput carries the registration form. Name, Email, Password and
// PhoneNumber are required.
type RegisterInput struct {
	Name        string `validate:"required"`
	Email       string `validate:"required"`
	Password    string `validate:"required"`
	PhoneNumber string `validate:"required"`
	CPF         *string
	BirthDate   string
	entity.Address
}

// Register creates a password account and logs it in. Email verification
// is a separate step.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*token.Pair, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	birth, err := entity.ParseBirthDate(in.BirthDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBirthDate, err)
	}

	exists, err := s.users.ExistsByEmailOrCPF(ctx, in.Email, in.CPF)
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	status := entity.ProfileIncomplete
	if in.CPF != nil && in.CEP != nil {
		status = entity.ProfileComplete
	}
	now := s.now()
	u := &entity.User{
		ID:                      utilities.NewUUID(),
		Email:                   in.Email,
		Name:                    in.Name,
		PhoneNumber:             in.PhoneNumber,
		CPF:                     in.CPF,
		BirthDate:               birth,
		CEP:                     in.CEP,
		Street:                  in.Street,
		Number:                  in.Number,
		Complement:              in.Complement,
		Neighborhood:            in.Neighborhood,
		City:                    in.City,
		State:                   in.State,
		PasswordHash:            &hash,
		Role:                    entity.RoleBeneficiary,
		ProfileCompletionStatus: status,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, userrepo.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.mailer.SendWelcome(ctx, u.Email, u.Name); err != nil {
		s.logger.Warnw("welcome email failed", "user_id", u.ID, "err", err)
	}
	return s.tokens.IssuePair(ctx, u)
}

// Refresh rotates a refresh token. A deleted owner yields ErrUserNotFound.
func (s *UserService) Refresh(ctx context.Context, raw string) (*token.Pair, error) {
	if raw == "" {
		return nil, ErrInvalidRequest
	}
	return s.tokens.Refresh(ctx, raw, func(ctx context.Context, id string) (*entity.User, error) {
		u, err := s.users.GetByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return u, err
	})
}

// Logout revokes raw when given. It never fails for unknown tokens.
func (s *UserService) Logout(ctx context.Context, raw string) error {
	return s.tokens.Revoke(ctx, raw)
}

func (s *UserService) Me(ctx context.Context, userID string) (*entity.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ProfileInput carries profile completion. CPF, PhoneNumber and CEP are required.
type ProfileInput struct {
	CPF         string `validate:"required"`
	PhoneNumber string `validate:"required"`
	BirthDate   string
	entity.Address
}

// CompleteProfile stores the profile fields and marks the profile complete.
func (s *UserService) CompleteProfile(ctx context.Context, userID string, in ProfileInput) (*entity.User, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if in.CEP == nil || *in.CEP == "" {
		return nil, ErrInvalidRequest
	}
	birth, err := entity.ParseBirthDate(in.BirthDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBirthDate, err)
	}
	u, err := s.users.CompleteProfile(ctx, userID, entity.Profile{
		CPF:         in.CPF,
		PhoneNumber: in.PhoneNumber,
		BirthDate:   birth,
		Address:     in.Address,
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrUserNotFound
	case errors.Is(err, userrepo.ErrDuplicate):
		return nil, ErrUserExists
	case err != nil:
		return nil, fmt.Errorf("complete profile: %w", err)
	}
	return u, nil
}

// ForgotPassword creates a one hour reset token and mails it when email
// belongs to an account. Unknown emails succeed silently.
func (s *UserService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrInvalidRequest
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("get user by email: %w", err)
	}

	raw, err := newResetToken()
	if err != nil {
		return err
	}
	now := s.now()
	t := &entity.PasswordResetToken{
		ID:        utilities.NewKSUID(),
		UserID:    u.ID,
		Token:     raw,
		ExpiresAt: now.Add(ResetTokenTTL),
		CreatedAt: now,
	}
	if err := s.resets.Create(ctx, t); err != nil {
		return fmt.Errorf("create reset token: %w", err)
	}
	if err := s.mailer.SendPasswordReset(ctx, u.Email, u.Name, raw); err != nil {
		s.logger.Warnw("password reset email failed", "user_id", u.ID, "err", err)
	}
	return nil
}

func newResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
