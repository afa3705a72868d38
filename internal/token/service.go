package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

var (
	ErrInvalidOrExpiredToken = errors.New("invalid or expired refresh token")
	ErrTokenExpired          = errors.New("access token expired")
	ErrInvalidToken          = errors.New("invalid access token")
)

// RefreshStore persists refresh tokens by hash. Consume returns
// sql.ErrNoRows when the token is unknown, revoked or expired.
type RefreshStore interface {
	Save(ctx context.Context, id int64, userID, tokenHash string, expiresAt, createdAt time.Time) error
	Consume(ctx context.Context, tokenHash string, now time.Time) (string, error)
	Revoke(ctx context.Context, tokenHash string) error
}

// UserLookup loads the owner of a consumed refresh token.
type UserLookup func(ctx context.Context, userID string) (*entity.User, error)

// Issuer signs access tokens and manages refresh token rotation.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      RefreshStore
	now        func() time.Time
}

func NewIssuer(cfg Config, store RefreshStore) *Issuer {
	return &Issuer{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		store:      store,
		now:        time.Now,
	}
}

// IssuePair signs an access token for u and persists a fresh refresh token.
func (s *Issuer) IssuePair(ctx context.Context, u *entity.User) (*Pair, error) {
	now := s.now()
	claims := Claims{
		UserID: u.ID,
		Email:  u.Email,
		Name:   u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, utilities.NextID(), u.ID, hashToken(refresh), now.Add(s.refreshTTL), now); err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}

	return &Pair{
		User:         u.View(),
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TypeBearer,
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}, nil
}

// Refresh consumes raw and issues a new pair for its owner. The consumed
// token is revoked before lookup, so it can never be used again even when
// the lookup fails.
func (s *Issuer) Refresh(ctx context.Context, raw string, lookup UserLookup) (*Pair, error) {
	if raw == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	userID, err := s.store.Consume(ctx, hashToken(raw), s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	u, err := lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.IssuePair(ctx, u)
}

// Revoke marks raw revoked. Revoking an unknown or revoked token succeeds.
func (s *Issuer) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	return s.store.Revoke(ctx, hashToken(raw))
}

// ParseAccessToken validates signature and expiry.
func (s *Issuer) ParseAccessToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// newOpaqueToken returns 32 random bytes, base64url encoded.
func newOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
