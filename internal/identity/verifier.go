// Package identity verifies third-party ID tokens (Firebase Auth and Google
// Sign-In) and turns them into a trusted subject/email/name tuple.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid identity token")

// Identity is what a verifier vouches for.
type Identity struct {
	Subject       string
	Email         string
	Name          string
	EmailVerified bool
	Provider      string
}

type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// Chain tries each verifier in order; the first that accepts wins.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	if len(c) == 0 {
		return nil, fmt.Errorf("%w: no verifier configured", ErrInvalidToken)
	}
	var errs []error
	for _, v := range c {
		id, err := v.Verify(ctx, rawToken)
		if err == nil {
			return id, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrInvalidToken, errors.Join(errs...))
}

// flexBool decodes both true and "true"; Google has shipped email_verified as either.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*b = flexBool(v)
	return nil
}

type idTokenClaims struct {
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	jwt.RegisteredClaims
}

// IDTokenVerifier validates RS256 ID tokens against a remote key set,
// a set of accepted issuers and one audience.
type IDTokenVerifier struct {
	provider string
	keys     *KeySet
	issuers  []string
	audience string
	now      func() time.Time
}

func (v *IDTokenVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, v.keys.Keyfunc(ctx),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", v.provider, err)
	}
	if !slices.Contains(v.issuers, claims.Issuer) {
		return nil, fmt.Errorf("%s: unexpected issuer %q", v.provider, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%s: empty subject", v.provider)
	}
	return &Identity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		Name:          claims.Name,
		EmailVerified: bool(claims.EmailVerified),
		Provider:      v.provider,
	}, nil
}
