// Package middleware holds the HTTP middleware shared by the feature
// handlers: bearer authentication and CORS.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/apierror"
)

type claimsKey struct{}

// TokenParser validates access tokens; *token.Issuer implements it.
type TokenParser interface {
	ParseAccessToken(raw string) (*token.Claims, error)
}

// RequireAuth rejects requests without a valid `Authorization: Bearer`
// access token and stores the claims in the request context.
func RequireAuth(p TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				apierror.Write(w, http.StatusUnauthorized, apierror.Unauthorized, "No authorization header provided")
				return
			}
			parts := strings.Split(header, " ")
			if len(parts) != 2 || parts[0] != token.TypeBearer || parts[1] == "" {
				apierror.Write(w, http.StatusUnauthorized, apierror.Unauthorized, "Invalid authorization header format")
				return
			}
			claims, err := p.ParseAccessToken(parts[1])
			if err != nil {
				if errors.Is(err, token.ErrTokenExpired) {
					apierror.Write(w, http.StatusUnauthorized, apierror.TokenExpired, "Access token has expired")
					return
				}
				apierror.Write(w, http.StatusUnauthorized, apierror.InvalidToken, "Invalid access token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func WithClaims(ctx context.Context, c *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*token.Claims)
	return c, ok
}

// UserIDFromContext returns the authenticated user id, or "" outside RequireAuth.
func UserIDFromContext(ctx context.Context) string {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.UserID
	}
	return ""
}
