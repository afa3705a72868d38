// Package schema creates and maintains the tables owned by the service.
package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	tokenrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/token/repo"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	coderepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/verification/repo"
)

type tableEnsurer interface {
	EnsureTable(ctx context.Context) error
}

// Ensure creates every table in dependency order. It is idempotent.
func Ensure(ctx context.Context, db *sqlx.DB) error {
	steps := []struct {
		name string
		repo tableEnsurer
	}{
		{"users", userrepo.NewUserRepo(db)},
		{"refresh_tokens", tokenrepo.NewRefreshRepo(db)},
		{"verification_codes", coderepo.NewCodeRepo(db)},
		{"password_reset_tokens", userrepo.NewResetRepo(db)},
	}
	for _, s := range steps {
		if err := s.repo.EnsureTable(ctx); err != nil {
			return fmt.Errorf("ensure %s: %w", s.name, err)
		}
	}
	return nil
}

// Prune deletes refresh tokens and verification codes that expired before now.
func Prune(ctx context.Context, db *sqlx.DB, now time.Time, logger *zap.SugaredLogger) error {
	tokens, err := tokenrepo.NewRefreshRepo(db).DeleteExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("prune refresh tokens: %w", err)
	}
	codes, err := coderepo.NewCodeRepo(db).DeleteExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("prune verification codes: %w", err)
	}
	logger.Infow("pruned expired rows", "refresh_tokens", tokens, "verification_codes", codes)
	return nil
}
