package schema_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/schema"
	tokenrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/token/repo"
	userentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/verification/entity"
	coderepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/verification/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// RepositorySuite runs the repositories against a real Postgres. Set
// TEST_DATABASE_URL to enable it; the tables it touches are truncated.
type RepositorySuite struct {
	suite.Suite
	db      *sqlx.DB
	users   *userrepo.UserRepo
	resets  *userrepo.ResetRepo
	refresh *tokenrepo.RefreshRepo
	codes   *coderepo.CodeRepo
	ctx     context.Context
}

func TestRepositorySuite(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	suite.Run(t, &RepositorySuite{})
}

func (s *RepositorySuite) SetupSuite() {
	cfg, err := database.ConfigFromEnv()
	s.Require().NoError(err)
	cfg.DSN = os.Getenv("TEST_DATABASE_URL")
	db, err := database.Connect(cfg)
	s.Require().NoError(err)
	s.db = db
	s.ctx = context.Background()

	s.Require().NoError(schema.Ensure(s.ctx, db))
	// second run must be a no-op
	s.Require().NoError(schema.Ensure(s.ctx, db))

	s.users = userrepo.NewUserRepo(db)
	s.resets = userrepo.NewResetRepo(db)
	s.refresh = tokenrepo.NewRefreshRepo(db)
	s.codes = coderepo.NewCodeRepo(db)
}

func (s *RepositorySuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *RepositorySuite) SetupTest() {
	_, err := s.db.ExecContext(s.ctx, `TRUNCATE password_reset_tokens, verification_codes, refresh_tokens, users CASCADE`)
	s.Require().NoError(err)
}

func (s *RepositorySuite) newUser(email string) *userentity.User {
	hash := "$2a$10$abcdefghijklmnopqrstuv"
	now := time.Now().UTC().Truncate(time.Microsecond)
	u := &userentity.User{
		ID:                      utilities.NewUUID(),
		Email:                   email,
		Name:                    "Alice",
		PhoneNumber:             "+5511999990000",
		PasswordHash:            &hash,
		Role:                    userentity.RoleBeneficiary,
		ProfileCompletionStatus: userentity.ProfileIncomplete,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	s.Require().NoError(s.users.Create(s.ctx, u))
	return u
}

func (s *RepositorySuite) TestUserLookups() {
	u := s.newUser("a@x.com")

	got, err := s.users.GetByEmail(s.ctx, "a@x.com")
	s.Require().NoError(err)
	s.Equal(u.ID, got.ID)
	s.True(got.HasPassword())

	_, err = s.users.GetByEmail(s.ctx, "A@x.com")
	s.ErrorIs(err, sql.ErrNoRows)

	err = s.users.Create(s.ctx, &userentity.User{ID: utilities.NewUUID(), Email: "a@x.com", Role: "beneficiary", ProfileCompletionStatus: "incomplete"})
	s.ErrorIs(err, userrepo.ErrDuplicate)

	exists, err := s.users.ExistsByEmailOrCPF(s.ctx, "a@x.com", nil)
	s.Require().NoError(err)
	s.True(exists)
	cpf := "123"
	exists, err = s.users.ExistsByEmailOrCPF(s.ctx, "b@x.com", &cpf)
	s.Require().NoError(err)
	s.False(exists)

	s.Require().NoError(s.users.LinkGoogleID(s.ctx, u.ID, "sub-1"))
	got, err = s.users.GetByGoogleID(s.ctx, "sub-1")
	s.Require().NoError(err)
	s.Equal(u.ID, got.ID)

	s.Require().NoError(s.users.SoftDelete(s.ctx, u.ID))
	_, err = s.users.GetByID(s.ctx, u.ID)
	s.ErrorIs(err, sql.ErrNoRows)
}

func (s *RepositorySuite) TestCompleteProfileAndVerifiedFlags() {
	u := s.newUser("a@x.com")
	birth, err := userentity.ParseBirthDate("1990-05-17")
	s.Require().NoError(err)
	cep := "01001000"

	got, err := s.users.CompleteProfile(s.ctx, u.ID, userentity.Profile{
		CPF: "12345678900", PhoneNumber: "+5511888880000", BirthDate: birth,
		Address: userentity.Address{CEP: &cep},
	})
	s.Require().NoError(err)
	s.Equal(userentity.ProfileComplete, got.ProfileCompletionStatus)
	s.Equal("1990-05-17", *got.View().BirthDate)

	other := s.newUser("b@x.com")
	_, err = s.users.CompleteProfile(s.ctx, other.ID, userentity.Profile{CPF: "12345678900", PhoneNumber: "1"})
	s.ErrorIs(err, userrepo.ErrDuplicate)

	s.Require().NoError(s.users.MarkEmailVerified(s.ctx, u.ID, time.Now()))
	got, err = s.users.GetByID(s.ctx, u.ID)
	s.Require().NoError(err)
	s.True(got.EmailVerified)
	s.NotNil(got.EmailVerifiedAt)
	s.False(got.PhoneVerified)

	s.ErrorIs(s.users.MarkPhoneVerified(s.ctx, utilities.NewUUID(), time.Now()), sql.ErrNoRows)
}

func (s *RepositorySuite) TestRefreshConsumeOnce() {
	u := s.newUser("a@x.com")
	now := time.Now()
	s.Require().NoError(s.refresh.Save(s.ctx, utilities.NextID(), u.ID, "hash-live", now.Add(time.Hour), now))
	s.Require().NoError(s.refresh.Save(s.ctx, utilities.NextID(), u.ID, "hash-old", now.Add(-time.Minute), now.Add(-time.Hour)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if owner, err := s.refresh.Consume(s.ctx, "hash-live", now); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				s.Equal(u.ID, owner)
			}
		}()
	}
	wg.Wait()
	s.Equal(1, wins)

	_, err := s.refresh.Consume(s.ctx, "hash-old", now)
	s.ErrorIs(err, sql.ErrNoRows)
	s.NoError(s.refresh.Revoke(s.ctx, "unknown"))

	s.Require().NoError(schema.Prune(s.ctx, s.db, now, zap.NewNop().Sugar()))
	var left int
	s.Require().NoError(s.db.GetContext(s.ctx, &left, `SELECT COUNT(*) FROM refresh_tokens`))
	s.Equal(1, left)
}

func (s *RepositorySuite) TestCodeLifecycle() {
	u := s.newUser("a@x.com")
	now := time.Now().UTC().Truncate(time.Microsecond)

	insert := func(value string, at time.Time) *entity.Code {
		c := &entity.Code{ID: utilities.NextID(), UserID: u.ID, Type: entity.ChannelEmail, Code: value, ExpiresAt: at.Add(15 * time.Minute), CreatedAt: at}
		s.Require().NoError(s.codes.WithUserLock(s.ctx, u.ID, func(q coderepo.Queries) error {
			if err := q.ExpireActive(s.ctx, u.ID, entity.ChannelEmail, at); err != nil {
				return err
			}
			return q.Insert(s.ctx, c)
		}))
		return c
	}
	first := insert("111111", now.Add(-2*time.Minute))
	second := insert("111111", now)

	var latest *time.Time
	s.Require().NoError(s.codes.WithUserLock(s.ctx, u.ID, func(q coderepo.Queries) error {
		var err error
		latest, err = q.LatestCreatedAt(s.ctx, u.ID, entity.ChannelEmail)
		return err
	}))
	s.Require().NotNil(latest)
	s.True(latest.Equal(now))

	got, err := s.codes.FindLatestByValue(s.ctx, u.ID, entity.ChannelEmail, "111111")
	s.Require().NoError(err)
	s.Equal(second.ID, got.ID)

	_, err = s.codes.FindLatestByValue(s.ctx, u.ID, entity.ChannelPhone, "111111")
	s.ErrorIs(err, sql.ErrNoRows)

	ok, err := s.codes.MarkVerified(s.ctx, second.ID, now)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.codes.MarkVerified(s.ctx, second.ID, now)
	s.Require().NoError(err)
	s.False(ok)

	err = s.codes.WithUserLock(s.ctx, utilities.NewUUID(), func(coderepo.Queries) error { return nil })
	s.ErrorIs(err, sql.ErrNoRows)

	// the first code was expired by the second insert
	n, err := s.codes.DeleteExpired(s.ctx, now.Add(time.Second))
	s.Require().NoError(err)
	s.EqualValues(1, n)
	got, err = s.codes.FindLatestByValue(s.ctx, u.ID, entity.ChannelEmail, first.Code)
	s.Require().NoError(err)
	s.Equal(second.ID, got.ID)
}

func (s *RepositorySuite) TestResetTokenCreate() {
	u := s.newUser("a@x.com")
	now := time.Now()
	s.Require().NoError(s.resets.Create(s.ctx, &userentity.PasswordResetToken{
		ID: utilities.NewKSUID(), UserID: u.ID, Token: "tok", ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))
	var count int
	s.Require().NoError(s.db.GetContext(s.ctx, &count, `SELECT COUNT(*) FROM password_reset_tokens WHERE user_id=$1`, u.ID))
	s.Equal(1, count)
}
