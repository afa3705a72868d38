package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
)

type memUserStore struct {
	mu    sync.Mutex
	users map[string]*entity.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[string]*entity.User{}}
}

func (m *memUserStore) find(match func(*entity.User) bool) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.DeletedAt == nil && match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memUserStore) Create(ctx context.Context, u *entity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.users {
		if o.Email == u.Email {
			return fmt.Errorf("%w: users_email_key", userrepo.ErrDuplicate)
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUserStore) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return m.find(func(u *entity.User) bool { return u.ID == id })
}

func (m *memUserStore) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return m.find(func(u *entity.User) bool { return u.Email == email })
}

func (m *memUserStore) GetByGoogleID(ctx context.Context, googleID string) (*entity.User, error) {
	return m.find(func(u *entity.User) bool { return u.GoogleID != nil && *u.GoogleID == googleID })
}

func (m *memUserStore) ExistsByEmailOrCPF(ctx context.Context, email string, cpf *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email || (cpf != nil && u.CPF != nil && *u.CPF == *cpf) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUserStore) LinkGoogleID(ctx context.Context, id, googleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].GoogleID = &googleID
	return nil
}

func (m *memUserStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (m *memUserStore) CompleteProfile(ctx context.Context, id string, p entity.Profile) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}
	cpf := p.CPF
	u.CPF, u.PhoneNumber, u.BirthDate = &cpf, p.PhoneNumber, p.BirthDate
	u.CEP, u.Street, u.City = p.CEP, p.Street, p.City
	u.ProfileCompletionStatus = entity.ProfileComplete
	cp := *u
	return &cp, nil
}

type memResets struct {
	tokens []*entity.PasswordResetToken
}

func (m *memResets) Create(ctx context.Context, t *entity.PasswordResetToken) error {
	m.tokens = append(m.tokens, t)
	return nil
}

type memRefresh struct {
	mu   sync.Mutex
	rows map[string]*token.RefreshToken
}

func (m *memRefresh) Save(ctx context.Context, id int64, userID, hash string, exp, created time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[hash] = &token.RefreshToken{ID: id, UserID: userID, TokenHash: hash, ExpiresAt: exp, CreatedAt: created}
	return nil
}

func (m *memRefresh) Consume(ctx context.Context, hash string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.rows[hash]
	if !ok || rt.Revoked || !rt.ExpiresAt.After(now) {
		return "", sql.ErrNoRows
	}
	rt.Revoked = true
	return rt.UserID, nil
}

func (m *memRefresh) Revoke(ctx context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rt, ok := m.rows[hash]; ok {
		rt.Revoked = true
	}
	return nil
}

type stubVerifier struct {
	id  *identity.Identity
	err error
}

func (s stubVerifier) Verify(ctx context.Context, raw string) (*identity.Identity, error) {
	return s.id, s.err
}

type countingMailer struct {
	welcome, reset int
	lastReset      string
	err            error
}

func (c *countingMailer) SendVerificationCode(ctx context.Context, to, name, code string) error {
	return c.err
}

func (c *countingMailer) SendWelcome(ctx context.Context, to, name string) error {
	c.welcome++
	return c.err
}

func (c *countingMailer) SendPasswordReset(ctx context.Context, to, name, tok string) error {
	c.reset++
	c.lastReset = tok
	return c.err
}

type env struct {
	svc      *UserService
	users    *memUserStore
	resets   *memResets
	issuer   *token.Issuer
	mailer   *countingMailer
	verifier *stubVerifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		users:    newMemUserStore(),
		resets:   &memResets{},
		mailer:   &countingMailer{},
		verifier: &stubVerifier{err: errors.New("no verifier")},
	}
	e.issuer = token.NewIssuer(token.Config{Secret: "test-secret", AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour},
		&memRefresh{rows: map[string]*token.RefreshToken{}})
	e.svc = NewUserService(e.users, e.resets, e.issuer, verifierFunc(func(ctx context.Context, raw string) (*identity.Identity, error) {
		return e.verifier.Verify(ctx, raw)
	}), e.mailer, BcryptHasher{Cost: bcrypt.MinCost}, zap.NewNop().Sugar())
	return e
}

type verifierFunc func(ctx context.Context, raw string) (*identity.Identity, error)

func (f verifierFunc) Verify(ctx context.Context, raw string) (*identity.Identity, error) {
	return f(ctx, raw)
}

func validRegistration() RegisterInput {
	return RegisterInput{Name: "Alice", Email: "a@x.com", Password: "P@ss123!", PhoneNumber: "+5511999990000"}
}

func TestRegisterIssuesTokensForNewUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	pair, err := e.svc.Register(ctx, validRegistration())
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.False(t, pair.User.IsEmailVerified)
	assert.Equal(t, entity.RoleBeneficiary, pair.User.Role)
	assert.Equal(t, entity.ProfileIncomplete, pair.User.ProfileCompletionStatus)
	assert.Equal(t, 1, e.mailer.welcome)

	claims, err := e.issuer.ParseAccessToken(pair.AccessToken)
	require.NoError(t, err)
	me, err := e.svc.Me(ctx, claims.UserID)
	require.NoError(t, err)
	assert.Equal(t, pair.User.ID, me.ID)
	require.NotNil(t, me.PasswordHash)
	assert.NotEqual(t, "P@ss123!", *me.PasswordHash)
}

func TestRegisterValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, mutate := range []func(*RegisterInput){
		func(in *RegisterInput) { in.Name = "" },
		func(in *RegisterInput) { in.Email = "" },
		func(in *RegisterInput) { in.Password = "" },
		func(in *RegisterInput) { in.PhoneNumber = "" },
	} {
		in := validRegistration()
		mutate(&in)
		_, err := e.svc.Register(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}

	for _, bad := range []string{"31/12/1990", "1990-13-01", "1990-5-17"} {
		in := validRegistration()
		in.BirthDate = bad
		_, err := e.svc.Register(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidBirthDate, bad)
		assert.NotErrorIs(t, err, ErrInvalidRequest, bad)
	}
}

func TestRegisterDuplicates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cpf := "12345678900"
	in := validRegistration()
	in.CPF = &cpf
	_, err := e.svc.Register(ctx, in)
	require.NoError(t, err)

	_, err = e.svc.Register(ctx, validRegistration())
	assert.ErrorIs(t, err, ErrUserExists)

	other := validRegistration()
	other.Email = "b@x.com"
	other.CPF = &cpf
	_, err = e.svc.Register(ctx, other)
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestRegisterWithFullProfileIsComplete(t *testing.T) {
	e := newEnv(t)
	cpf, cep := "12345678900", "01001000"
	in := validRegistration()
	in.CPF = &cpf
	in.CEP = &cep
	in.BirthDate = "1990-05-17"

	pair, err := e.svc.Register(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, entity.ProfileComplete, pair.User.ProfileCompletionStatus)
	require.NotNil(t, pair.User.BirthDate)
	assert.Equal(t, "1990-05-17", *pair.User.BirthDate)
}

func TestRegisterSwallowsWelcomeFailure(t *testing.T) {
	e := newEnv(t)
	e.mailer.err = errors.New("smtp down")
	_, err := e.svc.Register(context.Background(), validRegistration())
	assert.NoError(t, err)
}

func TestLoginWithPasswordFailuresAreIndistinguishable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Register(ctx, validRegistration())
	require.NoError(t, err)
	sub := "google-sub"
	require.NoError(t, e.users.Create(ctx, &entity.User{ID: "g1", Email: "g@x.com", GoogleID: &sub}))

	_, errWrongPass := e.svc.LoginWithPassword(ctx, "a@x.com", "wrong")
	_, errNoUser := e.svc.LoginWithPassword(ctx, "nobody@x.com", "P@ss123!")
	_, errNoHash := e.svc.LoginWithPassword(ctx, "g@x.com", "P@ss123!")
	for _, err := range []error{errWrongPass, errNoUser, errNoHash} {
		assert.Equal(t, ErrInvalidCredentials, err)
	}

	_, err = e.svc.LoginWithPassword(ctx, "", "x")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	pair, err := e.svc.LoginWithPassword(ctx, "a@x.com", "P@ss123!")
	require.NoError(t, err)
	u, err := e.users.GetByID(ctx, pair.User.ID)
	require.NoError(t, err)
	assert.NotNil(t, u.LastLoginAt)
}

func TestLoginWithEmailIsCaseSensitive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Register(ctx, validRegistration())
	require.NoError(t, err)
	_, err = e.svc.LoginWithPassword(ctx, "A@X.com", "P@ss123!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestExternalLoginCreatesThenReuses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.verifier.id = &identity.Identity{Subject: "sub-1", Email: "g@x.com", Name: "Gabi", Provider: identity.ProviderGoogle}
	e.verifier.err = nil

	first, err := e.svc.LoginWithExternalIdentity(ctx, "id-token")
	require.NoError(t, err)
	assert.True(t, first.User.IsEmailVerified)
	assert.Equal(t, "", first.User.PhoneNumber)
	assert.Equal(t, entity.ProfileIncomplete, first.User.ProfileCompletionStatus)
	assert.Equal(t, entity.RoleBeneficiary, first.User.Role)

	second, err := e.svc.LoginWithExternalIdentity(ctx, "id-token")
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Len(t, e.users.users, 1)
}

func TestExternalLoginLinksExistingEmail(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	reg, err := e.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	e.verifier.id = &identity.Identity{Subject: "sub-9", Email: "a@x.com"}
	e.verifier.err = nil
	pair, err := e.svc.LoginWithExternalIdentity(ctx, "id-token")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, pair.User.ID)

	linked, err := e.users.GetByGoogleID(ctx, "sub-9")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, linked.ID)
}

func TestExternalLoginRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.LoginWithExternalIdentity(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.svc.LoginWithExternalIdentity(ctx, "bad")
	assert.ErrorIs(t, err, ErrInvalidToken)

	e.verifier.id, e.verifier.err = &identity.Identity{Subject: "s"}, nil
	_, err = e.svc.LoginWithExternalIdentity(ctx, "no-email")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshAndLogout(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pair, err := e.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	_, err = e.svc.Refresh(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	next, err := e.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, err = e.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, token.ErrInvalidOrExpiredToken)

	require.NoError(t, e.svc.Logout(ctx, next.RefreshToken))
	require.NoError(t, e.svc.Logout(ctx, next.RefreshToken))
	require.NoError(t, e.svc.Logout(ctx, ""))
	_, err = e.svc.Refresh(ctx, next.RefreshToken)
	assert.ErrorIs(t, err, token.ErrInvalidOrExpiredToken)
}

func TestRefreshForDeletedUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pair, err := e.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	now := time.Now()
	e.users.users[pair.User.ID].DeletedAt = &now
	_, err = e.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCompleteProfile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pair, err := e.svc.Register(ctx, validRegistration())
	require.NoError(t, err)
	cep := "01001000"

	_, err = e.svc.CompleteProfile(ctx, pair.User.ID, ProfileInput{CPF: "1", PhoneNumber: "2"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.svc.CompleteProfile(ctx, pair.User.ID, ProfileInput{CPF: "1", Address: entity.Address{CEP: &cep}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.svc.CompleteProfile(ctx, pair.User.ID, ProfileInput{CPF: "1", PhoneNumber: "2", BirthDate: "17.05.1990", Address: entity.Address{CEP: &cep}})
	assert.ErrorIs(t, err, ErrInvalidBirthDate)

	_, err = e.svc.CompleteProfile(ctx, "missing", ProfileInput{CPF: "1", PhoneNumber: "2", Address: entity.Address{CEP: &cep}})
	assert.ErrorIs(t, err, ErrUserNotFound)

	u, err := e.svc.CompleteProfile(ctx, pair.User.ID, ProfileInput{
		CPF: "12345678900", PhoneNumber: "+5511888880000", BirthDate: "1990-01-02",
		Address: entity.Address{CEP: &cep},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.ProfileComplete, u.ProfileCompletionStatus)
	assert.Equal(t, "+5511888880000", u.PhoneNumber)
	require.NotNil(t, u.BirthDate)
}

func TestForgotPassword(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pair, err := e.svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	assert.ErrorIs(t, e.svc.ForgotPassword(ctx, " "), ErrInvalidRequest)

	require.NoError(t, e.svc.ForgotPassword(ctx, "nobody@x.com"))
	assert.Empty(t, e.resets.tokens)
	assert.Equal(t, 0, e.mailer.reset)

	before := time.Now()
	require.NoError(t, e.svc.ForgotPassword(ctx, "a@x.com"))
	require.Len(t, e.resets.tokens, 1)
	rt := e.resets.tokens[0]
	assert.Equal(t, pair.User.ID, rt.UserID)
	assert.Len(t, rt.ID, 27)
	assert.Equal(t, rt.Token, e.mailer.lastReset)
	assert.WithinDuration(t, before.Add(ResetTokenTTL), rt.ExpiresAt, 5*time.Second)

	e.mailer.err = errors.New("smtp down")
	assert.NoError(t, e.svc.ForgotPassword(ctx, "a@x.com"))
}
