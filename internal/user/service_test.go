package user

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkostenko/carnet/internal/apperr"
	"github.com/dkostenko/carnet/internal/auth"
	"github.com/dkostenko/carnet/internal/mailer"
	"github.com/dkostenko/carnet/internal/user/entity"
)

type fakeUserRepo struct {
	nextID int64
	users  map[string]*entity.User // keyed by email
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1, users: map[string]*entity.User{}}
}

type duplicateErr struct{}

func (duplicateErr) Error() string { return "duplicate key value violates unique constraint" }

func isDuplicate(err error) bool {
	_, ok := err.(duplicateErr)
	return ok
}

func (f *fakeUserRepo) Create(_ context.Context, u *entity.User) (int64, error) {
	for _, existing := range f.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return 0, duplicateErr{}
		}
	}
	u.ID = f.nextID
	f.nextID++
	f.users[u.Email] = u
	return u.ID, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	u, ok := f.users[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeUserRepo) GetByUsername(_ context.Context, username string) (*entity.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) SnapshotByEmail(_ context.Context, email string) (*entity.Snapshot, error) {
	u, ok := f.users[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	snap := u.Snapshot()
	return &snap, nil
}

func (f *fakeUserRepo) SetVerified(_ context.Context, email string) error {
	u, ok := f.users[email]
	if !ok {
		return sql.ErrNoRows
	}
	u.IsVerified = true
	return nil
}

func (f *fakeUserRepo) UpdateRole(_ context.Context, id int64, role string) (string, error) {
	for _, u := range f.users {
		if u.ID == id {
			u.Role = role
			return u.Email, nil
		}
	}
	return "", sql.ErrNoRows
}

func (f *fakeUserRepo) UpdateAvatar(_ context.Context, id int64, url string) error {
	for _, u := range f.users {
		if u.ID == id {
			u.AvatarURL = &url
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeUserRepo) SetResetToken(_ context.Context, email, token string) error {
	u, ok := f.users[email]
	if !ok {
		return sql.ErrNoRows
	}
	u.ResetToken = &token
	return nil
}

func (f *fakeUserRepo) ConsumeResetToken(_ context.Context, token, passwordHash string) (string, error) {
	for _, u := range f.users {
		if u.ResetToken != nil && *u.ResetToken == token {
			u.PasswordHash = passwordHash
			u.ResetToken = nil
			return u.Email, nil
		}
	}
	return "", sql.ErrNoRows
}

type fakeMail struct {
	sent []mailer.Message
}

func (f *fakeMail) Enqueue(msg mailer.Message) bool {
	f.sent = append(f.sent, msg)
	return true
}

type fakeInvalidator struct {
	evicted []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, subject string) error {
	f.evicted = append(f.evicted, subject)
	return nil
}

type fakeStore struct {
	uploads int
	fail    bool
}

func (f *fakeStore) Upload(_ context.Context, key string, _ io.Reader, _ string) (string, error) {
	if f.fail {
		return "", assert.AnError
	}
	f.uploads++
	return "https://cdn.example.com/" + key, nil
}

type env struct {
	repo  *fakeUserRepo
	mail  *fakeMail
	cache *fakeInvalidator
	store *fakeStore
	svc   *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		repo:  newFakeUserRepo(),
		mail:  &fakeMail{},
		cache: &fakeInvalidator{},
		store: &fakeStore{},
	}
	tokens := auth.NewTokenService([]byte("test-secret"))
	// low cost keeps the suite fast
	e.svc = NewService(e.repo, auth.BcryptHasher{Cost: 4}, tokens, e.mail, e.store, e.cache, isDuplicate, "http://localhost:8080/")
	return e
}

func TestSignupCreatesUnverifiedUserAndEmailsToken(t *testing.T) {
	e := newEnv(t)

	u, err := e.svc.Signup(context.Background(), "ada", " Ada@Example.com ", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.False(t, u.IsVerified)
	assert.Equal(t, entity.RoleUser, u.Role)
	assert.NotEqual(t, "s3cret", u.PasswordHash)

	require.Len(t, e.mail.sent, 1)
	msg := e.mail.sent[0]
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Contains(t, msg.Body, "http://localhost:8080/user/verify-email?token=")

	// the emailed token names the account by email
	token := msg.Body[strings.Index(msg.Body, "token=")+len("token="):]
	claims, err := auth.NewTokenService([]byte("test-secret")).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(VerificationTokenTTL), claims.ExpiresAt, 5*time.Second)
}

func TestSignupRejectsInvalidInput(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Signup(context.Background(), "", "ada@example.com", "pw")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = e.svc.Signup(context.Background(), "ada", "no-at-sign", "pw")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestSignupDuplicateIsConflict(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Signup(context.Background(), "ada", "ada@example.com", "pw")
	require.NoError(t, err)

	_, err = e.svc.Signup(context.Background(), "ada2", "ada@example.com", "pw")
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Signup(context.Background(), "ada", "ada@example.com", "s3cret")
	require.NoError(t, err)

	token, err := e.svc.Login(context.Background(), "ada", "s3cret")
	require.NoError(t, err)
	claims, err := auth.NewTokenService([]byte("test-secret")).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", claims.Subject)

	_, err = e.svc.Login(context.Background(), "ada", "wrong")
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthenticated))

	_, err = e.svc.Login(context.Background(), "nobody", "s3cret")
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthenticated))
}

func TestVerifyEmail(t *testing.T) {
	e := newEnv(t)
	u, err := e.svc.Signup(context.Background(), "ada", "ada@example.com", "pw")
	require.NoError(t, err)

	token, err := auth.NewTokenService([]byte("test-secret")).Issue(map[string]any{"sub": u.Email}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, e.svc.VerifyEmail(context.Background(), token))
	assert.True(t, e.repo.users["ada@example.com"].IsVerified)

	err = e.svc.VerifyEmail(context.Background(), "garbage")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestSetRoleInvalidatesCache(t *testing.T) {
	e := newEnv(t)
	u, err := e.svc.Signup(context.Background(), "ada", "ada@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, e.svc.SetRole(context.Background(), u.ID, entity.RoleAdmin))
	assert.Equal(t, entity.RoleAdmin, e.repo.users["ada@example.com"].Role)
	assert.Equal(t, []string{"ada@example.com"}, e.cache.evicted)

	err = e.svc.SetRole(context.Background(), u.ID, "superuser")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	err = e.svc.SetRole(context.Background(), 999, entity.RoleAdmin)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestUploadAvatar(t *testing.T) {
	e := newEnv(t)
	u, err := e.svc.Signup(context.Background(), "ada", "ada@example.com", "pw")
	require.NoError(t, err)

	url, err := e.svc.UploadAvatar(context.Background(), u.ID, u.Email, strings.NewReader("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, 1, e.store.uploads)
	require.NotNil(t, e.repo.users["ada@example.com"].AvatarURL)
	assert.Equal(t, url, *e.repo.users["ada@example.com"].AvatarURL)
	assert.Contains(t, e.cache.evicted, "ada@example.com")

	e.store.fail = true
	_, err = e.svc.UploadAvatar(context.Background(), u.ID, u.Email, strings.NewReader("x"), "image/png")
	assert.True(t, apperr.IsKind(err, apperr.KindDependency))
}

func TestPasswordResetFlowIsSingleUse(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Signup(context.Background(), "ada", "ada@example.com", "old-pw")
	require.NoError(t, err)
	e.mail.sent = nil

	require.NoError(t, e.svc.RequestPasswordReset(context.Background(), "ada@example.com"))
	require.Len(t, e.mail.sent, 1)
	body := e.mail.sent[0].Body
	token := body[strings.Index(body, "token=")+len("token="):]

	require.NoError(t, e.svc.ResetPassword(context.Background(), token, "new-pw"))
	_, err = e.svc.Login(context.Background(), "ada", "new-pw")
	require.NoError(t, err)
	_, err = e.svc.Login(context.Background(), "ada", "old-pw")
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthenticated))

	// token is consumed
	err = e.svc.ResetPassword(context.Background(), token, "another-pw")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestRequestPasswordResetHidesUnknownEmails(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.svc.RequestPasswordReset(context.Background(), "nobody@example.com"))
	assert.Empty(t, e.mail.sent)
}
