package user

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/dkostenko/carnet/internal/apperr"
	"github.com/dkostenko/carnet/internal/auth"
	"github.com/dkostenko/carnet/internal/avatar"
	"github.com/dkostenko/carnet/internal/mailer"
	"github.com/dkostenko/carnet/internal/user/entity"
	"github.com/dkostenko/carnet/pkg/utilities"
)

// VerificationTokenTTL is the lifetime of the emailed verify-email token.
const VerificationTokenTTL = time.Hour

// Repository is the persistence boundary for user rows.
type Repository interface {
	Create(ctx context.Context, u *entity.User) (int64, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByUsername(ctx context.Context, username string) (*entity.User, error)
	SnapshotByEmail(ctx context.Context, email string) (*entity.Snapshot, error)
	SetVerified(ctx context.Context, email string) error
	UpdateRole(ctx context.Context, id int64, role string) (string, error)
	UpdateAvatar(ctx context.Context, id int64, url string) error
	SetResetToken(ctx context.Context, email, token string) error
	ConsumeResetToken(ctx context.Context, token, passwordHash string) (string, error)
}

// Tokens is the identity-token boundary.
type Tokens interface {
	Issue(claims map[string]any, ttl time.Duration) (string, error)
	Verify(token string) (*auth.Claims, error)
}

// MailEnqueuer hands a rendered message to the background delivery queue.
type MailEnqueuer interface {
	Enqueue(msg mailer.Message) bool
}

// Invalidator evicts a cached snapshot after a write to the user row.
type Invalidator interface {
	Invalidate(ctx context.Context, subject string) error
}

// UniqueViolationFunc classifies duplicate-key failures without binding
// the service to a driver.
type UniqueViolationFunc func(error) bool

// Service orchestrates account lifecycle flows: signup, login, email
// verification, password reset, role assignment and avatar upload.
type Service struct {
	repo       Repository
	hasher     auth.PasswordHasher
	tokens     Tokens
	mail       MailEnqueuer
	store      avatar.Store
	cache      Invalidator
	isUnique   UniqueViolationFunc
	baseURL    string
	resetToken func() string
}

// NewService wires the user service. baseURL is used to render links in
// outbound mail.
func NewService(repo Repository, hasher auth.PasswordHasher, tokens Tokens, mail MailEnqueuer, store avatar.Store, cache Invalidator, isUnique UniqueViolationFunc, baseURL string) *Service {
	if hasher == nil {
		hasher = auth.BcryptHasher{Cost: 12}
	}
	return &Service{
		repo:       repo,
		hasher:     hasher,
		tokens:     tokens,
		mail:       mail,
		store:      store,
		cache:      cache,
		isUnique:   isUnique,
		baseURL:    strings.TrimRight(baseURL, "/"),
		resetToken: utilities.NewKSUID,
	}
}

// Signup creates an unverified account and emails a verification link whose
// token subject is the submitted email.
func (s *Service) Signup(ctx context.Context, username, email, password string) (*entity.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || password == "" {
		return nil, apperr.New(apperr.KindValidation, "username, email and password are required")
	}
	if !strings.Contains(email, "@") {
		return nil, apperr.New(apperr.KindValidation, "invalid email address")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	u := &entity.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsVerified:   false,
		Role:         entity.RoleUser,
	}
	if _, err := s.repo.Create(ctx, u); err != nil {
		if s.isUnique != nil && s.isUnique(err) {
			return nil, apperr.Wrap(apperr.KindConflict, "email or username already in use", err)
		}
		return nil, err
	}

	token, err := s.tokens.Issue(map[string]any{"sub": u.Email}, VerificationTokenTTL)
	if err != nil {
		return nil, err
	}
	s.mail.Enqueue(mailer.Message{
		To:      u.Email,
		Subject: "Verify your email",
		Body:    "Click the link to verify your email: " + s.baseURL + "/user/verify-email?token=" + token,
	})
	return u, nil
}

// Login verifies credentials and returns a short-lived access token with
// the account email as subject.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	u, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// avoid user enumeration
			return "", apperr.New(apperr.KindUnauthenticated, "invalid credentials")
		}
		return "", err
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		return "", apperr.New(apperr.KindUnauthenticated, "invalid credentials")
	}
	return s.tokens.Issue(map[string]any{"sub": u.Email}, 0)
}

// VerifyEmail marks the account named by the token subject as verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		// the verification link is user input, not a bearer credential
		return apperr.Wrap(apperr.KindValidation, "invalid token", err)
	}
	if err := s.repo.SetVerified(ctx, claims.Subject); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.KindNotFound, "user not found")
		}
		return err
	}
	return nil
}

// SetRole assigns a role and evicts the account's cached snapshot so the
// change is visible before the TTL expires.
func (s *Service) SetRole(ctx context.Context, userID int64, role string) error {
	if role != entity.RoleUser && role != entity.RoleAdmin {
		return apperr.New(apperr.KindValidation, "unknown role")
	}
	email, err := s.repo.UpdateRole(ctx, userID, role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.KindNotFound, "user not found")
		}
		return err
	}
	return s.cache.Invalidate(ctx, email)
}

// UploadAvatar stores the image and persists the resulting URL.
func (s *Service) UploadAvatar(ctx context.Context, userID int64, email string, body io.Reader, contentType string) (string, error) {
	if s.store == nil {
		return "", apperr.New(apperr.KindDependency, "avatar storage not configured")
	}
	url, err := s.store.Upload(ctx, avatar.StorageKey(), body, contentType)
	if err != nil {
		return "", apperr.Wrap(apperr.KindDependency, "avatar upload failed", err)
	}
	if err := s.repo.UpdateAvatar(ctx, userID, url); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.New(apperr.KindNotFound, "user not found")
		}
		return "", err
	}
	if err := s.cache.Invalidate(ctx, email); err != nil {
		return "", err
	}
	return url, nil
}

// RequestPasswordReset stores a single-use opaque token on the user row and
// emails a reset link. Unknown emails are ignored to avoid enumeration.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	token := s.resetToken()
	if err := s.repo.SetResetToken(ctx, email, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	s.mail.Enqueue(mailer.Message{
		To:      email,
		Subject: "Password Reset Request",
		Body:    "Click the link to reset your password: " + s.baseURL + "/reset-password?token=" + token,
	})
	return nil
}

// ResetPassword consumes the single-use token and replaces the password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return apperr.New(apperr.KindValidation, "token and password are required")
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	email, err := s.repo.ConsumeResetToken(ctx, token, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.KindValidation, "invalid or expired reset token")
		}
		return err
	}
	return s.cache.Invalidate(ctx, email)
}
