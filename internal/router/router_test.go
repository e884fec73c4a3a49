package router

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dkostenko/carnet/internal/auth"
	"github.com/dkostenko/carnet/internal/authz"
	"github.com/dkostenko/carnet/internal/cache"
	"github.com/dkostenko/carnet/internal/contact"
	contactentity "github.com/dkostenko/carnet/internal/contact/entity"
	"github.com/dkostenko/carnet/internal/mailer"
	"github.com/dkostenko/carnet/internal/user"
	userentity "github.com/dkostenko/carnet/internal/user/entity"
)

type memUserRepo struct {
	nextID int64
	users  map[string]*userentity.User
}

func (m *memUserRepo) Create(_ context.Context, u *userentity.User) (int64, error) {
	for _, existing := range m.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return 0, fmt.Errorf("duplicate")
		}
	}
	u.ID = m.nextID
	m.nextID++
	m.users[u.Email] = u
	return u.ID, nil
}

func (m *memUserRepo) GetByEmail(_ context.Context, email string) (*userentity.User, error) {
	u, ok := m.users[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (m *memUserRepo) GetByUsername(_ context.Context, username string) (*userentity.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memUserRepo) SnapshotByEmail(_ context.Context, email string) (*userentity.Snapshot, error) {
	u, ok := m.users[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	snap := u.Snapshot()
	return &snap, nil
}

func (m *memUserRepo) SetVerified(_ context.Context, email string) error {
	u, ok := m.users[email]
	if !ok {
		return sql.ErrNoRows
	}
	u.IsVerified = true
	return nil
}

func (m *memUserRepo) UpdateRole(_ context.Context, id int64, role string) (string, error) {
	for _, u := range m.users {
		if u.ID == id {
			u.Role = role
			return u.Email, nil
		}
	}
	return "", sql.ErrNoRows
}

func (m *memUserRepo) UpdateAvatar(_ context.Context, id int64, url string) error {
	for _, u := range m.users {
		if u.ID == id {
			u.AvatarURL = &url
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memUserRepo) SetResetToken(_ context.Context, email, token string) error {
	u, ok := m.users[email]
	if !ok {
		return sql.ErrNoRows
	}
	u.ResetToken = &token
	return nil
}

func (m *memUserRepo) ConsumeResetToken(_ context.Context, token, passwordHash string) (string, error) {
	for _, u := range m.users {
		if u.ResetToken != nil && *u.ResetToken == token {
			u.PasswordHash = passwordHash
			u.ResetToken = nil
			return u.Email, nil
		}
	}
	return "", sql.ErrNoRows
}

type memContactRepo struct {
	nextID   int64
	contacts map[int64]*contactentity.Contact
	owners   map[int64]map[int64]bool
}

func (m *memContactRepo) Create(_ context.Context, c *contactentity.Contact, ownerID int64) (*contactentity.Contact, error) {
	for id, existing := range m.contacts {
		if existing.Email == c.Email {
			m.link(ownerID, id)
			return existing, nil
		}
	}
	cp := *c
	cp.ID = m.nextID
	m.nextID++
	m.contacts[cp.ID] = &cp
	m.link(ownerID, cp.ID)
	return &cp, nil
}

func (m *memContactRepo) link(ownerID, contactID int64) {
	if m.owners[ownerID] == nil {
		m.owners[ownerID] = map[int64]bool{}
	}
	m.owners[ownerID][contactID] = true
}

func (m *memContactRepo) ListByOwner(_ context.Context, ownerID int64) ([]*contactentity.Contact, error) {
	var out []*contactentity.Contact
	for id := range m.owners[ownerID] {
		out = append(out, m.contacts[id])
	}
	return out, nil
}

func (m *memContactRepo) GetForOwner(_ context.Context, contactID, ownerID int64) (*contactentity.Contact, error) {
	if !m.owners[ownerID][contactID] {
		return nil, sql.ErrNoRows
	}
	return m.contacts[contactID], nil
}

func (m *memContactRepo) Update(_ context.Context, c *contactentity.Contact) error {
	if _, ok := m.contacts[c.ID]; !ok {
		return sql.ErrNoRows
	}
	m.contacts[c.ID] = c
	return nil
}

func (m *memContactRepo) Delete(_ context.Context, contactID, ownerID int64) error {
	if !m.owners[ownerID][contactID] {
		return sql.ErrNoRows
	}
	delete(m.owners[ownerID], contactID)
	return nil
}

func (m *memContactRepo) BirthdaysBetween(_ context.Context, ownerID int64, startMMDD, endMMDD string) ([]*contactentity.Contact, error) {
	var out []*contactentity.Contact
	for id := range m.owners[ownerID] {
		c := m.contacts[id]
		if c.Birthday == nil {
			continue
		}
		mmdd := c.Birthday.Format("0102")
		if mmdd >= startMMDD && mmdd <= endMMDD {
			out = append(out, c)
		}
	}
	return out, nil
}

type capturedMail struct {
	sent []mailer.Message
}

func (c *capturedMail) Enqueue(msg mailer.Message) bool {
	c.sent = append(c.sent, msg)
	return true
}

type testServer struct {
	handler http.Handler
	mail    *capturedMail
	users   *memUserRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop().Sugar()
	users := &memUserRepo{nextID: 1, users: map[string]*userentity.User{}}
	contacts := &memContactRepo{nextID: 1, contacts: map[int64]*contactentity.Contact{}, owners: map[int64]map[int64]bool{}}
	mail := &capturedMail{}

	tokens := auth.NewTokenService([]byte("integration-secret"))
	userCache := cache.NewMemoryCache(users.SnapshotByEmail, cache.DefaultTTL)
	isDup := func(err error) bool { return err != nil && strings.Contains(err.Error(), "duplicate") }
	userSvc := user.NewService(users, auth.BcryptHasher{Cost: 4}, tokens, mail, nil, userCache, isDup, "http://localhost:8000")
	contactSvc := contact.NewService(contacts)

	limiter := NewRateLimiter(RateLimiterConfig{Rate: 100, Burst: 100, CleanupInterval: time.Minute}, logger)
	t.Cleanup(limiter.Stop)

	handler := RegisterRoutes(Config{
		Users:    user.NewHandler(userSvc, logger),
		Contacts: contact.NewHandler(contactSvc, logger),
		Auth:     authz.NewMiddleware(tokens, userCache, logger),
		Limiter:  limiter,
		Logger:   logger,
	})
	return &testServer{handler: handler, mail: mail, users: users}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func extractQueryToken(t *testing.T, mailBody string) string {
	t.Helper()
	i := strings.Index(mailBody, "token=")
	require.GreaterOrEqual(t, i, 0)
	return mailBody[i+len("token="):]
}

func TestSignupVerifyLoginContactFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/user/signup", "", map[string]string{
		"username": "alice", "email": "a@x.com", "password": "pw1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.False(t, ts.users.users["a@x.com"].IsVerified)

	require.Len(t, ts.mail.sent, 1)
	rec = ts.do(t, http.MethodGet, "/user/verify-email?token="+extractQueryToken(t, ts.mail.sent[0].Body), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.users.users["a@x.com"].IsVerified)

	rec = ts.do(t, http.MethodPost, "/user/login", "", map[string]string{
		"username": "alice", "password": "pw1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var loginResp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loginResp))
	token := loginResp.AccessToken

	rec = ts.do(t, http.MethodGet, "/contacts/", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", strings.TrimSpace(rec.Body.String()))

	soon := time.Now().AddDate(0, 0, 3)
	rec = ts.do(t, http.MethodPost, "/contacts/", token, map[string]any{
		"first_name": "Bob",
		"last_name":  "Baker",
		"email":      "b@x.com",
		"phone":      "+1-555-0100",
		"birthday":   soon.Format("2006-01-02"),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/contacts/upcoming-birthdays/", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var upcoming []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &upcoming))
	require.Len(t, upcoming, 1)
	assert.Equal(t, "b@x.com", upcoming[0]["email"])
}

func TestRoleAssignmentRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/user/signup", "", map[string]string{
		"username": "alice", "email": "a@x.com", "password": "pw1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/user/login", "", map[string]string{
		"username": "alice", "password": "pw1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var loginResp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loginResp))
	aliceToken := loginResp.AccessToken
	aliceID := ts.users.users["a@x.com"].ID

	// plain user may not assign roles
	rec = ts.do(t, http.MethodPatch, "/user/role", aliceToken, map[string]any{
		"user_id": aliceID, "role": "admin",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// seed an admin account directly
	ts.users.users["root@x.com"] = &userentity.User{
		ID: 99, Username: "root", Email: "root@x.com", Role: userentity.RoleAdmin,
	}
	adminToken, err := auth.NewTokenService([]byte("integration-secret")).
		Issue(map[string]any{"sub": "root@x.com"}, time.Minute)
	require.NoError(t, err)

	rec = ts.do(t, http.MethodPatch, "/user/role", adminToken, map[string]any{
		"user_id": aliceID, "role": "admin",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userentity.RoleAdmin, ts.users.users["a@x.com"].Role)

	// role change evicted the cached snapshot, so the new role is visible now
	rec = ts.do(t, http.MethodPatch, "/user/role", aliceToken, map[string]any{
		"user_id": aliceID, "role": "user",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAnonymousContactAccessIsRejected(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/contacts/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
