// Package authz gates requests on a verified bearer token and the caller's
// cached identity. Per request the flow is token verification, identity
// resolution through the read-through cache, then an optional role check;
// any failure rejects the request with 401 or 403.
package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dkostenko/carnet/internal/apperr"
	"github.com/dkostenko/carnet/internal/auth"
	"github.com/dkostenko/carnet/internal/cache"
	"github.com/dkostenko/carnet/internal/user/entity"
)

type contextKey struct{}

var snapshotKey contextKey

// Verifier is the slice of the token service this gate needs.
type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Middleware authenticates requests and resolves caller identity.
type Middleware struct {
	tokens Verifier
	users  cache.UserCache
	logger *zap.SugaredLogger
}

func NewMiddleware(tokens Verifier, users cache.UserCache, logger *zap.SugaredLogger) *Middleware {
	return &Middleware{tokens: tokens, users: users, logger: logger}
}

// Authenticate verifies the bearer token and loads the caller's snapshot
// into the request context. Verification failures and unknown subjects are
// both surfaced as 401.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := m.tokens.Verify(token)
		if err != nil {
			m.logger.Debugw("token verification failed", "err", err)
			writeJSONError(w, http.StatusUnauthorized, apperr.Message(err))
			return
		}
		snap, err := m.users.GetOrLoad(r.Context(), claims.Subject)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				writeJSONError(w, http.StatusUnauthorized, "unknown subject")
				return
			}
			m.logger.Warnw("identity resolution failed", "subject", claims.Subject, "err", err)
			writeJSONError(w, apperr.HTTPStatus(err), apperr.Message(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSnapshot(r.Context(), snap)))
	})
}

// RequireRole rejects callers whose resolved role differs from role.
// Must run after Authenticate.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, ok := SnapshotFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}
			if snap.Role != role {
				writeJSONError(w, http.StatusForbidden, "access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSnapshot stores the resolved caller identity on the context.
func WithSnapshot(ctx context.Context, snap *entity.Snapshot) context.Context {
	return context.WithValue(ctx, snapshotKey, snap)
}

// SnapshotFromContext returns the caller identity placed by Authenticate.
func SnapshotFromContext(ctx context.Context) (*entity.Snapshot, bool) {
	snap, ok := ctx.Value(snapshotKey).(*entity.Snapshot)
	return snap, ok
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" || !strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[len("bearer "):])
	return token, token != ""
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
