package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify_Success(t *testing.T) {
	t.Parallel()

	svc := NewTokenService([]byte("super-secret"))

	tok, err := svc.Issue(map[string]any{"sub": "a@x.com"}, time.Hour)
	require.NoError(t, err)

	claims, err := svc.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 5*time.Second)
}

func TestIssue_MissingSubject(t *testing.T) {
	t.Parallel()

	svc := NewTokenService([]byte("k"))

	_, err := svc.Issue(map[string]any{"role": "user"}, time.Hour)
	assert.ErrorIs(t, err, ErrMissingSubject)

	_, err = svc.Issue(map[string]any{"sub": ""}, time.Hour)
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestIssue_DefaultTTL(t *testing.T) {
	t.Parallel()

	svc := NewTokenService([]byte("k"))

	tok, err := svc.Issue(map[string]any{"sub": "a@x.com"}, 0)
	require.NoError(t, err)

	claims, err := svc.Verify(tok)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenTTL), claims.ExpiresAt, 5*time.Second)
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	svc := NewTokenService([]byte("k"))

	tok, err := svc.Issue(map[string]any{"sub": "a@x.com"}, -time.Second)
	require.NoError(t, err)

	claims, err := svc.Verify(tok)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := NewTokenService([]byte("right-secret")).Issue(map[string]any{"sub": "a@x.com"}, time.Hour)
	require.NoError(t, err)

	_, err = NewTokenService([]byte("wrong-secret")).Verify(tok)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	_, err := NewTokenService([]byte("k")).Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerify_NoSubjectClaim(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	// hand-rolled token without a sub claim but otherwise valid
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tok, err := raw.SignedString(secret)
	require.NoError(t, err)

	_, err = NewTokenService(secret).Verify(tok)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerify_RejectsUnsignedAlgorithm(t *testing.T) {
	t.Parallel()

	raw := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "a@x.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tok, err := raw.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenService([]byte("k")).Verify(tok)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
