// Package auth provides password hashing and signed identity tokens.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkostenko/carnet/internal/apperr"
)

// Sentinel errors for token verification and issuance.
var (
	ErrMissingSubject = apperr.New(apperr.KindValidation, "token payload has no subject")
	ErrTokenExpired   = apperr.New(apperr.KindUnauthenticated, "token expired")
	ErrTokenInvalid   = apperr.New(apperr.KindUnauthenticated, "invalid token")
)

// DefaultTokenTTL applies when Issue is called with a zero ttl.
const DefaultTokenTTL = 15 * time.Minute

// Claims is the verified view of a token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
	Raw       jwt.MapClaims
}

// TokenService issues and verifies HS256 tokens with a shared secret.
// Validity is a pure function of the secret and the token: signature plus
// expiry, nothing server-side.
type TokenService struct {
	secret     []byte
	defaultTTL time.Duration
}

// NewTokenService constructs a TokenService. The signing algorithm is fixed
// at HS256 for the life of the process.
func NewTokenService(secret []byte) *TokenService {
	return &TokenService{secret: secret, defaultTTL: DefaultTokenTTL}
}

// Issue signs the given claims with an absolute expiry. The claims must
// carry a non-empty "sub"; ttl == 0 means DefaultTokenTTL.
func (s *TokenService) Issue(claims map[string]any, ttl time.Duration) (string, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrMissingSubject
	}
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	now := time.Now()
	mc := jwt.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	mc["iat"] = now.Unix()
	mc["exp"] = now.Add(ttl).Unix()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, mc)
	return tok.SignedString(s.secret)
}

// Verify parses and checks a token. Expired tokens yield ErrTokenExpired;
// any other failure, including a missing subject, yields ErrTokenInvalid.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	mc := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, mc, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !tok.Valid {
		return nil, ErrTokenInvalid
	}
	sub, _ := mc["sub"].(string)
	if sub == "" {
		return nil, ErrTokenInvalid
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, ErrTokenInvalid
	}
	return &Claims{Subject: sub, ExpiresAt: exp.Time, Raw: mc}, nil
}
