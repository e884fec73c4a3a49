package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(digest, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(digest, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(pw)) == nil
}
