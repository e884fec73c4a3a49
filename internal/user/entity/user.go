package entity

import "time"

// Roles a user can hold.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents an account row in the `users` table.
type User struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	IsVerified   bool      `db:"is_verified"`
	AvatarURL    *string   `db:"avatar_url"`
	Role         string    `db:"role"`
	ResetToken   *string   `db:"reset_token"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Snapshot is the minimal projection cached for authenticated requests.
// It is derived and ephemeral; the users table stays authoritative.
type Snapshot struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// Snapshot projects the cached view from a full row.
func (u *User) Snapshot() Snapshot {
	return Snapshot{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role}
}
