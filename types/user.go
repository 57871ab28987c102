package types

import "time"

// User represents an account in the system.
// Accounts are created by password registration or on first OAuth login.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the unique login name. OAuth accounts derive it
	// from the local part of their email address.
	Username string `json:"username" db:"username"`

	// Email is the user's unique email address.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt digest of the user's password.
	// It is nil for OAuth-only accounts, which have no password path.
	// This field is never exposed in API responses.
	PasswordHash *string `json:"-" db:"password_hash"`

	// IsOAuthUser is set when the account was created through an
	// external identity provider.
	IsOAuthUser bool `json:"is_oauth_user" db:"is_oauth_user"`

	// LastLoginAt is the timestamp of the most recent successful login.
	LastLoginAt *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// HasPassword reports whether the account can authenticate with a password.
func (u User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// UserSummary is the public projection of a user returned by login flows.
type UserSummary struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Summary returns the public projection of the user.
func (u User) Summary() UserSummary {
	return UserSummary{Username: u.Username, Email: u.Email}
}

// OAuthProfile is the subset of an identity provider's profile used to
// resolve a local account.
type OAuthProfile struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	EmailVerified bool   `json:"verified_email"`
}
