package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pulse-sentiment/apiserver/types"
)

const (
	usernameConstraint = "users_username_key"
	// maxUsernameAttempts bounds the suffixes tried when a derived username is taken.
	maxUsernameAttempts = 20
)

const userColumns = `id, username, email, password_hash, is_oauth_user, last_login_at, created_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// Create inserts a password account. Username or email collisions return ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	const query = `
		INSERT INTO users (username, email, password_hash, is_oauth_user)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns
	var created types.User
	err := r.db.QueryRowxContext(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.IsOAuthUser,
	).StructScan(&created)
	if err != nil {
		if _, ok := uniqueViolationConstraint(err); ok {
			return types.User{}, ErrConflict
		}
		return types.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// FindOrCreateOAuthUser returns the user owning email, creating an OAuth-only
// account when none exists. The insert relies on the email unique constraint,
// so concurrent callers for the same new email converge on a single row.
// When baseUsername is taken by another account a numeric suffix is appended.
func (r *UserRepository) FindOrCreateOAuthUser(ctx context.Context, email, baseUsername string) (types.User, bool, error) {
	const insert = `
		INSERT INTO users (username, email, password_hash, is_oauth_user)
		VALUES ($1, $2, NULL, TRUE)
		ON CONFLICT (email) DO NOTHING
		RETURNING ` + userColumns

	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		username := baseUsername
		if attempt > 0 {
			username = baseUsername + strconv.Itoa(attempt)
		}

		var created types.User
		err := r.db.QueryRowxContext(ctx, insert, username, email).StructScan(&created)
		switch {
		case err == nil:
			return created, true, nil
		case errors.Is(err, sql.ErrNoRows):
			existing, getErr := r.GetByEmail(ctx, email)
			if getErr != nil {
				return types.User{}, false, getErr
			}
			return existing, false, nil
		}

		if constraint, ok := uniqueViolationConstraint(err); ok && constraint == usernameConstraint {
			continue
		}
		return types.User{}, false, fmt.Errorf("find or create user %q: %w", email, err)
	}
	return types.User{}, false, fmt.Errorf("find or create user %q: %w", email, ErrConflict)
}

// TouchLastLogin records a successful login.
func (r *UserRepository) TouchLastLogin(ctx context.Context, id int, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (types.User, error) {
	var user types.User
	if err := r.db.GetContext(ctx, &user, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}
