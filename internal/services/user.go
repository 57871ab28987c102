package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pulse-sentiment/apiserver/internal/store"
	"github.com/pulse-sentiment/apiserver/types"
)

// ErrUnverifiedEmail is returned for OAuth profiles whose address the
// provider has not verified.
var ErrUnverifiedEmail = errors.New("email address is not verified")

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	FindOrCreateOAuthUser(ctx context.Context, email, baseUsername string) (types.User, bool, error)
	TouchLastLogin(ctx context.Context, id int, at time.Time) error
}

// UserService is the credential store: password registration and login,
// and account resolution for OAuth logins.
type UserService struct {
	repo   UserRepository
	hasher *PasswordHasher
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(repo UserRepository, hasher *PasswordHasher) *UserService {
	return &UserService{repo: repo, hasher: hasher, now: time.Now}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return s.repo.GetByUsername(ctx, username)
}

// Register creates a password account. Taken usernames or emails return store.ErrConflict.
func (s *UserService) Register(ctx context.Context, username, email, password string) (types.User, error) {
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return types.User{}, err
	}
	return s.repo.Create(ctx, types.User{
		Username:     strings.TrimSpace(username),
		Email:        normalizeEmail(email),
		PasswordHash: &digest,
	})
}

// Authenticate returns the user for valid credentials. An unknown username,
// an OAuth-only account and a wrong password all yield (nil, nil).
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*types.User, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.hasher.Verify(password, s.dummyDigest())
			return nil, nil
		}
		return nil, err
	}
	if !user.HasPassword() {
		s.hasher.Verify(password, s.dummyDigest())
		return nil, nil
	}
	if !s.hasher.Verify(password, *user.PasswordHash) {
		return nil, nil
	}
	return &user, nil
}

// FindOrCreateByEmail resolves an OAuth login to a local account, creating an
// OAuth-only user named after the email's local part when none exists. The
// provider must have verified the address.
func (s *UserService) FindOrCreateByEmail(ctx context.Context, email string, profile types.OAuthProfile) (types.User, error) {
	if !profile.EmailVerified {
		return types.User{}, ErrUnverifiedEmail
	}
	email = normalizeEmail(email)
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" {
		return types.User{}, fmt.Errorf("invalid email %q", email)
	}
	user, _, err := s.repo.FindOrCreateOAuthUser(ctx, email, local)
	if err != nil {
		return types.User{}, err
	}
	return user, nil
}

// RecordLogin stamps the user's last login time.
func (s *UserService) RecordLogin(ctx context.Context, user types.User) error {
	return s.repo.TouchLastLogin(ctx, user.ID, s.now())
}

// normalizeEmail lower-cases addresses so lookups and the unique index agree.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// dummyDigest equalizes the work done for unknown users and real ones.
func (s *UserService) dummyDigest() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("pulse-unknown-user")
	})
	return s.dummyHash
}
