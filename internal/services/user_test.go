package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pulse-sentiment/apiserver/internal/store"
	"github.com/pulse-sentiment/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// memUserRepo enforces username and email uniqueness the way the database does.
type memUserRepo struct {
	mu     sync.Mutex
	nextID int
	users  []types.User
}

func (r *memUserRepo) GetByID(_ context.Context, id int) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memUserRepo) GetByUsername(_ context.Context, username string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == user.Username || u.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	r.nextID++
	user.ID = r.nextID
	r.users = append(r.users, user)
	return user, nil
}

func (r *memUserRepo) FindOrCreateOAuthUser(_ context.Context, email, baseUsername string) (types.User, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, false, nil
		}
	}
	r.nextID++
	user := types.User{ID: r.nextID, Username: baseUsername, Email: email, IsOAuthUser: true}
	r.users = append(r.users, user)
	return user, true, nil
}

func (r *memUserRepo) TouchLastLogin(_ context.Context, id int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.users {
		if r.users[i].ID == id {
			r.users[i].LastLoginAt = &at
			return nil
		}
	}
	return store.ErrNotFound
}

var verified = types.OAuthProfile{EmailVerified: true}

func (r *memUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func newTestUserService() (*UserService, *memUserRepo) {
	repo := &memUserRepo{}
	return NewUserService(repo, NewPasswordHasher(bcrypt.MinCost)), repo
}

func TestAuthenticateIndistinguishableFailures(t *testing.T) {
	svc, _ := newTestUserService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "s3cret!"); err != nil {
		t.Fatalf("register: %v", err)
	}

	user, err := svc.Authenticate(ctx, "alice", "s3cret!")
	if err != nil || user == nil || user.Username != "alice" {
		t.Fatalf("expected successful login, got user=%v err=%v", user, err)
	}

	wrong, err := svc.Authenticate(ctx, "alice", "nope")
	if err != nil || wrong != nil {
		t.Fatalf("wrong password: expected (nil, nil), got (%v, %v)", wrong, err)
	}

	missing, err := svc.Authenticate(ctx, "bob", "anything")
	if err != nil || missing != nil {
		t.Fatalf("unknown user: expected (nil, nil), got (%v, %v)", missing, err)
	}
}

func TestAuthenticateOAuthUserHasNoPasswordPath(t *testing.T) {
	svc, _ := newTestUserService()
	ctx := context.Background()

	if _, err := svc.FindOrCreateByEmail(ctx, "carol@example.com", verified); err != nil {
		t.Fatalf("find or create: %v", err)
	}
	user, err := svc.Authenticate(ctx, "carol", "")
	if err != nil || user != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", user, err)
	}
}

func TestAuthenticatePropagatesStorageErrors(t *testing.T) {
	boom := errors.New("connection reset")
	svc := NewUserService(&failingUserRepo{err: boom}, NewPasswordHasher(bcrypt.MinCost))

	if _, err := svc.Authenticate(context.Background(), "alice", "pw"); !errors.Is(err, boom) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestRegisterConflict(t *testing.T) {
	svc, _ := newTestUserService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "other@example.com", "pw"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestFindOrCreateByEmailDerivesUsername(t *testing.T) {
	svc, repo := newTestUserService()

	user, err := svc.FindOrCreateByEmail(context.Background(), "a@b.com", types.OAuthProfile{Email: "a@b.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if user.Username != "a" || !user.IsOAuthUser || user.PasswordHash != nil {
		t.Fatalf("unexpected user %+v", user)
	}
	if repo.count() != 1 {
		t.Fatalf("expected one user, got %d", repo.count())
	}
}

func TestFindOrCreateByEmailConcurrent(t *testing.T) {
	svc, repo := newTestUserService()

	const callers = 8
	var wg sync.WaitGroup
	ids := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, err := svc.FindOrCreateByEmail(context.Background(), "a@b.com", verified)
			if err != nil {
				t.Errorf("find or create: %v", err)
				return
			}
			ids[i] = user.ID
		}(i)
	}
	wg.Wait()

	if repo.count() != 1 {
		t.Fatalf("expected exactly one user, got %d", repo.count())
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("callers resolved different users: %v", ids)
		}
	}
}

func TestFindOrCreateByEmailRejectsInvalid(t *testing.T) {
	svc, _ := newTestUserService()
	for _, email := range []string{"", "no-at-sign", "@b.com", "a@"} {
		if _, err := svc.FindOrCreateByEmail(context.Background(), email, verified); err == nil {
			t.Fatalf("expected error for %q", email)
		}
	}
}

func TestFindOrCreateByEmailRequiresVerifiedEmail(t *testing.T) {
	svc, repo := newTestUserService()

	_, err := svc.FindOrCreateByEmail(context.Background(), "a@b.com", types.OAuthProfile{Email: "a@b.com"})
	if !errors.Is(err, ErrUnverifiedEmail) {
		t.Fatalf("expected ErrUnverifiedEmail, got %v", err)
	}
	if repo.count() != 0 {
		t.Fatalf("no user must be created")
	}
}

func TestEmailsAreCaseInsensitive(t *testing.T) {
	svc, repo := newTestUserService()
	ctx := context.Background()

	first, err := svc.FindOrCreateByEmail(ctx, " Ada@Example.COM ", verified)
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if first.Email != "ada@example.com" {
		t.Fatalf("expected lower-cased email, got %q", first.Email)
	}
	second, err := svc.FindOrCreateByEmail(ctx, "ada@example.com", verified)
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if second.ID != first.ID || repo.count() != 1 {
		t.Fatalf("expected one user, got ids %d/%d and count %d", first.ID, second.ID, repo.count())
	}

	registered, err := svc.Register(ctx, "bob", "Bob@Example.com", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if registered.Email != "bob@example.com" {
		t.Fatalf("expected lower-cased email, got %q", registered.Email)
	}
	if _, err := svc.Register(ctx, "bobby", "BOB@example.com", "pw"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRecordLogin(t *testing.T) {
	svc, repo := newTestUserService()
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	user, err := svc.Register(context.Background(), "alice", "alice@example.com", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.RecordLogin(context.Background(), user); err != nil {
		t.Fatalf("record login: %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), user.ID)
	if stored.LastLoginAt == nil || !stored.LastLoginAt.Equal(fixed) {
		t.Fatalf("unexpected last login %v", stored.LastLoginAt)
	}
}

type failingUserRepo struct {
	memUserRepo
	err error
}

func (r *failingUserRepo) GetByUsername(context.Context, string) (types.User, error) {
	return types.User{}, r.err
}
