package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pulse-sentiment/apiserver/internal/logging"
	"github.com/pulse-sentiment/apiserver/internal/services"
	"github.com/pulse-sentiment/apiserver/internal/store"
	"github.com/pulse-sentiment/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

type memUsers struct {
	mu     sync.Mutex
	nextID int
	users  []types.User
}

func (r *memUsers) find(match func(types.User) bool) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memUsers) GetByID(_ context.Context, id int) (types.User, error) {
	return r.find(func(u types.User) bool { return u.ID == id })
}

func (r *memUsers) GetByUsername(_ context.Context, username string) (types.User, error) {
	return r.find(func(u types.User) bool { return u.Username == username })
}

func (r *memUsers) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == user.Username || u.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	r.nextID++
	user.ID = r.nextID
	user.CreatedAt = time.Now()
	r.users = append(r.users, user)
	return user, nil
}

func (r *memUsers) FindOrCreateOAuthUser(_ context.Context, email, baseUsername string) (types.User, bool, error) {
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

func (r *memUsers) TouchLastLogin(_ context.Context, id int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.users {
		if r.users[i].ID == id {
			r.users[i].LastLoginAt = &at
		}
	}
	return nil
}

type testEnv struct {
	users  *memUsers
	svc    *services.UserService
	tokens *services.TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tokens, err := services.NewTokenIssuer(testSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	users := &memUsers{}
	return &testEnv{
		users:  users,
		svc:    services.NewUserService(users, services.NewPasswordHasher(bcrypt.MinCost)),
		tokens: tokens,
	}
}

// registerUser creates a password account and returns a valid access token for it.
func (e *testEnv) registerUser(t *testing.T, username string) (types.User, string) {
	t.Helper()
	user, err := e.svc.Register(context.Background(), username, username+"@example.com", "correct horse")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	token, _, err := e.tokens.Issue(username, 30*time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return user, token
}

func (e *testEnv) authRouter(oauth *services.OAuthExchanger) http.Handler {
	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		AuthRouter(r, NewAuthHandler(e.svc, e.tokens, oauth, 30*time.Minute, logging.Discard()))
	})
	return r
}

func doRequest(t *testing.T, h http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}
