package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pulse-sentiment/apiserver/internal/logging"
	"github.com/pulse-sentiment/apiserver/internal/services"
	"github.com/pulse-sentiment/apiserver/internal/store"
)

const (
	tokenTypeBearer  = "bearer"
	oauthStateCookie = "pulse_oauth_state"
	oauthStateTTL    = 10 * time.Minute
)

// TokenValidator checks an access token and returns its subject.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// AuthHandler provides registration, password login and Google login.
type AuthHandler struct {
	users    *services.UserService
	tokens   *services.TokenIssuer
	oauth    *services.OAuthExchanger
	loginTTL time.Duration
	validate *requestValidator
	logger   logging.Logger
}

// NewAuthHandler constructs an AuthHandler. oauth may be nil when Google
// login is not configured.
func NewAuthHandler(users *services.UserService, tokens *services.TokenIssuer, oauth *services.OAuthExchanger, loginTTL time.Duration, logger logging.Logger) *AuthHandler {
	return &AuthHandler{
		users:    users,
		tokens:   tokens,
		oauth:    oauth,
		loginTTL: loginTTL,
		validate: newRequestValidator(),
		logger:   logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/register", handler.Register)
	r.Post("/token", handler.Token)
	r.With(RequireAuth(handler.tokens)).Get("/me", handler.Me)
	r.Get("/google", handler.GoogleLogin)
	r.Get("/google/callback", handler.GoogleCallback)
}

// RequireAuth enforces bearer authentication and injects the token subject into context.
func RequireAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeUnauthorized(w, "not authenticated")
				return
			}

			subject, err := tokens.Validate(tokenString)
			if err != nil {
				writeKindError(w, err)
				return
			}

			if info := requestInfoFrom(r.Context()); info != nil {
				info.subject = subject
			}
			ctx := context.WithValue(r.Context(), contextSubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Register creates a password account and logs it in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.users.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "username or email already registered")
			return
		}
		h.logger.WithError(err).Error("register user")
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	token, expiresAt, err := h.tokens.Issue(user.Username, h.loginTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	summary := user.Summary()
	writeJSON(w, http.StatusCreated, services.LoginResult{
		AccessToken: token,
		TokenType:   tokenTypeBearer,
		ExpiresAt:   expiresAt,
		User:        &summary,
	})
}

// Token exchanges a username and password for an access token. It accepts
// a JSON body or an OAuth2 password-grant form.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if isFormRequest(r) {
		if err := parseForm(r); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request")
			return
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.WithError(err).Error("authenticate user")
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}
	if user == nil {
		writeUnauthorized(w, "incorrect username or password")
		return
	}

	token, expiresAt, err := h.tokens.Issue(user.Username, h.loginTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	if err := h.users.RecordLogin(r.Context(), *user); err != nil {
		h.logger.WithError(err).WithField("user_id", user.ID).Warn("record login failed")
	}

	writeJSON(w, http.StatusOK, services.LoginResult{
		AccessToken: token,
		TokenType:   tokenTypeBearer,
		ExpiresAt:   expiresAt,
	})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GoogleLogin returns the consent-screen URL and binds a state value to the
// browser with a short-lived cookie.
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		writeError(w, http.StatusServiceUnavailable, "google login is not configured")
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   int(oauthStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, GoogleLoginResponse{AuthorizationURL: h.oauth.AuthorizationURL(state)})
}

// GoogleCallback completes the authorization-code grant. When the state
// cookie is present the returned state must match it.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		writeError(w, http.StatusServiceUnavailable, "google login is not configured")
		return
	}

	if cookie, err := r.Cookie(oauthStateCookie); err == nil {
		http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/auth/google", MaxAge: -1})
		if cookie.Value != r.URL.Query().Get("state") {
			writeError(w, http.StatusBadRequest, "invalid oauth state")
			return
		}
	}

	result, err := h.oauth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.logger.WithError(err).Warn("google login failed")
		writeKindError(w, err)
		return
	}
	if result.User != nil {
		h.recordLogin(r.Context(), result.User.Username)
	}
	writeJSON(w, http.StatusOK, result)
}

// recordLogin stamps last_login_at. Failures are logged and never fail the login.
func (h *AuthHandler) recordLogin(ctx context.Context, username string) {
	user, err := h.users.GetByUsername(ctx, username)
	if err == nil {
		err = h.users.RecordLogin(ctx, user)
	}
	if err != nil {
		h.logger.WithError(err).WithField("username", username).Warn("record login failed")
	}
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type GoogleLoginResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}
