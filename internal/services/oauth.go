package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pulse-sentiment/apiserver/internal/apperr"
	"github.com/pulse-sentiment/apiserver/types"
	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	tokenTypeBearer   = "bearer"
	maxProfileBytes   = 1 << 20
)

var defaultGoogleScopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// OAuthConfig configures the identity provider. Endpoint and UserInfoURL
// default to Google's.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint
	UserInfoURL  string
	HTTPClient   *http.Client
}

// TokenSigner issues access tokens for a subject.
type TokenSigner interface {
	Issue(subject string, ttl time.Duration) (string, time.Time, error)
}

// AccountResolver maps a verified provider email to a local account.
type AccountResolver interface {
	FindOrCreateByEmail(ctx context.Context, email string, profile types.OAuthProfile) (types.User, error)
}

// LoginResult is the payload returned by every login flow.
type LoginResult struct {
	AccessToken string             `json:"access_token"`
	TokenType   string             `json:"token_type"`
	ExpiresAt   time.Time          `json:"expires_at"`
	User        *types.UserSummary `json:"user,omitempty"`
}

// OAuthExchanger runs the authorization-code grant against the provider and
// converts the resulting identity into an application token.
type OAuthExchanger struct {
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	accounts    AccountResolver
	tokens      TokenSigner
	loginTTL    time.Duration
}

func NewOAuthExchanger(cfg OAuthConfig, accounts AccountResolver, tokens TokenSigner, loginTTL time.Duration) *OAuthExchanger {
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" && endpoint.TokenURL == "" {
		endpoint = googleOAuth.Endpoint
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultGoogleScopes
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = googleUserInfoURL
	}

	return &OAuthExchanger{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		httpClient:  cfg.HTTPClient,
		accounts:    accounts,
		tokens:      tokens,
		loginTTL:    loginTTL,
	}
}

// AuthorizationURL returns the provider consent-screen URL requesting offline access.
func (e *OAuthExchanger) AuthorizationURL(state string) string {
	return e.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for an application access token.
func (e *OAuthExchanger) Exchange(ctx context.Context, code string) (LoginResult, error) {
	if strings.TrimSpace(code) == "" {
		return LoginResult{}, apperr.New(apperr.OAuthExchangeFailed, "exchange code", errors.New("missing authorization code"))
	}
	if e.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	}

	providerToken, err := e.config.Exchange(ctx, code)
	if err != nil {
		return LoginResult{}, apperr.New(apperr.OAuthExchangeFailed, "exchange code", err)
	}

	profile, err := e.fetchProfile(ctx, providerToken)
	if err != nil {
		return LoginResult{}, apperr.New(apperr.OAuthProfileFailed, "fetch profile", err)
	}

	user, err := e.accounts.FindOrCreateByEmail(ctx, profile.Email, profile)
	if errors.Is(err, ErrUnverifiedEmail) {
		return LoginResult{}, apperr.New(apperr.OAuthProfileFailed, "resolve oauth user", err)
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("resolve oauth user: %w", err)
	}

	accessToken, expiresAt, err := e.tokens.Issue(user.Username, e.loginTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}

	summary := user.Summary()
	return LoginResult{
		AccessToken: accessToken,
		TokenType:   tokenTypeBearer,
		ExpiresAt:   expiresAt,
		User:        &summary,
	}, nil
}

func (e *OAuthExchanger) fetchProfile(ctx context.Context, token *oauth2.Token) (types.OAuthProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.userInfoURL, nil)
	if err != nil {
		return types.OAuthProfile{}, err
	}

	resp, err := e.config.Client(ctx, token).Do(req)
	if err != nil {
		return types.OAuthProfile{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return types.OAuthProfile{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return types.OAuthProfile{}, fmt.Errorf("userinfo status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var profile types.OAuthProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return types.OAuthProfile{}, fmt.Errorf("decode userinfo: %w", err)
	}
	if strings.TrimSpace(profile.Email) == "" {
		return types.OAuthProfile{}, errors.New("userinfo has no email")
	}
	return profile, nil
}
