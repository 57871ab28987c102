//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/pulse-sentiment/apiserver/config"
	"github.com/pulse-sentiment/apiserver/internal/db"
	"github.com/pulse-sentiment/apiserver/internal/logging"
	"github.com/pulse-sentiment/apiserver/internal/server"
)

const (
	serverPort = 18080
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d", "postgres", "redis"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := db.MigrateUp(db.URL(config.LoadConfig().Database)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	twitter := httptest.NewServer(http.HandlerFunc(fakeTwitter))
	inference := httptest.NewServer(http.HandlerFunc(fakeInference))

	srv, err := startServer(ctx, twitter.URL, inference.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	twitter.Close()
	inference.Close()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestAccountLifecycle(t *testing.T) {
	username := fmt.Sprintf("user_%d", time.Now().UnixNano())
	password := "testpass123!"

	registered, err := registerUser(t, username, password)
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	if registered.User == nil || registered.User.Username != username {
		t.Fatalf("unexpected register response %+v", registered)
	}

	form := url.Values{"username": {username}, "password": {password}}
	resp, err := http.PostForm(baseURL+"/auth/token", form)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	var login loginResponse
	if err := decodeResponse(resp, http.StatusOK, &login); err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.TokenType != "bearer" || login.AccessToken == "" {
		t.Fatalf("unexpected login response %+v", login)
	}

	var me userResponse
	if err := doJSON(t, http.MethodGet, "/auth/me", login.AccessToken, nil, http.StatusOK, &me); err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.Username != username || me.Email != username+"@example.com" {
		t.Fatalf("unexpected profile %+v", me)
	}

	form.Set("password", "wrong-password")
	resp, err = http.PostForm(baseURL+"/auth/token", form)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad password, got %d", resp.StatusCode)
	}
}

func TestAnalysisLifecycle(t *testing.T) {
	username := fmt.Sprintf("analyst_%d", time.Now().UnixNano())
	registered, err := registerUser(t, username, "testpass123!")
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	token := registered.AccessToken

	var text textResponse
	if err := doJSON(t, http.MethodPost, "/analyze/text", "", map[string]string{"text": "I love this"}, http.StatusOK, &text); err != nil {
		t.Fatalf("analyze text: %v", err)
	}
	if text.SentimentLabel != "POSITIVE" {
		t.Fatalf("unexpected sentiment %+v", text)
	}

	var created analysisResponse
	if err := doJSON(t, http.MethodPost, "/analyses", token, map[string]any{"query": "golang", "max_results": 10}, http.StatusCreated, &created); err != nil {
		t.Fatalf("create analysis: %v", err)
	}
	if created.ID == 0 || len(created.Tweets) != 2 {
		t.Fatalf("unexpected analysis %+v", created)
	}
	if created.Tweets[0].ID != "1" || created.Tweets[0].SentimentLabel != "POSITIVE" || created.Tweets[1].SentimentLabel != "NEGATIVE" {
		t.Fatalf("unexpected tweets %+v", created.Tweets)
	}

	var list analysisListResponse
	if err := doJSON(t, http.MethodGet, "/analyses", token, nil, http.StatusOK, &list); err != nil {
		t.Fatalf("list analyses: %v", err)
	}
	if list.Total != 1 || len(list.Items) != 1 || list.Items[0].ID != created.ID {
		t.Fatalf("unexpected list %+v", list)
	}

	var fetched analysisResponse
	if err := doJSON(t, http.MethodGet, fmt.Sprintf("/analyses/%d", created.ID), token, nil, http.StatusOK, &fetched); err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if len(fetched.Tweets) != 2 || fetched.Tweets[0].ID != "1" {
		t.Fatalf("stored tweets out of order: %+v", fetched.Tweets)
	}

	other, err := registerUser(t, username+"_other", "testpass123!")
	if err != nil {
		t.Fatalf("register second user: %v", err)
	}
	if err := doJSON(t, http.MethodGet, fmt.Sprintf("/analyses/%d", created.ID), other.AccessToken, nil, http.StatusNotFound, nil); err != nil {
		t.Fatalf("foreign analysis: %v", err)
	}
}

type userResponse struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type loginResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	User        *userResponse `json:"user"`
}

type textResponse struct {
	SentimentLabel string  `json:"sentiment_label"`
	SentimentScore float64 `json:"sentiment_score"`
}

type tweetResponse struct {
	ID             string `json:"id"`
	SentimentLabel string `json:"sentiment_label"`
}

type analysisResponse struct {
	ID     int             `json:"id"`
	Query  string          `json:"query"`
	Tweets []tweetResponse `json:"tweets"`
}

type analysisListResponse struct {
	Items []analysisResponse `json:"items"`
	Total int                `json:"total"`
}

func fakeTwitter(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/2/tweets/search/recent" || r.Header.Get("Authorization") != "Bearer e2e-token" {
		http.Error(w, "unexpected request", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"data":[
		{"id":"1","text":"I <b>love</b> golang","created_at":"2026-01-02T03:04:05Z","public_metrics":{"like_count":3}},
		{"id":"2","text":"golang is a letdown","created_at":"2026-01-02T03:05:05Z","public_metrics":{"retweet_count":1}}
	],"meta":{"result_count":2}}`)
}

func fakeInference(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Inputs string `json:"inputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	positive, negative := 0.1, 0.9
	if strings.Contains(req.Inputs, "love") {
		positive, negative = 0.95, 0.05
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode([][]map[string]any{{
		{"label": "POSITIVE", "score": positive},
		{"label": "NEGATIVE", "score": negative},
	}})
}

func registerUser(t *testing.T, username, password string) (loginResponse, error) {
	t.Helper()

	payload := map[string]string{
		"username": username,
		"email":    fmt.Sprintf("%s@example.com", username),
		"password": password,
	}
	var parsed loginResponse
	if err := doJSON(t, http.MethodPost, "/auth/register", "", payload, http.StatusCreated, &parsed); err != nil {
		return loginResponse{}, err
	}
	if parsed.AccessToken == "" {
		return loginResponse{}, fmt.Errorf("missing token in register response")
	}
	return parsed, nil
}

func doJSON(t *testing.T, method, path, token string, payload any, wantStatus int, dst any) error {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	return decodeResponse(resp, wantStatus, dst)
}

func decodeResponse(resp *http.Response, wantStatus int, dst any) error {
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func waitForPostgres(ctx context.Context) error {
	conn, err := sqlx.Open("postgres", db.URL(config.LoadConfig().Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func startServer(ctx context.Context, twitterURL, inferenceURL string) (*server.Server, error) {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("TWITTER_BASE_URL", twitterURL)
	_ = os.Setenv("TWITTER_BEARER_TOKEN", "e2e-token")
	_ = os.Setenv("SENTIMENT_BASE_URL", inferenceURL)
	_ = os.Setenv("REDIS_ADDR", "localhost:6379")
	_ = os.Setenv("MQ_BACKEND", "memory")
	_ = os.Setenv("BCRYPT_COST", "4")

	cfg := config.LoadConfig()
	srv, err := server.New(ctx, cfg, logging.New("warn"))
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
