package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/pulse-sentiment/apiserver/internal/apperr"
	"github.com/pulse-sentiment/apiserver/internal/store"
	"github.com/pulse-sentiment/apiserver/types"
)

const maxBodyBytes = 1 << 20

type contextKey string

const (
	contextSubjectKey contextKey = "sub"
	contextRequestKey contextKey = "request_info"
)

func subjectFromContext(ctx context.Context) (string, error) {
	subject, ok := ctx.Value(contextSubjectKey).(string)
	if !ok || strings.TrimSpace(subject) == "" {
		return "", errors.New("missing subject")
	}
	return subject, nil
}

// UserLookup resolves a token subject to its account.
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (types.User, error)
}

// currentUser loads the authenticated user. It writes the error response
// itself and returns false when the request cannot continue.
func currentUser(w http.ResponseWriter, r *http.Request, users UserLookup) (types.User, bool) {
	subject, err := subjectFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w, "unauthorized")
		return types.User{}, false
	}
	user, err := users.GetByUsername(r.Context(), subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeUnauthorized(w, "unauthorized")
			return types.User{}, false
		}
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return types.User{}, false
	}
	return user, true
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, message)
}

// writeKindError maps a classified failure to its response. Errors without
// a kind are internal errors.
func writeKindError(w http.ResponseWriter, err error) {
	switch apperr.KindOf(err) {
	case apperr.InvalidCredential:
		writeUnauthorized(w, "could not validate credentials")
	case apperr.OAuthExchangeFailed:
		writeError(w, http.StatusBadRequest, "failed to exchange authorization code")
	case apperr.OAuthProfileFailed:
		writeError(w, http.StatusBadRequest, "failed to fetch user profile")
	case apperr.ClassificationFailed:
		writeError(w, http.StatusInternalServerError, "sentiment classification failed")
	case apperr.SearchFailed:
		writeError(w, http.StatusInternalServerError, "tweet search failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON reads a size-limited JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return errors.New("invalid request")
	}
	return nil
}

func isFormRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"
}

// parseForm fills r.PostForm from a urlencoded or multipart body of at most
// maxBodyBytes.
func parseForm(r *http.Request) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return r.ParseMultipartForm(maxBodyBytes)
	}
	return r.ParseForm()
}

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
