package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pulse-sentiment/apiserver/internal/logging"
)

func limitedHandler(rl *RateLimiter) http.Handler {
	return rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func requestAs(subject string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/analyses", nil)
	if subject == "" {
		return req
	}
	return req.WithContext(context.WithValue(req.Context(), contextSubjectKey, subject))
}

func TestRateLimiterBurstThenReject(t *testing.T) {
	rl := NewRateLimiter(6, 3, time.Minute, logging.Discard())
	defer rl.Stop()
	h := limitedHandler(rl)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestAs("ada"))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestAs("ada"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "10" {
		t.Fatalf("expected Retry-After 10, got %q", got)
	}
}

func TestRateLimiterSubjectsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute, logging.Discard())
	defer rl.Stop()
	h := limitedHandler(rl)

	for _, subject := range []string{"ada", "bob"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestAs(subject))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d", subject, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestAs("ada"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected ada to be limited, got %d", rec.Code)
	}
	if rl.Size() != 2 {
		t.Fatalf("expected 2 tracked subjects, got %d", rl.Size())
	}
}

func TestRateLimiterRequiresSubject(t *testing.T) {
	rl := NewRateLimiter(60, 1, time.Minute, logging.Discard())
	defer rl.Stop()

	rec := httptest.NewRecorder()
	limitedHandler(rl).ServeHTTP(rec, requestAs(""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rl.Size() != 0 {
		t.Fatalf("expected no tracked subjects, got %d", rl.Size())
	}
}

func TestRateLimiterEvictsIdleSubjects(t *testing.T) {
	rl := NewRateLimiter(60, 1, time.Minute, logging.Discard())
	defer rl.Stop()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.limiterFor("ada")
	now = now.Add(30 * time.Second)
	rl.limiterFor("bob")

	now = now.Add(45 * time.Second)
	rl.evictIdle()
	if rl.Size() != 1 {
		t.Fatalf("expected only bob to remain, got %d subjects", rl.Size())
	}
	if _, ok := rl.limiters["bob"]; !ok {
		t.Fatal("bob should still be tracked")
	}
}
