package handlers

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pulse-sentiment/apiserver/internal/logging"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per authenticated subject.
type RateLimiter struct {
	perMinute int
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	logger    logging.Logger
	now       func() time.Time

	mu       sync.Mutex
	limiters map[string]*subjectLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

type subjectLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter allows perMinute requests per subject with the given burst.
// Buckets idle for longer than idleTTL are evicted in the background.
func NewRateLimiter(perMinute, burst int, idleTTL time.Duration, logger logging.Logger) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	rl := &RateLimiter{
		perMinute: perMinute,
		limit:     rate.Limit(float64(perMinute) / 60.0),
		burst:     burst,
		idleTTL:   idleTTL,
		logger:    logger,
		now:       time.Now,
		limiters:  make(map[string]*subjectLimiter),
		stopCh:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the background eviction.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware must run after RequireAuth.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := subjectFromContext(r.Context())
		if err != nil {
			writeUnauthorized(w, "unauthorized")
			return
		}
		if !rl.limiterFor(subject).Allow() {
			rl.logger.WithField("subject", subject).Warn("rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Size returns the number of tracked subjects.
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiterFor(subject string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	sl, ok := rl.limiters[subject]
	if !ok {
		sl = &subjectLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[subject] = sl
	}
	sl.lastAccess = rl.now()
	return sl.limiter
}

// retryAfterSeconds is the time for one token to refill, rounded up.
func (rl *RateLimiter) retryAfterSeconds() int {
	return (60 + rl.perMinute - 1) / rl.perMinute
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	cutoff := rl.now().Add(-rl.idleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for subject, sl := range rl.limiters {
		if sl.lastAccess.Before(cutoff) {
			delete(rl.limiters, subject)
		}
	}
}
