package middleware

import (
	"net/http"
	"rover/pkg/clock"
	apperrors "rover/pkg/errors"
	httputil "rover/pkg/http"
	"rover/pkg/logger"
	"sync"
	"time"
)

type KeyExtractor func(r *http.Request) string

// UserRateLimiter is a sliding window limiter keyed by caller identity.
type UserRateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	key      KeyExtractor
	clock    clock.Clock
	log      *logger.Logger
	stopCh   chan struct{}
}

func NewUserRateLimiter(limit int, window time.Duration, extractor KeyExtractor, clk clock.Clock, log *logger.Logger) *UserRateLimiter {
	if extractor == nil {
		extractor = DefaultUserExtractor
	}
	limiter := &UserRateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		key:      extractor,
		clock:    clk,
		log:      log,
		stopCh:   make(chan struct{}),
	}

	go limiter.cleanup()

	return limiter
}

func (rl *UserRateLimiter) cleanup() {
	ticker := rl.clock.NewTicker(time.Hour)
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

func (rl *UserRateLimiter) evictIdle() {
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, timestamps := range rl.requests {
		if len(timestamps) == 0 || now.Sub(timestamps[len(timestamps)-1]) > rl.window {
			delete(rl.requests, key)
		}
	}
}

func (rl *UserRateLimiter) Stop() {
	close(rl.stopCh)
}

// Allow records a request for key and reports whether it fits the window.
// Anonymous requests are not limited here; the handlers reject them.
func (rl *UserRateLimiter) Allow(key string) bool {
	if key == "" {
		return true
	}

	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	timestamps := rl.requests[key]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if now.Sub(ts) < rl.window {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}
	rl.requests[key] = append(valid, now)
	return true
}

func UserRateLimit(limiter *UserRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limiter.key(r)
			if !limiter.Allow(key) {
				limiter.log.Warn("Rate limit exceeded",
					"request_id", RequestIDFrom(r.Context()),
					"user_id", key,
					"path", r.URL.Path,
				)
				_ = httputil.WriteError(w, apperrors.RateLimited("Rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func DefaultUserExtractor(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}
