package router

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dkostenko/carnet/internal/authz"
)

// RateLimiterConfig holds the per-account rate limit settings.
type RateLimiterConfig struct {
	Rate            rate.Limit // requests per second
	Burst           int
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig limits profile reads to 5 requests per minute
// per account.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:            rate.Limit(5.0 / 60.0),
		Burst:           5,
		CleanupInterval: 5 * time.Minute,
	}
}

type subjectLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per authenticated subject and drops
// idle buckets in the background.
type RateLimiter struct {
	config RateLimiterConfig
	logger *zap.SugaredLogger

	mu       sync.Mutex
	limiters map[string]*subjectLimiter

	stopCh chan struct{}
}

func NewRateLimiter(config RateLimiterConfig, logger *zap.SugaredLogger) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		logger:   logger,
		limiters: make(map[string]*subjectLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop halts the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Middleware throttles requests by the authenticated subject. It must sit
// behind authentication so the caller identity is on the context.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, ok := authz.SnapshotFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !rl.limiterFor(snap.Email).Allow() {
			rl.logger.Warnw("rate limit exceeded", "subject", snap.Email, "path", r.URL.Path)
			writeRateLimitResponse(w, rl.config.Rate)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Len returns the number of tracked subjects, for tests.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiterFor(subject string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if sl, ok := rl.limiters[subject]; ok {
		sl.lastAccess = time.Now()
		return sl.limiter
	}
	sl := &subjectLimiter{
		limiter:    rate.NewLimiter(rl.config.Rate, rl.config.Burst),
		lastAccess: time.Now(),
	}
	rl.limiters[subject] = sl
	return sl.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()
	rl.mu.Lock()
	for subject, sl := range rl.limiters {
		if now.Sub(sl.lastAccess) > ttl {
			delete(rl.limiters, subject)
		}
	}
	rl.mu.Unlock()
}

func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// seconds until one token refills
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "too many requests, try again later",
	})
}
