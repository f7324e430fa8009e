package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"link-redirect-service/utils"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// WindowCounter is a shared fixed-window counter, normally Redis.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimiter allows limit requests per window per client IP. Counting happens
// in Redis so the budget is shared by every node; while Redis is unreachable a
// per-process token bucket with the same budget takes over.
type RateLimiter struct {
	counter    WindowCounter
	name       string
	limit      int
	window     time.Duration
	trustProxy bool
	local      *gocache.Cache
	logger     *slog.Logger
}

// NewRateLimiter builds a limiter named name. A limit below 1 is raised to 1
// and a non-positive window becomes one minute.
func NewRateLimiter(counter WindowCounter, name string, limit int, window time.Duration, trustProxy bool, logger *slog.Logger) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		counter:    counter,
		name:       name,
		limit:      limit,
		window:     window,
		trustProxy: trustProxy,
		local:      gocache.New(window, 2*window),
		logger:     logger,
	}
}

// Allow records one request for key and reports whether it is within budget.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.counter != nil {
		count, err := rl.counter.IncrWindow(ctx, fmt.Sprintf("ratelimit:%s:%s", rl.name, key), rl.window)
		if err == nil {
			return count <= int64(rl.limit)
		}
		rl.logger.Warn("rate limit counter unavailable, using local limiter", "limiter", rl.name, "error", err)
	}
	return rl.localLimiter(key).Allow()
}

func (rl *RateLimiter) localLimiter(key string) *rate.Limiter {
	if v, ok := rl.local.Get(key); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Every(rl.window/time.Duration(rl.limit)), rl.limit)
	if err := rl.local.Add(key, lim, gocache.DefaultExpiration); err != nil {
		// lost the race, use the winner
		if v, ok := rl.local.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// Middleware rejects over-budget requests with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := utils.ExtractIP(r, rl.trustProxy)

		if !rl.Allow(r.Context(), ip) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"Rate limit exceeded"}`)
			return
		}

		next.ServeHTTP(w, r)
	})
}
