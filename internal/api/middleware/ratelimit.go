package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter implements fixed-window rate limiting using Redis
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
}

// RateLimitConfig defines rate limit rules
type RateLimitConfig struct {
	Requests int                        // Number of requests allowed
	Window   time.Duration              // Time window
	KeyFunc  func(*http.Request) string // Function to generate rate limit key
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redis *redis.Client, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redis,
		logger: logger,
	}
}

// Limit returns a middleware that enforces rate limiting
func (rl *RateLimiter) Limit(config RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := config.KeyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, resetTime, err := rl.checkLimit(r.Context(), key, config)
			if err != nil {
				// Fail open: a Redis outage must not take the API down.
				rl.logger.Error("Rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(resetTime).Seconds()), 10))
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)

				rl.logger.Warn("Rate limit exceeded",
					zap.String("key", key),
					zap.String("path", r.URL.Path),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// checkLimit checks if the request is within rate limit
func (rl *RateLimiter) checkLimit(ctx context.Context, key string, config RateLimitConfig) (bool, int, time.Time, error) {
	now := time.Now()
	window := config.Window
	slot := now.Unix() / int64(window.Seconds())
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, slot)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, err
	}

	count := int(incr.Val())
	remaining := max(config.Requests-count, 0)
	resetTime := time.Unix((slot+1)*int64(window.Seconds()), 0)

	return count <= config.Requests, remaining, resetTime, nil
}

// GetRealIP extracts the real client IP address from the request.
// It checks proxy headers in order: X-Forwarded-For, X-Real-IP, RemoteAddr
func GetRealIP(r *http.Request) string {
	// X-Forwarded-For can be: "client, proxy1, proxy2"
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if clientIP := strings.TrimSpace(strings.Split(xff, ",")[0]); clientIP != "" {
			return clientIP
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// KeyByIP generates rate limit key based on IP address
func KeyByIP(r *http.Request) string {
	return fmt.Sprintf("ip:%s", GetRealIP(r))
}

// KeyByIPAndPath generates rate limit key based on IP address and path
func KeyByIPAndPath(r *http.Request) string {
	return fmt.Sprintf("ip:%s:path:%s", GetRealIP(r), r.URL.Path)
}

// GlobalRateLimit applies to all requests from an IP
var GlobalRateLimit = RateLimitConfig{
	Requests: 100,
	Window:   1 * time.Minute,
	KeyFunc:  KeyByIP,
}

// AssemblyCreationRateLimit applies to run submission. Each run holds a
// worker slot for minutes, so it is much stricter than the global limit.
var AssemblyCreationRateLimit = RateLimitConfig{
	Requests: 10,
	Window:   1 * time.Minute,
	KeyFunc:  KeyByIPAndPath,
}

// UploadRateLimit limits asset uploads: 60 per minute per IP
var UploadRateLimit = RateLimitConfig{
	Requests: 60,
	Window:   1 * time.Minute,
	KeyFunc:  KeyByIPAndPath,
}
