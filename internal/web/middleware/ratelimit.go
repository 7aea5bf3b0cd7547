package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	webcontext "github.com/hireflow/hireflow/internal/web/context"
	"github.com/hireflow/hireflow/internal/web/ratelimit"
	"github.com/hireflow/hireflow/internal/web/response"
)

// RateLimitKeyFunc extracts a rate limit key from a request
type RateLimitKeyFunc func(*http.Request) string

// RateLimitConfig holds configuration for rate limiting middleware
type RateLimitConfig struct {
	Limiter ratelimit.RateLimiter
	KeyFunc RateLimitKeyFunc
	Logger  *zap.Logger
	// FailOpen lets requests through when the limiter itself errors
	FailOpen bool
}

// RateLimit limits requests per client IP, failing open on limiter errors
func RateLimit(limiter ratelimit.RateLimiter, logger *zap.Logger) Middleware {
	return RateLimitWithConfig(RateLimitConfig{
		Limiter:  limiter,
		KeyFunc:  IPKeyFunc,
		Logger:   logger,
		FailOpen: true,
	})
}

// RateLimitWithConfig creates a rate limiting middleware with custom configuration
func RateLimitWithConfig(config RateLimitConfig) Middleware {
	if config.KeyFunc == nil {
		config.KeyFunc = IPKeyFunc
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := config.KeyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			info, err := config.Limiter.Allow(r.Context(), key)
			if err != nil {
				config.Logger.Warn("rate limiter unavailable",
					zap.String("request_id", webcontext.GetRequestID(r.Context())),
					zap.Error(err))
				if config.FailOpen {
					next.ServeHTTP(w, r)
				} else {
					response.RenderError(w, http.StatusServiceUnavailable, err)
				}
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

			if !info.Allowed {
				retryAfter := info.RetryAfter(time.Now())
				response.RenderTooManyRequests(w, int((retryAfter+time.Second-1)/time.Second))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKeyFunc keys by client IP, preferring the first X-Forwarded-For hop
func IPKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return "ip:" + ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return "ip:" + xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// UserKeyFunc keys by authenticated user, falling back to client IP
func UserKeyFunc(r *http.Request) string {
	if user := webcontext.GetCurrentUser(r.Context()); user != "" {
		return "user:" + user
	}
	return IPKeyFunc(r)
}
