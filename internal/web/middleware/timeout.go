package middleware

import (
	"net/http"
	"time"
)

// Timeout bounds handler run time. The request context is cancelled at the
// deadline and the client receives a 503 JSON error.
func Timeout(timeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.TimeoutHandler(next, timeout, `{"error":"service_unavailable","message":"Request timeout"}`)
	}
}
