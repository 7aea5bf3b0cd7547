package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	webcontext "github.com/hireflow/hireflow/internal/web/context"
)

// Logging emits one structured line per request. Paths in skip are not logged.
func Logging(logger *zap.Logger, skip ...string) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipped[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := newResponseWriter(w)
			ctx, info := webcontext.WithRequestInfo(r.Context())

			next.ServeHTTP(rw, r.WithContext(ctx))

			fields := []zap.Field{
				zap.String("request_id", webcontext.GetRequestID(ctx)),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.Int("bytes", rw.bytesWritten),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if info.TenantID != uuid.Nil {
				fields = append(fields, zap.String("tenant_id", info.TenantID.String()))
			}
			if info.UserID != "" {
				fields = append(fields, zap.String("user_id", info.UserID))
			}

			switch {
			case rw.statusCode >= 500:
				logger.Error("request", fields...)
			case rw.statusCode >= 400:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
		})
	}
}
