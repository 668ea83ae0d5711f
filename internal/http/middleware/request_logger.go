package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"

	"github.com/wolfman30/fieldhand/pkg/logging"
)

const requestIDKey contextKey = "requestID"

// RequestIDFromContext returns the id RequestLogger assigned, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RequestLogger tags each request with an X-Request-ID and logs its outcome.
// Webhook deliveries are logged at debug because Meta retries are noisy.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey, reqID))

			m := httpsnoop.CaptureMetrics(next, w, r)

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", m.Code,
				"bytes", m.Written,
				"request_id", reqID,
				"remote_ip", r.RemoteAddr,
				"duration_ms", m.Duration.Milliseconds(),
			}
			switch {
			case m.Code >= http.StatusInternalServerError:
				logger.Error("request failed", fields...)
			case r.URL.Path == "/health" || r.URL.Path == "/metrics":
				// probes and scrapes
			case strings.HasPrefix(r.URL.Path, "/webhooks/"):
				logger.Debug("request completed", fields...)
			default:
				logger.Info("request completed", fields...)
			}
		})
	}
}
