package middleware

import (
	"fmt"
	"net/http"
	"time"

	"chatsync/internal/metrics"
	"chatsync/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Observability adds tracing spans, request logging and request counters to
// HTTP handlers.
func Observability(registry *metrics.Registry, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.StartSpan(r.Context(), "http_request")
			defer span.End()

			r = r.WithContext(ctx)
			start := time.Now()

			tracing.AddSpanAttributes(ctx,
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
			)

			wrapper := &responseWrapper{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			registry.IncrementCounter(metrics.HTTPRequests)

			next.ServeHTTP(wrapper, r)

			duration := time.Since(start)

			tracing.AddSpanAttributes(ctx,
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.request.duration_ms", duration.Milliseconds()),
			)

			if wrapper.statusCode >= 400 {
				tracing.SetSpanStatus(ctx, codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
				registry.IncrementCounter(metrics.HTTPErrors)
			} else {
				tracing.SetSpanStatus(ctx, codes.Ok, "")
			}

			logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapper.statusCode,
				"duration_ms": duration.Milliseconds(),
			}).Debug("HTTP request completed")
		})
	}
}

// responseWrapper captures the status code written by the handler.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
