package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/latticehq/lattice/internal/adapter/redisrate"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyCompanyID ctxKey = "company_id"
)

// CompanyHeader carries the authenticated tenant id, set by the API gateway.
const CompanyHeader = "X-Company-ID"

// Recoverer keeps a panicking handler from crashing the server.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("panic recovered", slog.String("path", r.URL.Path), slog.Any("recover", rec))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID injects a ULID request id, preferring the active trace id when a
// span is recording so logs and traces correlate.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ulid.Make().String()
			if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
				id = sc.TraceID().String()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFrom returns the request id stored by RequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// AccessLog emits one structured line per request.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			slog.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", RequestIDFrom(r.Context())),
			)
		})
	}
}

// SecurityHeaders sets the standard hardening headers.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCompany resolves the tenant from the gateway header and rejects
// requests without one. Every API route below /v1 is tenant-scoped.
func RequireCompany() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(CompanyHeader)
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: apiError{
					Code: "UNAUTHENTICATED", Message: "missing or invalid " + CompanyHeader + " header",
				}})
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyCompanyID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// companyFrom returns the tenant id stored by RequireCompany.
func companyFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(ctxKeyCompanyID).(int64)
	return id
}

// TenantRateLimit spends one token from the tenant's bucket per request.
// Must run after RequireCompany. A nil limiter disables the middleware.
func TenantRateLimit(limiter redisrate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			allowed, retryAfter, _ := limiter.Allow(r.Context(), companyFrom(r.Context()), 1)
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				}
				writeJSON(w, http.StatusTooManyRequests, errorEnvelope{Error: apiError{
					Code: "RATE_LIMITED", Message: "request rate limit exceeded",
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBody caps request bodies; oversized uploads fail on read with 413
// surfaced by the handler.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
