package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// contextKey is a private type so request-scoped values cannot collide
// with keys set by other packages.
type contextKey string

const (
	// TenantIDKey carries the caller's tenant ID through the request context.
	TenantIDKey contextKey = "tenantID"

	// TraceIDKey carries the trace ID for the current request.
	TraceIDKey contextKey = "traceID"

	// RequestIDKey carries the per-request correlation ID.
	RequestIDKey contextKey = "requestID"

	// TenantIDHeader names the header every tenant-scoped route requires.
	TenantIDHeader = "X-Tenant-ID"

	// RequestIDHeader names the correlation ID header.
	RequestIDHeader = "X-Request-ID"

	// TraceIDHeader names the trace ID header echoed back to callers.
	TraceIDHeader = "X-Trace-ID"
)

var tracer = otel.Tracer("kestrel-api")

// TenantMiddleware rejects any request that arrives without an X-Tenant-ID
// header and stores the tenant on the context for handlers downstream.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get(TenantIDHeader)
		if tenant == "" {
			http.Error(w, `{"error":"X-Tenant-ID header is required"}`, http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), TenantIDKey, tenant)))
	})
}

// TracingMiddleware opens an OpenTelemetry span per request and echoes the
// request and trace IDs back in the response headers. When no exporter is
// configured the span context is invalid and the request ID doubles as the
// trace ID.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.New().String()
		}

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
				attribute.String("request.id", reqID),
			),
		)
		defer span.End()

		traceID := reqID
		if sc := span.SpanContext(); sc.TraceID().IsValid() {
			traceID = sc.TraceID().String()
		}

		ctx = context.WithValue(ctx, RequestIDKey, reqID)
		ctx = context.WithValue(ctx, TraceIDKey, traceID)

		w.Header().Set(RequestIDHeader, reqID)
		w.Header().Set(TraceIDHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware emits one structured log line per completed request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"tenant_id", GetTenantID(r.Context()),
			"request_id", stringFromContext(r.Context(), RequestIDKey),
			"trace_id", GetTraceID(r.Context()),
		)
	})
}

// CORSMiddleware answers preflight requests and sets permissive CORS
// headers. Deployments that front Kestrel with a gateway can strip these.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-Tenant-ID, X-Request-ID, X-Trace-ID, Authorization")
		h.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Trace-ID")
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a handler panic into a 500 instead of killing
// the connection.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				slog.Error("panic recovered", "error", v, "path", r.URL.Path)
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler so the
// logging middleware can report it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// GetTenantID returns the tenant ID stored by TenantMiddleware, or "".
func GetTenantID(ctx context.Context) string {
	return stringFromContext(ctx, TenantIDKey)
}

// GetTraceID returns the trace ID stored by TracingMiddleware, or "".
func GetTraceID(ctx context.Context) string {
	return stringFromContext(ctx, TraceIDKey)
}

func stringFromContext(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}
