package handler

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

type traceKey struct{}

type trace struct {
	traceID string
	spanID  string
}

// TraceID returns the trace id assigned by Tracing, or "".
func TraceID(ctx context.Context) string {
	t, _ := ctx.Value(traceKey{}).(trace)
	return t.traceID
}

// SpanID returns the span id assigned by Tracing, or "".
func SpanID(ctx context.Context) string {
	t, _ := ctx.Value(traceKey{}).(trace)
	return t.spanID
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Tracing reuses an inbound X-Trace-ID or starts a new trace, gives every
// request a fresh span id, echoes both on the response and logs the request.
func Tracing(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := trace{
			traceID: r.Header.Get(HeaderTraceID),
			spanID:  uuid.NewString(),
		}
		if t.traceID == "" {
			t.traceID = uuid.NewString()
		}

		w.Header().Set(HeaderTraceID, t.traceID)
		w.Header().Set(HeaderSpanID, t.spanID)

		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), traceKey{}, t)))

		logger.Info("Handled request",
			slog.String("from", extractClientIP(r)),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.statusCode),
			slog.Duration("duration", time.Since(start)),
			slog.String("trace_id", t.traceID),
			slog.String("span_id", t.spanID))
	})
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
