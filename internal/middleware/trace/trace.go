// Package trace tags every request with an id, logs its start and end, and
// puts a request-scoped logger in the context.
package trace

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	applog "planalloc/internal/log"
)

// ContextKey type for context keys
type ContextKey string

const (
	RequestIDKey    ContextKey = "request_id"
	RequestIDHeader            = "X-Request-ID"

	maxRequestIDLen = 64
)

// Middleware handles request tracing and logging
type Middleware struct {
	extractIP func(*http.Request) string
	logger    *applog.Logger
}

func NewMiddleware(extractIP func(*http.Request) string, logger *applog.Logger) *Middleware {
	if logger == nil {
		logger = applog.New(applog.Config{Handler: slog.Default().Handler(), Component: applog.ComponentHTTP})
	}
	return &Middleware{extractIP: extractIP, logger: logger}
}

// Middleware returns HTTP middleware for request tracing. The request id is
// assigned first, then the context logger is tagged with it, then the
// request is logged.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	logged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		ctx := r.Context()
		sl := applog.NewStructuredLogger(applog.FromContext(ctx))
		sl.LogHTTPStart(ctx, r, clientIP)

		rw := NewStatusRecorder(w)
		next.ServeHTTP(rw, r)

		sl.LogHTTPEnd(ctx, r, rw.Status(), time.Since(start).Milliseconds(), clientIP)
	})

	withID := AssignRequestID(applog.RequestIDMiddleware(RequestIDFromRequest)(logged))
	return applog.Middleware(m.logger)(withID)
}

// AssignRequestID stores the request id in the context and echoes it in the
// response header.
func AssignRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := requestIDFrom(r)
		w.Header().Set(RequestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestIDFrom reuses a caller supplied id when it is sane.
func requestIDFrom(r *http.Request) string {
	id := r.Header.Get(RequestIDHeader)
	if id == "" || len(id) > maxRequestIDLen {
		return GenerateRequestID()
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return GenerateRequestID()
		}
	}
	return id
}

func GenerateRequestID() string {
	return uuid.NewString()
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

func RequestIDFromRequest(r *http.Request) string {
	return GetRequestID(r.Context())
}

// StatusRecorder wraps http.ResponseWriter to capture the status code
type StatusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	if sr, ok := w.(*StatusRecorder); ok {
		return sr
	}
	return &StatusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *StatusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *StatusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

func (rw *StatusRecorder) Status() int { return rw.statusCode }

func (rw *StatusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
