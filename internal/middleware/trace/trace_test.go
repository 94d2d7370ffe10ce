package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applog "planalloc/internal/log"
)

func TestMiddlewareAssignsRequestID(t *testing.T) {
	var seen string
	var logger *applog.Logger
	h := NewMiddleware(nil, nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		logger = applog.FromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, applog.ComponentHTTP, logger.Component())
}

func TestMiddlewareReusesCallerRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		reused bool
	}{
		{"plain id", "abc-123", true},
		{"too long", strings.Repeat("x", 65), false},
		{"control characters", "abc\n123", false},
		{"spaces", "abc 123", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMiddleware(nil, nil).Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, tt.header)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			got := rec.Header().Get(RequestIDHeader)
			assert.Equal(t, tt.reused, got == tt.header)
			assert.NotEmpty(t, got)
		})
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := NewStatusRecorder(rec)
	assert.Same(t, sr, NewStatusRecorder(sr))

	_, _ = sr.Write([]byte("ok"))
	sr.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusOK, sr.Status(), "status is fixed once the body started")
}

func TestGetRequestIDMissing(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestMiddlewareTagsContextLoggerWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := applog.New(applog.Config{Handler: slog.NewJSONHandler(&buf, nil), Component: applog.ComponentHTTP})
	h := NewMiddleware(nil, base).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applog.FromContext(r.Context()).InfoContext(r.Context(), "inside handler")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var found bool
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		assert.Equal(t, "req-42", entry[applog.FieldRequestID], "every request log line carries the id: %s", line)
		if entry["msg"] == "inside handler" {
			found = true
		}
	}
	assert.True(t, found)
}
