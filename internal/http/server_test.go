package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planalloc/internal/core"
	"planalloc/internal/lock"
	applog "planalloc/internal/log"
	"planalloc/internal/services"
	"planalloc/internal/storage/demo"
	"planalloc/internal/storage/memory"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is gone") }

func newTestServer(t *testing.T, opts Options) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	seeded, err := demo.Seed(context.Background(), store)
	require.NoError(t, err)
	require.True(t, seeded)

	svc := services.NewAllocationService(store, lock.NewLocal(), services.DefaultConfig())
	srv := NewServer(":0", svc, store, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, store
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:4711"
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func executePath(version string) string {
	return "/api/plan-events/" + demo.PlanEventID + "/versions/" + version + "/allocations"
}

func TestHealthReadyAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, DefaultOptions())

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := do(t, srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}

	rr := do(t, srv, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestReadyReportsStoreFailure(t *testing.T) {
	store := memory.New()
	svc := services.NewAllocationService(store, lock.NewLocal(), services.DefaultConfig())
	srv := NewServer(":0", svc, failingPinger{}, DefaultOptions())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	rr := do(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestListAllocationEvents(t *testing.T) {
	srv, _ := newTestServer(t, DefaultOptions())

	rr := do(t, srv, http.MethodGet, "/api/plan-events/"+demo.PlanEventID+"/allocation-events", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[struct {
		Events []core.AllocationEventSummary `json:"events"`
	}](t, rr)
	require.Len(t, body.Events, 3)
	assert.Equal(t, "DEMO-RENT", body.Events[0].ID)
	assert.Equal(t, 2, body.Events[1].StepCount)

	rr = do(t, srv, http.MethodGet, "/api/plan-events/NOPE/allocation-events", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, core.CodePlanEventNotFound, decode[errorResponse](t, rr).Code)
}

func TestExecuteThenReadBack(t *testing.T) {
	srv, _ := newTestServer(t, DefaultOptions())

	rr := do(t, srv, http.MethodPost, executePath(demo.DraftVersionID),
		`{"eventIds":["DEMO-SHARED","DEMO-RENT"],"executedBy":"alice"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	report := decode[core.ExecutionReport](t, rr)
	assert.Equal(t, core.ExecutionSuccess, report.Status)
	assert.NotEmpty(t, report.ExecutionID)
	require.Len(t, report.PerEventResults, 2)
	assert.Equal(t, "DEMO-RENT", report.PerEventResults[0].EventID)
	assert.Equal(t, int64(12_000_000), report.PerEventResults[0].TotalAllocatedAmount)

	rr = do(t, srv, http.MethodGet, executePath(demo.DraftVersionID)+"/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	view := decode[core.ExecutionStatusView](t, rr)
	assert.True(t, view.HasResult)
	assert.Equal(t, report.ExecutionID, view.ExecutionID)

	rr = do(t, srv, http.MethodGet, "/api/plan-events/"+demo.PlanEventID+"/allocations/result?versionId="+demo.DraftVersionID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	exec := decode[core.AllocationExecution](t, rr)
	assert.Equal(t, report.ExecutionID, exec.ExecutionID)
	assert.Equal(t, "alice", exec.ExecutedBy)
	assert.Len(t, exec.Steps, 3)

	// Without a version the latest execution of the plan event is returned.
	rr = do(t, srv, http.MethodGet, "/api/plan-events/"+demo.PlanEventID+"/allocations/result", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, report.ExecutionID, decode[core.AllocationExecution](t, rr).ExecutionID)
}

func TestExecuteErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		status  int
		code    core.ErrorCode
		eventID string
	}{
		{"malformed body", executePath(demo.DraftVersionID), `{"eventIds":`, http.StatusBadRequest, core.CodeInvalidRequest, ""},
		{"unknown field", executePath(demo.DraftVersionID), `{"events":["DEMO-RENT"]}`, http.StatusBadRequest, core.CodeInvalidRequest, ""},
		{"empty body", executePath(demo.DraftVersionID), ``, http.StatusBadRequest, core.CodeInvalidRequest, ""},
		{"no events", executePath(demo.DraftVersionID), `{"eventIds":[]}`, http.StatusUnprocessableEntity, core.CodeNoEventsSelected, ""},
		{"unknown event", executePath(demo.DraftVersionID), `{"eventIds":["NOPE"]}`, http.StatusNotFound, core.CodeEventNotFound, "NOPE"},
		{"unknown version", executePath("NOPE"), `{"eventIds":["DEMO-RENT"]}`, http.StatusNotFound, core.CodeVersionNotFound, ""},
		{"fixed version", executePath(demo.FixedVersionID), `{"eventIds":["DEMO-RENT"]}`, http.StatusConflict, core.CodeVersionFixed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, DefaultOptions())
			rr := do(t, srv, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			resp := decode[errorResponse](t, rr)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.eventID, resp.EventID)
			assert.NotEmpty(t, resp.Error)
			assert.Nil(t, resp.Report)
		})
	}
}

func TestExecuteDriverFailureCarriesReport(t *testing.T) {
	srv, _ := newTestServer(t, DefaultOptions())

	// The management fee needs allocated rent, which only exists after DEMO-RENT.
	rr := do(t, srv, http.MethodPost, executePath(demo.DraftVersionID), `{"eventIds":["DEMO-MGMT"]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	resp := decode[errorResponse](t, rr)
	assert.True(t, resp.Code.IsDriverError(), resp.Code)
	assert.Equal(t, "DEMO-MGMT", resp.EventID)
	assert.Equal(t, 1, resp.StepNo)
	require.NotNil(t, resp.Report)
	assert.Equal(t, core.ExecutionFailed, resp.Report.Status)
	assert.Empty(t, resp.Report.ExecutionID)

	rr = do(t, srv, http.MethodGet, executePath(demo.DraftVersionID)+"/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decode[core.ExecutionStatusView](t, rr).HasResult)
}

func TestResultNotFound(t *testing.T) {
	srv, _ := newTestServer(t, DefaultOptions())

	rr := do(t, srv, http.MethodGet, "/api/plan-events/"+demo.PlanEventID+"/allocations/result?versionId="+demo.DraftVersionID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, core.CodeResultNotFound, decode[errorResponse](t, rr).Code)
}

func TestSetAmountIsGatedByLock(t *testing.T) {
	srv, _ := newTestServer(t, DefaultOptions())
	amountsPath := "/api/plan-versions/" + demo.DraftVersionID + "/amounts"

	rr := do(t, srv, http.MethodPut, amountsPath, `{"subjectId":"RENT","departmentId":"CORP","amount":"125000,50"}`)
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = do(t, srv, http.MethodPut, amountsPath, `{"subjectId":"RENT","departmentId":"CORP","amount":"lots"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, srv, http.MethodPut, amountsPath, `{"subjectId":"","departmentId":"CORP","amount":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, srv, http.MethodPut, "/api/plan-versions/"+demo.FixedVersionID+"/amounts", `{"subjectId":"RENT","departmentId":"CORP","amount":"1"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, core.CodeVersionFixed, decode[errorResponse](t, rr).Code)

	rr = do(t, srv, http.MethodPost, executePath(demo.DraftVersionID), `{"eventIds":["DEMO-RENT"]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	report := decode[core.ExecutionReport](t, rr)
	assert.Equal(t, int64(12_500_050), report.PerEventResults[0].TotalAllocatedAmount)

	rr = do(t, srv, http.MethodPut, amountsPath, `{"subjectId":"RENT","departmentId":"CORP","amount":"1"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, core.CodeVersionLocked, decode[errorResponse](t, rr).Code)

	rr = do(t, srv, http.MethodPost, "/api/plan-events/"+demo.PlanEventID+"/versions/"+demo.DraftVersionID+"/unlock", "")
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = do(t, srv, http.MethodPut, amountsPath, `{"subjectId":"RENT","departmentId":"CORP","amount":"1"}`)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestExecuteIsRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, Options{ExecuteRequestsPerMinute: 2})

	for i := 0; i < 2; i++ {
		rr := do(t, srv, http.MethodPost, executePath(demo.FixedVersionID), `{"eventIds":["DEMO-RENT"]}`)
		assert.Equal(t, http.StatusConflict, rr.Code)
	}
	rr := do(t, srv, http.MethodPost, executePath(demo.FixedVersionID), `{"eventIds":["DEMO-RENT"]}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	// Reads are not limited.
	rr = do(t, srv, http.MethodGet, "/api/plan-events/"+demo.PlanEventID+"/allocation-events", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestBlockSuspiciousRequests(t *testing.T) {
	srv, _ := newTestServer(t, Options{BlockSuspicious: true})

	rr := do(t, srv, http.MethodGet, "/api/plan-events/"+demo.PlanEventID+"/allocation-events?q=%3Cscript%3E", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, srv, http.MethodGet, "/api/plan-events/"+demo.PlanEventID+"/allocation-events", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code core.ErrorCode
		want int
	}{
		{core.CodeVersionNotFound, http.StatusNotFound},
		{core.CodeAlreadyRunning, http.StatusConflict},
		{core.CodeVersionLocked, http.StatusConflict},
		{core.CodeScenarioMismatch, http.StatusUnprocessableEntity},
		{core.CodeEventInactive, http.StatusUnprocessableEntity},
		{core.CodeDriverRatioMismatch, http.StatusUnprocessableEntity},
		{core.CodeStepHasNoTargets, http.StatusUnprocessableEntity},
		{core.CodeAllocationTimeout, http.StatusGatewayTimeout},
		{core.CodePersistence, http.StatusInternalServerError},
		{"", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.code), string(tt.code))
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	srv, _ := newTestServer(t, DefaultOptions())
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	srv.writeError(rr, req, errors.New("pq: password authentication failed"), nil)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decode[errorResponse](t, rr)
	assert.Equal(t, core.CodePersistence, resp.Code)
	assert.False(t, strings.Contains(resp.Error, "password"))
}

func TestServerErrorsAreLoggedWithOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := applog.New(applog.Config{Handler: slog.NewJSONHandler(&buf, nil), Component: applog.ComponentHTTP})
	srv, _ := newTestServer(t, DefaultOptions())

	req := httptest.NewRequest(http.MethodPost, "/api/plan-events/PE1/versions/V1/allocations", nil)
	req.Pattern = "POST /api/plan-events/{planEventId}/versions/{planVersionId}/allocations"
	req = req.WithContext(context.WithValue(req.Context(), applog.LoggerContextKey, logger))
	srv.writeError(httptest.NewRecorder(), req, errors.New("disk I/O error"), nil)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, applog.OpExecute, entry[applog.FieldOperation])
	assert.Equal(t, "disk I/O error", entry[applog.FieldError])
}

func TestOperationFor(t *testing.T) {
	tests := []struct {
		method, pattern, want string
	}{
		{http.MethodGet, "GET /api/plan-events/{planEventId}/allocations/result", applog.OpRead},
		{http.MethodPost, "POST /api/plan-events/{planEventId}/versions/{planVersionId}/allocations", applog.OpExecute},
		{http.MethodPost, "POST /api/plan-events/{planEventId}/versions/{planVersionId}/unlock", applog.OpUpdate},
		{http.MethodPut, "PUT /api/plan-versions/{planVersionId}/amounts", applog.OpUpdate},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/", nil)
		req.Pattern = tt.pattern
		assert.Equal(t, tt.want, operationFor(req), tt.pattern)
	}
}
