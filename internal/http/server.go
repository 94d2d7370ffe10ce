package http

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"planalloc/internal/core"
	applog "planalloc/internal/log"
	"planalloc/internal/metrics"
	"planalloc/internal/middleware/ratelimit"
	"planalloc/internal/middleware/security"
	"planalloc/internal/middleware/trace"
	"planalloc/internal/services"
)

// AllocationAPI is the service surface the handlers drive.
type AllocationAPI interface {
	ListAllocationEvents(ctx context.Context, planEventID string) ([]core.AllocationEventSummary, error)
	ExecuteAllocation(ctx context.Context, req services.ExecuteRequest) (core.ExecutionReport, error)
	GetAllocationStatus(ctx context.Context, planEventID, planVersionID string) (core.ExecutionStatusView, error)
	GetAllocationResult(ctx context.Context, planEventID, planVersionID string) (core.AllocationExecution, error)
	SetAmount(ctx context.Context, planVersionID, subjectID, departmentID string, amount core.Money) error
	UnlockVersion(ctx context.Context, planEventID, planVersionID string) error
}

// Pinger backs the readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	// ExecuteRequestsPerMinute limits allocation runs per client IP.
	ExecuteRequestsPerMinute int
	BlockSuspicious          bool
	TrustedProxies           []string
	Logger                   *applog.Logger
}

func DefaultOptions() Options {
	return Options{ExecuteRequestsPerMinute: 30}
}

// Server is the JSON API in front of the allocation service.
type Server struct {
	*http.Server
	api      AllocationAPI
	ready    Pinger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	logger   *applog.Logger
}

// NewServer wires routes and the middleware chain. ready may be nil, in
// which case /readyz always answers ok.
func NewServer(addr string, api AllocationAPI, ready Pinger, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.FromContext(context.Background()).WithComponent(applog.ComponentHTTP)
	}

	detector := security.NewDetector()
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", "cidr", cidr, "error", err)
		}
	}

	s := &Server{
		api:      api,
		ready:    ready,
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.ExecuteRequestsPerMinute}),
		detector: detector,
		logger:   logger,
	}

	mux := http.NewServeMux()
	limited := s.limiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Code: "RATE_LIMITED"})
	})

	s.route(mux, "GET /api/plan-events/{planEventId}/allocation-events", http.HandlerFunc(s.handleListEvents))
	s.route(mux, "POST /api/plan-events/{planEventId}/versions/{planVersionId}/allocations", limited(http.HandlerFunc(s.handleExecute)))
	s.route(mux, "GET /api/plan-events/{planEventId}/versions/{planVersionId}/allocations/status", http.HandlerFunc(s.handleStatus))
	s.route(mux, "GET /api/plan-events/{planEventId}/allocations/result", http.HandlerFunc(s.handleResult))
	s.route(mux, "POST /api/plan-events/{planEventId}/versions/{planVersionId}/unlock", http.HandlerFunc(s.handleUnlock))
	s.route(mux, "PUT /api/plan-versions/{planVersionId}/amounts", http.HandlerFunc(s.handleSetAmount))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = trace.NewMiddleware(detector.ExtractClientIP, logger).Middleware(handler)
	handler = detector.Middleware(opts.BlockSuspicious)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)

	s.Server = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Long enough for a run that holds the lock up to its timeout.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// route registers h and records its latency under the pattern, so path
// parameters never reach metric labels.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := trace.NewStatusRecorder(w)
		h.ServeHTTP(rec, r)
		metrics.ObserveHTTP(pattern, rec.Status(), time.Since(start))
	}))
}

// Shutdown drains connections and stops the limiter's cleanup loop.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.Server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
