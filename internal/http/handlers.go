package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"planalloc/internal/core"
	applog "planalloc/internal/log"
	"planalloc/internal/services"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string                `json:"error"`
	Code    core.ErrorCode        `json:"code"`
	EventID string                `json:"eventId,omitempty"`
	StepNo  int                   `json:"stepNo,omitempty"`
	Report  *core.ExecutionReport `json:"report,omitempty"`
}

type setAmountRequest struct {
	SubjectID    string `json:"subjectId"`
	DepartmentID string `json:"departmentId"`
	Amount       string `json:"amount"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.api.ListAllocationEvents(r.Context(), r.PathValue("planEventId"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req services.ExecuteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	req.PlanEventID = r.PathValue("planEventId")
	req.PlanVersionID = r.PathValue("planVersionId")
	req.ExecutedBy = strings.TrimSpace(req.ExecutedBy)

	report, err := s.api.ExecuteAllocation(r.Context(), req)
	if err != nil {
		var rep *core.ExecutionReport
		if len(report.PerEventResults) > 0 {
			rep = &report
		}
		s.writeError(w, r, err, rep)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.api.GetAllocationStatus(r.Context(), r.PathValue("planEventId"), r.PathValue("planVersionId"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	versionID := strings.TrimSpace(r.URL.Query().Get("versionId"))
	exec, err := s.api.GetAllocationResult(r.Context(), r.PathValue("planEventId"), versionID)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if err := s.api.UnlockVersion(r.Context(), r.PathValue("planEventId"), r.PathValue("planVersionId")); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetAmount(w http.ResponseWriter, r *http.Request) {
	var req setAmountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	amount, err := core.ParseMoney(req.Amount)
	if err != nil {
		s.writeError(w, r, core.NewError(core.CodeInvalidRequest, "amount %q is not a valid decimal", req.Amount), nil)
		return
	}
	err = s.api.SetAmount(r.Context(), r.PathValue("planVersionId"),
		strings.TrimSpace(req.SubjectID), strings.TrimSpace(req.DepartmentID), amount)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeJSON reads one JSON object into dst. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return core.NewError(core.CodeInvalidRequest, "request body is empty")
		}
		return core.NewError(core.CodeInvalidRequest, "malformed request body: %v", err)
	}
	if dec.More() {
		return core.NewError(core.CodeInvalidRequest, "request body must hold a single object")
	}
	return nil
}

// statusFor maps an allocation code to its HTTP status.
func statusFor(code core.ErrorCode) int {
	switch code {
	case core.CodePlanEventNotFound, core.CodeVersionNotFound, core.CodeEventNotFound, core.CodeResultNotFound:
		return http.StatusNotFound
	case core.CodeAlreadyRunning, core.CodeVersionFixed, core.CodeVersionLocked:
		return http.StatusConflict
	case core.CodeInvalidRequest:
		return http.StatusBadRequest
	case core.CodeAllocationTimeout:
		return http.StatusGatewayTimeout
	case "", core.CodePersistence, core.CodeAllocationCancelled:
		return http.StatusInternalServerError
	}
	if code.IsInputError() || code.IsDriverError() {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, report *core.ExecutionReport) {
	resp := errorResponse{Error: err.Error(), Code: core.CodeOf(err), Report: report}
	var ae *core.AllocationError
	if errors.As(err, &ae) {
		resp.Error = ae.Message
		resp.EventID = ae.EventID
		resp.StepNo = ae.StepNo
	}

	status := statusFor(resp.Code)
	logger := applog.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		fields := applog.NewFields()
		if resp.EventID != "" {
			fields = fields.WithStep(resp.EventID, resp.StepNo)
		}
		fields[applog.FieldErrorCode] = string(resp.Code)
		applog.NewStructuredLogger(logger).LogError(r.Context(), "Request failed", err, applog.ComponentHTTP, operationFor(r), fields)
		if resp.Code == "" {
			resp.Code = core.CodePersistence
			resp.Error = "internal error"
		}
	} else {
		logger.InfoContext(r.Context(), "Request rejected", applog.FieldErrorCode, string(resp.Code), "reason", resp.Error)
	}
	writeJSON(w, status, resp)
}

func operationFor(r *http.Request) string {
	switch {
	case r.Method == http.MethodGet:
		return applog.OpRead
	case strings.HasSuffix(r.Pattern, "/allocations"):
		return applog.OpExecute
	default:
		return applog.OpUpdate
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("encode response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
