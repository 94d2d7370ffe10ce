package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ScenarioBudget   ScenarioType = "BUDGET"
	ScenarioForecast ScenarioType = "FORECAST"
	ScenarioActual   ScenarioType = "ACTUAL"
)

const (
	VersionDraft    VersionStatus = "DRAFT"
	VersionApproved VersionStatus = "APPROVED"
	VersionFixed    VersionStatus = "FIXED"
)

const (
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailed  ExecutionStatus = "FAILED"
)

type (
	ScenarioType    string
	VersionStatus   string
	ExecutionStatus string

	PlanEvent struct {
		ID           string       `json:"id"`
		Name         string       `json:"name"`
		FiscalYear   int          `json:"fiscalYear"`
		ScenarioType ScenarioType `json:"scenarioType"`
	}

	PlanVersion struct {
		ID                string        `json:"id"`
		PlanEventID       string        `json:"planEventId"`
		Name              string        `json:"name"`
		Status            VersionStatus `json:"status"`
		Locked            bool          `json:"locked"`
		LockedByExecution string        `json:"lockedByExecution,omitempty"`
		LockedAt          time.Time     `json:"lockedAt,omitempty"`
	}

	AllocationEvent struct {
		ID             string           `json:"id"`
		Name           string           `json:"name"`
		ScenarioType   ScenarioType     `json:"scenarioType"`
		ExecutionOrder int              `json:"executionOrder"`
		IsActive       bool             `json:"isActive"`
		Steps          []AllocationStep `json:"steps,omitempty"`
	}

	// AllocationStep splits the balance of one (subject, department) cell
	// across the target departments, booking the parts on ToSubjectID.
	AllocationStep struct {
		ID               string       `json:"id"`
		EventID          string       `json:"eventId"`
		StepNo           int          `json:"stepNo"`
		Name             string       `json:"name"`
		FromSubjectID    string       `json:"fromSubjectId"`
		FromDepartmentID string       `json:"fromDepartmentId"`
		ToSubjectID      string       `json:"toSubjectId"`
		Driver           Driver       `json:"driver"`
		Targets          []StepTarget `json:"targets"`
	}

	// StepTarget is a candidate department. Ratio is only read by FIXED drivers.
	StepTarget struct {
		DepartmentID string           `json:"departmentId"`
		Ratio        *decimal.Decimal `json:"ratio,omitempty"`
	}

	AllocationEventSummary struct {
		ID             string       `json:"id"`
		Name           string       `json:"name"`
		ScenarioType   ScenarioType `json:"scenarioType"`
		ExecutionOrder int          `json:"executionOrder"`
		StepCount      int          `json:"stepCount"`
		IsActive       bool         `json:"isActive"`
	}

	AllocationDetail struct {
		ToDepartmentID  string          `json:"toDepartmentId"`
		ToSubjectID     string          `json:"toSubjectId"`
		DriverType      DriverType      `json:"driverType"`
		Ratio           decimal.Decimal `json:"ratio"`
		AllocatedAmount int64           `json:"allocatedAmount"`
	}

	ExecutionStep struct {
		EventID          string             `json:"eventId"`
		EventName        string             `json:"eventName"`
		ExecutionOrder   int                `json:"executionOrder"`
		StepID           string             `json:"stepId"`
		StepNo           int                `json:"stepNo"`
		StepName         string             `json:"stepName"`
		FromSubjectID    string             `json:"fromSubjectId"`
		FromDepartmentID string             `json:"fromDepartmentId"`
		SourceAmount     int64              `json:"sourceAmount"`
		DriverType       DriverType         `json:"driverType"`
		Details          []AllocationDetail `json:"details"`
	}

	AllocationExecution struct {
		ExecutionID   string          `json:"executionId"`
		PlanEventID   string          `json:"planEventId"`
		PlanVersionID string          `json:"planVersionId"`
		Status        ExecutionStatus `json:"status"`
		ExecutedBy    string          `json:"executedBy"`
		ExecutedAt    time.Time       `json:"executedAt"`
		Steps         []ExecutionStep `json:"steps"`
	}

	ExecutionStatusView struct {
		HasResult   bool            `json:"hasResult"`
		ExecutionID string          `json:"executionId,omitempty"`
		ExecutedAt  *time.Time      `json:"executedAt,omitempty"`
		Status      ExecutionStatus `json:"status,omitempty"`
	}

	// CellKey addresses one amount cell of a plan version.
	CellKey struct {
		SubjectID    string
		DepartmentID string
	}

	// PlanData is everything a run reads from a plan version up front.
	PlanData struct {
		Amounts    map[CellKey]int64
		Headcounts map[string]int64
		// KPIs is keyed by KPI code, then department.
		KPIs map[string]map[string]decimal.Decimal
	}
)

var (
	ErrEmptyID       = errors.New("empty id")
	ErrInvalidStepNo = errors.New("step number must be positive")
	ErrInvalidAmount = errors.New("invalid amount")
)

func (s ScenarioType) IsValid() bool {
	switch s {
	case ScenarioBudget, ScenarioForecast, ScenarioActual:
		return true
	}
	return false
}

func (s VersionStatus) IsValid() bool {
	switch s {
	case VersionDraft, VersionApproved, VersionFixed:
		return true
	}
	return false
}

// Summary returns the listing view of the event.
func (e AllocationEvent) Summary() AllocationEventSummary {
	return AllocationEventSummary{
		ID:             e.ID,
		Name:           e.Name,
		ScenarioType:   e.ScenarioType,
		ExecutionOrder: e.ExecutionOrder,
		StepCount:      len(e.Steps),
		IsActive:       e.IsActive,
	}
}

func (e AllocationEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrEmptyID
	}
	if !e.ScenarioType.IsValid() {
		return errors.New("invalid scenario type")
	}
	seen := make(map[int]struct{}, len(e.Steps))
	for _, s := range e.Steps {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.StepNo]; dup {
			return errors.New("duplicate step number")
		}
		seen[s.StepNo] = struct{}{}
	}
	return nil
}

func (s AllocationStep) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrEmptyID
	}
	if s.StepNo <= 0 {
		return ErrInvalidStepNo
	}
	if strings.TrimSpace(s.FromSubjectID) == "" || strings.TrimSpace(s.FromDepartmentID) == "" {
		return errors.New("step source cell is incomplete")
	}
	if strings.TrimSpace(s.ToSubjectID) == "" {
		return errors.New("step target subject is empty")
	}
	if !s.Driver.Type.IsValid() {
		return errors.New("invalid driver type")
	}
	return nil
}

// TotalAllocated sums the details of the step.
func (s ExecutionStep) TotalAllocated() int64 {
	var total int64
	for _, d := range s.Details {
		total += d.AllocatedAmount
	}
	return total
}

// DetailCount returns the number of detail rows across all steps.
func (e AllocationExecution) DetailCount() int {
	n := 0
	for _, s := range e.Steps {
		n += len(s.Details)
	}
	return n
}

// Clone returns a deep copy so stores can hand out executions without sharing slices.
func (e AllocationExecution) Clone() AllocationExecution {
	out := e
	out.Steps = make([]ExecutionStep, len(e.Steps))
	for i, s := range e.Steps {
		out.Steps[i] = s
		out.Steps[i].Details = append([]AllocationDetail(nil), s.Details...)
	}
	return out
}

// NewPlanData returns empty, ready to fill plan data.
func NewPlanData() PlanData {
	return PlanData{
		Amounts:    make(map[CellKey]int64),
		Headcounts: make(map[string]int64),
		KPIs:       make(map[string]map[string]decimal.Decimal),
	}
}
