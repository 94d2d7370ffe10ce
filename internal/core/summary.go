package core

const (
	EventSucceeded  EventResultStatus = "SUCCESS"
	EventFailed     EventResultStatus = "FAILED"
	EventRolledBack EventResultStatus = "ROLLED_BACK"
	EventSkipped    EventResultStatus = "SKIPPED"
)

type EventResultStatus string

// EventResult is the per-event line of an execution report.
type EventResult struct {
	EventID              string            `json:"eventId"`
	EventName            string            `json:"eventName"`
	Status               EventResultStatus `json:"status"`
	DetailCount          int               `json:"detailCount"`
	TotalAllocatedAmount int64             `json:"totalAllocatedAmount"`
	ErrorCode            ErrorCode         `json:"errorCode,omitempty"`
	FailedStepNo         int               `json:"failedStepNo,omitempty"`
	Message              string            `json:"message,omitempty"`
}

// ExecutionReport is what executeAllocation hands back to the caller.
// ExecutionID is empty when the run failed, since nothing was persisted.
type ExecutionReport struct {
	ExecutionID     string          `json:"executionId,omitempty"`
	PlanEventID     string          `json:"planEventId"`
	PlanVersionID   string          `json:"planVersionId"`
	Status          ExecutionStatus `json:"status"`
	PerEventResults []EventResult   `json:"perEventResults"`
}
