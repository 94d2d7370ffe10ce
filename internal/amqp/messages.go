package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"planalloc/internal/core"
)

// AllocationCompletedMessage announces a committed execution. It only carries
// identifiers and totals; consumers read the full tree from the store.
type AllocationCompletedMessage struct {
	ExecutionID    string    `json:"executionId"`
	PlanEventID    string    `json:"planEventId"`
	PlanVersionID  string    `json:"planVersionId"`
	DetailCount    int       `json:"detailCount"`
	TotalAllocated int64     `json:"totalAllocated"`
	ExecutedAt     time.Time `json:"executedAt"`
	Timestamp      time.Time `json:"timestamp"`
}

var errMissingExecutionID = errors.New("message has no executionId")

func NewAllocationCompletedMessage(exec core.AllocationExecution) *AllocationCompletedMessage {
	var total int64
	for _, step := range exec.Steps {
		total += step.TotalAllocated()
	}
	return &AllocationCompletedMessage{
		ExecutionID:    exec.ExecutionID,
		PlanEventID:    exec.PlanEventID,
		PlanVersionID:  exec.PlanVersionID,
		DetailCount:    exec.DetailCount(),
		TotalAllocated: total,
		ExecutedAt:     exec.ExecutedAt,
		Timestamp:      time.Now(),
	}
}

func (m *AllocationCompletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// AllocationCompletedMessageFromJSON decodes a message and rejects one
// without an execution id.
func AllocationCompletedMessageFromJSON(data []byte) (*AllocationCompletedMessage, error) {
	var msg AllocationCompletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ExecutionID == "" {
		return nil, errMissingExecutionID
	}
	return &msg, nil
}
