package core

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine readable kind of an allocation failure.
type ErrorCode string

const (
	CodeEventInactive        ErrorCode = "EVENT_INACTIVE"
	CodeScenarioMismatch     ErrorCode = "SCENARIO_MISMATCH"
	CodeEventNotFound        ErrorCode = "EVENT_NOT_FOUND"
	CodeNoEventsSelected     ErrorCode = "NO_EVENTS_SELECTED"
	CodePlanEventNotFound    ErrorCode = "PLAN_EVENT_NOT_FOUND"
	CodeVersionNotFound      ErrorCode = "VERSION_NOT_FOUND"
	CodeVersionFixed         ErrorCode = "VERSION_FIXED_NO_ALLOCATION"
	CodeAlreadyRunning       ErrorCode = "ALLOCATION_ALREADY_RUNNING"
	CodeVersionLocked        ErrorCode = "VERSION_LOCKED"
	CodeResultNotFound       ErrorCode = "RESULT_NOT_FOUND"
	CodeDriverDataMissing    ErrorCode = "DRIVER_DATA_MISSING"
	CodeDriverTotalZero      ErrorCode = "DRIVER_TOTAL_ZERO"
	CodeDriverRatioMismatch  ErrorCode = "DRIVER_RATIO_MISMATCH"
	CodeDriverNegativeWeight ErrorCode = "DRIVER_NEGATIVE_WEIGHT"
	CodeDriverUnknown        ErrorCode = "DRIVER_UNKNOWN"
	CodeStepHasNoTargets     ErrorCode = "STEP_HAS_NO_TARGETS"
	CodeStepInvalid          ErrorCode = "STEP_INVALID"
	CodeAllocationCancelled  ErrorCode = "ALLOCATION_CANCELLED"
	CodeAllocationTimeout    ErrorCode = "ALLOCATION_TIMEOUT"
	CodePersistence          ErrorCode = "PERSISTENCE_ERROR"
	CodeInvalidRequest       ErrorCode = "INVALID_REQUEST"
)

// Sentinels for errors.Is. AllocationError matches them by code.
var (
	ErrEventInactive        = &AllocationError{Code: CodeEventInactive}
	ErrScenarioMismatch     = &AllocationError{Code: CodeScenarioMismatch}
	ErrEventNotFound        = &AllocationError{Code: CodeEventNotFound}
	ErrNoEventsSelected     = &AllocationError{Code: CodeNoEventsSelected}
	ErrPlanEventNotFound    = &AllocationError{Code: CodePlanEventNotFound}
	ErrVersionNotFound      = &AllocationError{Code: CodeVersionNotFound}
	ErrVersionFixed         = &AllocationError{Code: CodeVersionFixed}
	ErrAlreadyRunning       = &AllocationError{Code: CodeAlreadyRunning}
	ErrVersionLocked        = &AllocationError{Code: CodeVersionLocked}
	ErrResultNotFound       = &AllocationError{Code: CodeResultNotFound}
	ErrDriverDataMissing    = &AllocationError{Code: CodeDriverDataMissing}
	ErrDriverTotalZero      = &AllocationError{Code: CodeDriverTotalZero}
	ErrDriverRatioMismatch  = &AllocationError{Code: CodeDriverRatioMismatch}
	ErrDriverNegativeWeight = &AllocationError{Code: CodeDriverNegativeWeight}
	ErrDriverUnknown        = &AllocationError{Code: CodeDriverUnknown}
	ErrStepHasNoTargets     = &AllocationError{Code: CodeStepHasNoTargets}
	ErrStepInvalid          = &AllocationError{Code: CodeStepInvalid}
	ErrAllocationCancelled  = &AllocationError{Code: CodeAllocationCancelled}
	ErrAllocationTimeout    = &AllocationError{Code: CodeAllocationTimeout}
	ErrPersistence          = &AllocationError{Code: CodePersistence}
	ErrInvalidRequest       = &AllocationError{Code: CodeInvalidRequest}
)

// AllocationError carries the code of a failure and, when it happened inside
// a run, the event and step that stopped it.
type AllocationError struct {
	Code      ErrorCode
	EventID   string
	EventName string
	StepNo    int
	Message   string
	Err       error
}

func NewError(code ErrorCode, format string, args ...any) *AllocationError {
	return &AllocationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError tags a lower level error (typically storage) with a code.
func WrapError(code ErrorCode, err error, message string) *AllocationError {
	return &AllocationError{Code: code, Message: message, Err: err}
}

func (e *AllocationError) Error() string {
	msg := string(e.Code)
	if e.EventID != "" {
		msg += fmt.Sprintf(" [event %s", e.EventID)
		if e.StepNo > 0 {
			msg += fmt.Sprintf(" step %d", e.StepNo)
		}
		msg += "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AllocationError) Unwrap() error { return e.Err }

func (e *AllocationError) Is(target error) bool {
	t, ok := target.(*AllocationError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// AtStep returns a copy of the error located on the given event and step.
func (e *AllocationError) AtStep(eventID, eventName string, stepNo int) *AllocationError {
	out := *e
	out.EventID = eventID
	out.EventName = eventName
	out.StepNo = stepNo
	return &out
}

// CodeOf extracts the allocation code from err, or "" if it carries none.
func CodeOf(err error) ErrorCode {
	var ae *AllocationError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsInputError reports whether the code is a selection/request error that
// is raised before a run starts.
func (c ErrorCode) IsInputError() bool {
	switch c {
	case CodeEventInactive, CodeScenarioMismatch, CodeEventNotFound, CodeNoEventsSelected,
		CodeVersionFixed, CodeAlreadyRunning, CodeVersionLocked, CodeInvalidRequest:
		return true
	}
	return false
}

// IsDriverError reports whether the code comes from weight resolution or step execution.
func (c ErrorCode) IsDriverError() bool {
	switch c {
	case CodeDriverDataMissing, CodeDriverTotalZero, CodeDriverRatioMismatch,
		CodeDriverNegativeWeight, CodeDriverUnknown, CodeStepHasNoTargets, CodeStepInvalid:
		return true
	}
	return false
}

