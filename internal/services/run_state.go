package services

import (
	"context"
	"fmt"

	"planalloc/internal/log"
)

// RunState is the orchestrator state of one allocation run.
type RunState string

const (
	StateIdle        RunState = "IDLE"
	StateLocking     RunState = "LOCKING"
	StateRunning     RunState = "RUNNING"
	StateCommitting  RunState = "COMMITTING"
	StateRollingBack RunState = "ROLLING_BACK"
)

var transitions = map[RunState][]RunState{
	StateIdle:        {StateLocking},
	StateLocking:     {StateRunning, StateIdle},
	StateRunning:     {StateCommitting, StateRollingBack},
	StateCommitting:  {StateIdle, StateRollingBack},
	StateRollingBack: {StateIdle},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to RunState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// runTracker walks one run through the state machine and logs every move.
type runTracker struct {
	state  RunState
	logger *log.Logger
}

func newRunTracker(logger *log.Logger) *runTracker {
	return &runTracker{state: StateIdle, logger: logger}
}

func (r *runTracker) to(ctx context.Context, next RunState) error {
	if !CanTransition(r.state, next) {
		return fmt.Errorf("illegal run transition %s -> %s", r.state, next)
	}
	r.logger.DebugContext(ctx, "Run state changed", "from", string(r.state), log.FieldRunState, string(next))
	r.state = next
	return nil
}

// mustTo is used where the caller's control flow guarantees a legal move.
func (r *runTracker) mustTo(ctx context.Context, next RunState) {
	if err := r.to(ctx, next); err != nil {
		panic(err)
	}
}
