package services

import (
	"context"
	"testing"

	"planalloc/internal/log"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to RunState
		want     bool
	}{
		{StateIdle, StateLocking, true},
		{StateLocking, StateRunning, true},
		{StateLocking, StateIdle, true},
		{StateRunning, StateCommitting, true},
		{StateRunning, StateRollingBack, true},
		{StateCommitting, StateIdle, true},
		{StateCommitting, StateRollingBack, true},
		{StateRollingBack, StateIdle, true},
		{StateIdle, StateRunning, false},
		{StateRunning, StateIdle, false},
		{StateRollingBack, StateCommitting, false},
		{StateCommitting, StateRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRunTrackerRejectsIllegalMove(t *testing.T) {
	r := newRunTracker(log.FromContext(context.Background()))
	if err := r.to(context.Background(), StateCommitting); err == nil {
		t.Fatal("expected error for IDLE -> COMMITTING")
	}
	if r.state != StateIdle {
		t.Errorf("state = %s, want IDLE", r.state)
	}

	defer func() {
		if recover() == nil {
			t.Error("mustTo should panic on an illegal move")
		}
	}()
	r.mustTo(context.Background(), StateRollingBack)
}
