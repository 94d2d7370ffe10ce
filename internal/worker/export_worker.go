package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"planalloc/internal/amqp"
	"planalloc/internal/services"
)

// Exporter is the part of the export processor the worker drives.
type Exporter interface {
	Export(ctx context.Context, executionID string) error
	Sweep(ctx context.Context) int
}

// ExportWorker reacts to allocation.completed messages by exporting the
// execution they name.
type ExportWorker struct {
	exporter       Exporter
	startupBatches int
}

// NewExportWorker builds a worker. startupBatches bounds how many sweeps run
// at startup to drain executions missed while the worker was down.
func NewExportWorker(exporter Exporter, startupBatches int) *ExportWorker {
	if startupBatches <= 0 {
		startupBatches = 5
	}
	return &ExportWorker{exporter: exporter, startupBatches: startupBatches}
}

// HandleCompleted processes one message. A returned error requeues it. A
// message for an execution that is already being exported is acknowledged;
// the sweep retries it if that export fails.
func (w *ExportWorker) HandleCompleted(ctx context.Context, msg *amqp.AllocationCompletedMessage) error {
	slog.InfoContext(ctx, "Processing allocation completed message",
		"execution_id", msg.ExecutionID,
		"plan_event_id", msg.PlanEventID,
		"plan_version_id", msg.PlanVersionID,
		"detail_count", msg.DetailCount)

	err := w.exporter.Export(ctx, msg.ExecutionID)
	if errors.Is(err, services.ErrExportInFlight) {
		slog.DebugContext(ctx, "Execution already being exported", "execution_id", msg.ExecutionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("export execution: %w", err)
	}
	return nil
}

// StartupExportCheck drains pending exports left over from downtime. It stops
// at the first sweep that exports nothing.
func (w *ExportWorker) StartupExportCheck(ctx context.Context) int {
	total := 0
	for i := 0; i < w.startupBatches; i++ {
		n := w.exporter.Sweep(ctx)
		if n == 0 {
			break
		}
		total += n
	}
	if total == 0 {
		slog.InfoContext(ctx, "No pending exports found on startup")
	} else {
		slog.InfoContext(ctx, "Startup export completed", "exported", total)
	}
	return total
}
