package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"planalloc/internal/core"
	"planalloc/internal/metrics"
	"planalloc/internal/ports"
	"planalloc/internal/sheets"
)

// ErrExportInFlight is returned by Export when another caller is already
// exporting the same execution.
var ErrExportInFlight = errors.New("export already in flight")

// ExportStore is what the export processor reads and marks.
type ExportStore interface {
	ports.ExportTracker
	GetExecution(ctx context.Context, executionID string) (core.AllocationExecution, error)
}

// ExportProcessorConfig holds configuration for the export processor
type ExportProcessorConfig struct {
	// PollInterval is how often unexported executions are swept (default: 30s)
	PollInterval time.Duration

	// BatchSize is the max number of executions exported per sweep (default: 10)
	BatchSize int
}

func DefaultExportProcessorConfig() ExportProcessorConfig {
	return ExportProcessorConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    10,
	}
}

// ExportProcessor copies committed executions to the result sheet. It is
// driven both by allocation.completed messages and by a periodic sweep of
// executions still marked pending.
type ExportProcessor struct {
	store    ExportStore
	exporter sheets.ResultExporter
	config   ExportProcessorConfig

	inflight sync.Map

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewExportProcessor(store ExportStore, exporter sheets.ResultExporter, config ExportProcessorConfig) *ExportProcessor {
	def := DefaultExportProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &ExportProcessor{store: store, exporter: exporter, config: config}
}

// Start begins the sweep loop. Returns an error if already running.
func (p *ExportProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("export processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Export processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for it, bounded by ctx.
func (p *ExportProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Export processor stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Export processor stop timed out")
		return ctx.Err()
	}
}

func (p *ExportProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ExportProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.Sweep(ctx)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep exports one batch of pending executions and returns how many it
// exported itself. Executions another caller is exporting are not counted.
func (p *ExportProcessor) Sweep(ctx context.Context) int {
	ids, err := p.store.PendingExports(ctx, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list pending exports", "error", err)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}
	slog.DebugContext(ctx, "Processing export batch", "count", len(ids))

	exported := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return exported
		}
		err := p.Export(ctx, id)
		if errors.Is(err, ErrExportInFlight) {
			slog.DebugContext(ctx, "Export already in flight", "execution_id", id)
			continue
		}
		if err == nil {
			exported++
		}
	}
	return exported
}

// Export writes one execution to the sheet and records the outcome. An
// execution superseded before it was exported is skipped.
func (p *ExportProcessor) Export(ctx context.Context, executionID string) error {
	if _, busy := p.inflight.LoadOrStore(executionID, struct{}{}); busy {
		return ErrExportInFlight
	}
	defer p.inflight.Delete(executionID)

	exec, err := p.store.GetExecution(ctx, executionID)
	if errors.Is(err, core.ErrResultNotFound) {
		slog.DebugContext(ctx, "Execution superseded before export", "execution_id", executionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get execution %s: %w", executionID, err)
	}

	ref, err := p.exporter.ExportExecution(ctx, exec)
	if err != nil {
		p.handleFailure(ctx, executionID, err)
		return fmt.Errorf("export execution %s: %w", executionID, err)
	}
	p.handleSuccess(ctx, executionID, ref)
	return nil
}

func (p *ExportProcessor) handleSuccess(ctx context.Context, executionID, ref string) {
	metrics.ObserveExport("exported")
	if err := p.store.MarkExported(ctx, executionID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark execution exported", "execution_id", executionID, "error", err)
		return
	}
	slog.InfoContext(ctx, "Exported allocation result", "execution_id", executionID, "sheets_range", ref)
}

func (p *ExportProcessor) handleFailure(ctx context.Context, executionID string, cause error) {
	metrics.ObserveExport("error")
	slog.WarnContext(ctx, "Export failed", "execution_id", executionID, "error", cause)
	if err := p.store.MarkExportFailed(ctx, executionID, cause); err != nil {
		slog.ErrorContext(ctx, "Failed to record export failure", "execution_id", executionID, "error", err)
	}
}
