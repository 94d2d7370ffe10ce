// Package memory is a ResultExporter that keeps exported rows in process.
// The worker uses it when no spreadsheet is configured.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"planalloc/internal/core"
	ports "planalloc/internal/sheets"
)

var _ ports.ResultExporter = (*Exporter)(nil)

type Exporter struct {
	mu    sync.Mutex
	order []string
	rows  map[string][][]string
}

func New() *Exporter {
	return &Exporter{rows: make(map[string][][]string)}
}

// ExportExecution stores the rows of exec, replacing earlier rows of the same id.
func (e *Exporter) ExportExecution(_ context.Context, exec core.AllocationExecution) (string, error) {
	if exec.ExecutionID == "" {
		return "", errors.New("execution id is empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, seen := e.rows[exec.ExecutionID]; !seen {
		e.order = append(e.order, exec.ExecutionID)
	}
	e.rows[exec.ExecutionID] = ports.Rows(exec)
	return fmt.Sprintf("mem:%s", exec.ExecutionID), nil
}

// Rows returns a copy of the rows exported for executionID.
func (e *Exporter) Rows(executionID string) [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	src := e.rows[executionID]
	out := make([][]string, len(src))
	for i, r := range src {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// Exported lists execution ids in first-export order.
func (e *Exporter) Exported() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}
