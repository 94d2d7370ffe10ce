// Package ports declares the storage contracts the allocation service depends
// on. The SQLite repository and the in-memory store both satisfy Store.
package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"planalloc/internal/core"
)

type (
	// PlanReader reads plan master data. Missing rows are reported with
	// core.ErrPlanEventNotFound / core.ErrVersionNotFound.
	PlanReader interface {
		GetPlanEvent(ctx context.Context, planEventID string) (core.PlanEvent, error)
		GetPlanVersion(ctx context.Context, planEventID, planVersionID string) (core.PlanVersion, error)
		// LoadPlanData returns amounts, headcounts and KPI values of a version.
		LoadPlanData(ctx context.Context, planVersionID string) (core.PlanData, error)
	}

	// EventCatalog lists allocation events with their steps, ordered by
	// execution order then id.
	EventCatalog interface {
		ListAllocationEvents(ctx context.Context) ([]core.AllocationEvent, error)
	}

	// ResultStore persists execution trees. ReplaceExecution swaps the previous
	// execution of the same (plan event, version) for the new one and locks the
	// version, all or nothing.
	ResultStore interface {
		ReplaceExecution(ctx context.Context, exec core.AllocationExecution) (string, error)
		GetStatus(ctx context.Context, planEventID, planVersionID string) (core.ExecutionStatusView, error)
		// GetResult returns the latest execution of the plan event when
		// planVersionID is empty.
		GetResult(ctx context.Context, planEventID, planVersionID string) (core.AllocationExecution, error)
		GetExecution(ctx context.Context, executionID string) (core.AllocationExecution, error)
	}

	VersionLockGate interface {
		IsLocked(ctx context.Context, planVersionID string) (bool, error)
		Lock(ctx context.Context, planVersionID, executionID string) error
		Unlock(ctx context.Context, planVersionID string) error
	}

	// AmountWriter is the manual cell edit path; it honours the version lock.
	AmountWriter interface {
		SetAmount(ctx context.Context, planVersionID, subjectID, departmentID string, amount int64) error
	}

	// MasterDataWriter seeds plan and allocation definitions.
	MasterDataWriter interface {
		SavePlanEvent(ctx context.Context, pe core.PlanEvent) error
		SavePlanVersion(ctx context.Context, v core.PlanVersion) error
		SaveAllocationEvent(ctx context.Context, ev core.AllocationEvent) error
		SetHeadcount(ctx context.Context, planVersionID, departmentID string, headcount int64) error
		SetKPI(ctx context.Context, planVersionID, departmentID, kpiCode string, value decimal.Decimal) error
	}

	// ExportTracker records which executions reached the export target.
	ExportTracker interface {
		PendingExports(ctx context.Context, limit int) ([]string, error)
		MarkExported(ctx context.Context, executionID string) error
		MarkExportFailed(ctx context.Context, executionID string, cause error) error
	}

	Store interface {
		PlanReader
		EventCatalog
		ResultStore
		VersionLockGate
		AmountWriter
		MasterDataWriter
		ExportTracker
		Ping(ctx context.Context) error
		Close() error
	}
)
