package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"planalloc/internal/core"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// MaxExportAttempts bounds how often the export worker retries an execution.
const MaxExportAttempts = 5

type SQLiteRepository struct {
	db      *sql.DB
	readDB  *sql.DB
	queries *Queries
}

// NewSQLiteRepository opens (and migrates) the database at dbPath.
// Write transactions begin IMMEDIATE so concurrent replaces queue on
// busy_timeout instead of failing on lock upgrade. Read transactions go
// through a second pool that begins DEFERRED and reads a WAL snapshot
// without waiting on writers.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath, true))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn(dbPath, true)); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	readDB, err := sql.Open("sqlite", dsn(dbPath, false))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite read pool: %w", err)
	}

	return &SQLiteRepository{db: db, readDB: readDB, queries: New(db)}, nil
}

func dsn(dbPath string, immediate bool) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	out := dbPath + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	if immediate {
		out += "&_txlock=immediate"
	}
	return out
}

func (r *SQLiteRepository) Close() error {
	var rerr error
	if r.readDB != nil {
		rerr = r.readDB.Close()
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			return err
		}
	}
	return rerr
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// withTx runs fn in a write transaction, rolling back on error or panic.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	return runTx(ctx, r.db, r.queries, fn)
}

// withReadTx runs fn in a deferred transaction on the read pool.
func (r *SQLiteRepository) withReadTx(ctx context.Context, fn func(q *Queries) error) error {
	return runTx(ctx, r.readDB, r.queries, fn)
}

func runTx(ctx context.Context, db *sql.DB, queries *Queries, fn func(q *Queries) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(queries.WithTx(tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetPlanEvent implements ports.PlanReader
func (r *SQLiteRepository) GetPlanEvent(ctx context.Context, planEventID string) (core.PlanEvent, error) {
	row, err := r.queries.GetPlanEvent(ctx, planEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PlanEvent{}, core.NewError(core.CodePlanEventNotFound, "plan event %q does not exist", planEventID)
	}
	if err != nil {
		return core.PlanEvent{}, fmt.Errorf("get plan event: %w", err)
	}
	return core.PlanEvent{
		ID:           row.ID,
		Name:         row.Name,
		FiscalYear:   int(row.FiscalYear),
		ScenarioType: core.ScenarioType(row.ScenarioType),
	}, nil
}

// GetPlanVersion implements ports.PlanReader. A version of another plan event
// is reported as missing.
func (r *SQLiteRepository) GetPlanVersion(ctx context.Context, planEventID, planVersionID string) (core.PlanVersion, error) {
	row, err := r.queries.GetPlanVersion(ctx, planVersionID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && row.PlanEventID != planEventID) {
		return core.PlanVersion{}, core.NewError(core.CodeVersionNotFound, "plan version %q does not exist in plan event %q", planVersionID, planEventID)
	}
	if err != nil {
		return core.PlanVersion{}, fmt.Errorf("get plan version: %w", err)
	}
	return versionFromRow(row), nil
}

func versionFromRow(row PlanVersionRow) core.PlanVersion {
	v := core.PlanVersion{
		ID:                row.ID,
		PlanEventID:       row.PlanEventID,
		Name:              row.Name,
		Status:            core.VersionStatus(row.Status),
		Locked:            row.Locked,
		LockedByExecution: row.LockedExecutionID.String,
	}
	if row.LockedAt.Valid {
		v.LockedAt = parseTime(row.LockedAt.String)
	}
	return v
}

// LoadPlanData implements ports.PlanReader
func (r *SQLiteRepository) LoadPlanData(ctx context.Context, planVersionID string) (core.PlanData, error) {
	data := core.NewPlanData()

	amounts, err := r.queries.ListPlanAmounts(ctx, planVersionID)
	if err != nil {
		return data, fmt.Errorf("list plan amounts: %w", err)
	}
	for _, a := range amounts {
		data.Amounts[core.CellKey{SubjectID: a.SubjectID, DepartmentID: a.DepartmentID}] = a.Amount
	}

	data.Headcounts, err = r.queries.ListHeadcounts(ctx, planVersionID)
	if err != nil {
		return data, fmt.Errorf("list headcounts: %w", err)
	}

	kpis, err := r.queries.ListKPIs(ctx, planVersionID)
	if err != nil {
		return data, fmt.Errorf("list kpis: %w", err)
	}
	for _, k := range kpis {
		v, err := decimal.NewFromString(k.Value)
		if err != nil {
			return data, fmt.Errorf("parse kpi %s of %s: %w", k.KPICode, k.DepartmentID, err)
		}
		if data.KPIs[k.KPICode] == nil {
			data.KPIs[k.KPICode] = make(map[string]decimal.Decimal)
		}
		data.KPIs[k.KPICode][k.DepartmentID] = v
	}

	slog.DebugContext(ctx, "Plan data loaded",
		"plan_version_id", planVersionID,
		"amounts", len(data.Amounts),
		"headcounts", len(data.Headcounts),
		"kpis", len(kpis))
	return data, nil
}

// ListAllocationEvents implements ports.EventCatalog
func (r *SQLiteRepository) ListAllocationEvents(ctx context.Context) ([]core.AllocationEvent, error) {
	evRows, err := r.queries.ListAllocationEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list allocation events: %w", err)
	}
	stepRows, err := r.queries.ListAllocationSteps(ctx)
	if err != nil {
		return nil, fmt.Errorf("list allocation steps: %w", err)
	}
	targetRows, err := r.queries.ListStepTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list step targets: %w", err)
	}

	targets := make(map[string][]core.StepTarget)
	for _, t := range targetRows {
		st := core.StepTarget{DepartmentID: t.DepartmentID}
		if t.FixedRatio.Valid {
			d, err := decimal.NewFromString(t.FixedRatio.String)
			if err != nil {
				return nil, fmt.Errorf("parse fixed ratio of step %s: %w", t.StepID, err)
			}
			st.Ratio = &d
		}
		targets[t.StepID] = append(targets[t.StepID], st)
	}

	steps := make(map[string][]core.AllocationStep)
	for _, s := range stepRows {
		steps[s.EventID] = append(steps[s.EventID], core.AllocationStep{
			ID:               s.ID,
			EventID:          s.EventID,
			StepNo:           int(s.StepNo),
			Name:             s.Name,
			FromSubjectID:    s.FromSubjectID,
			FromDepartmentID: s.FromDepartmentID,
			ToSubjectID:      s.ToSubjectID,
			Driver: core.Driver{
				Type:               core.DriverType(s.DriverType),
				ReferenceSubjectID: s.DriverSubjectID,
				KPICode:            s.DriverKPICode,
			},
			Targets: targets[s.ID],
		})
	}

	events := make([]core.AllocationEvent, 0, len(evRows))
	for _, e := range evRows {
		events = append(events, core.AllocationEvent{
			ID:             e.ID,
			Name:           e.Name,
			ScenarioType:   core.ScenarioType(e.ScenarioType),
			ExecutionOrder: int(e.ExecutionOrder),
			IsActive:       e.IsActive,
			Steps:          steps[e.ID],
		})
	}
	return events, nil
}

// ReplaceExecution implements ports.ResultStore. The previous execution of
// the pair, its steps, details and export marker are deleted and the new tree
// inserted in one transaction, which also locks the version.
func (r *SQLiteRepository) ReplaceExecution(ctx context.Context, exec core.AllocationExecution) (string, error) {
	var superseded string
	err := r.withTx(ctx, func(q *Queries) error {
		prev, err := q.GetExecutionByPair(ctx, exec.PlanEventID, exec.PlanVersionID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("get previous execution: %w", err)
		default:
			superseded = prev.ID
			if err := q.DeleteExecutionTree(ctx, prev.ID); err != nil {
				return fmt.Errorf("delete previous execution: %w", err)
			}
		}

		if err := q.InsertExecution(ctx, ExecutionRow{
			ID:            exec.ExecutionID,
			PlanEventID:   exec.PlanEventID,
			PlanVersionID: exec.PlanVersionID,
			Status:        string(exec.Status),
			ExecutedBy:    exec.ExecutedBy,
			ExecutedAt:    formatTime(exec.ExecutedAt),
		}); err != nil {
			return fmt.Errorf("insert execution: %w", err)
		}

		for i, s := range exec.Steps {
			stepID, err := q.InsertExecutionStep(ctx, exec.ExecutionID, ExecutionStepRow{
				Seq:              int64(i),
				EventID:          s.EventID,
				EventName:        s.EventName,
				ExecutionOrder:   int64(s.ExecutionOrder),
				StepID:           s.StepID,
				StepNo:           int64(s.StepNo),
				StepName:         s.StepName,
				FromSubjectID:    s.FromSubjectID,
				FromDepartmentID: s.FromDepartmentID,
				SourceAmount:     s.SourceAmount,
				DriverType:       string(s.DriverType),
			})
			if err != nil {
				return fmt.Errorf("insert execution step %d: %w", i, err)
			}
			for j, d := range s.Details {
				if err := q.InsertDetail(ctx, j, DetailRow{
					ExecutionStepID: stepID,
					ToDepartmentID:  d.ToDepartmentID,
					ToSubjectID:     d.ToSubjectID,
					DriverType:      string(d.DriverType),
					Ratio:           d.Ratio.String(),
					AllocatedAmount: d.AllocatedAmount,
				}); err != nil {
					return fmt.Errorf("insert detail %d of step %d: %w", j, i, err)
				}
			}
		}

		if err := q.InsertPendingExport(ctx, exec.ExecutionID); err != nil {
			return fmt.Errorf("insert export marker: %w", err)
		}

		n, err := q.LockVersion(ctx, exec.PlanVersionID, exec.ExecutionID, formatTime(exec.ExecutedAt))
		if err != nil {
			return fmt.Errorf("lock version: %w", err)
		}
		if n == 0 {
			return core.NewError(core.CodeVersionNotFound, "plan version %q does not exist", exec.PlanVersionID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "Allocation execution stored",
		"execution_id", exec.ExecutionID,
		"plan_event_id", exec.PlanEventID,
		"plan_version_id", exec.PlanVersionID,
		"steps", len(exec.Steps),
		"details", exec.DetailCount(),
		"superseded", superseded)
	return exec.ExecutionID, nil
}

// GetStatus implements ports.ResultStore
func (r *SQLiteRepository) GetStatus(ctx context.Context, planEventID, planVersionID string) (core.ExecutionStatusView, error) {
	row, err := r.queries.GetExecutionByPair(ctx, planEventID, planVersionID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ExecutionStatusView{HasResult: false}, nil
	}
	if err != nil {
		return core.ExecutionStatusView{}, fmt.Errorf("get execution status: %w", err)
	}
	at := parseTime(row.ExecutedAt)
	return core.ExecutionStatusView{
		HasResult:   true,
		ExecutionID: row.ID,
		ExecutedAt:  &at,
		Status:      core.ExecutionStatus(row.Status),
	}, nil
}

// GetResult implements ports.ResultStore. The header and the tree are read in
// one transaction so a concurrent replace is seen entirely or not at all.
func (r *SQLiteRepository) GetResult(ctx context.Context, planEventID, planVersionID string) (core.AllocationExecution, error) {
	var exec core.AllocationExecution
	err := r.withReadTx(ctx, func(q *Queries) error {
		var row ExecutionRow
		var err error
		if planVersionID == "" {
			row, err = q.GetLatestExecution(ctx, planEventID)
		} else {
			row, err = q.GetExecutionByPair(ctx, planEventID, planVersionID)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return core.NewError(core.CodeResultNotFound, "no allocation result for plan event %q", planEventID)
		}
		if err != nil {
			return fmt.Errorf("get execution: %w", err)
		}
		exec, err = loadTree(ctx, q, row)
		return err
	})
	return exec, err
}

// GetExecution implements ports.ResultStore
func (r *SQLiteRepository) GetExecution(ctx context.Context, executionID string) (core.AllocationExecution, error) {
	var exec core.AllocationExecution
	err := r.withReadTx(ctx, func(q *Queries) error {
		row, err := q.GetExecution(ctx, executionID)
		if errors.Is(err, sql.ErrNoRows) {
			return core.NewError(core.CodeResultNotFound, "execution %q does not exist", executionID)
		}
		if err != nil {
			return fmt.Errorf("get execution: %w", err)
		}
		exec, err = loadTree(ctx, q, row)
		return err
	})
	return exec, err
}

func loadTree(ctx context.Context, q *Queries, row ExecutionRow) (core.AllocationExecution, error) {
	exec := core.AllocationExecution{
		ExecutionID:   row.ID,
		PlanEventID:   row.PlanEventID,
		PlanVersionID: row.PlanVersionID,
		Status:        core.ExecutionStatus(row.Status),
		ExecutedBy:    row.ExecutedBy,
		ExecutedAt:    parseTime(row.ExecutedAt),
	}

	stepRows, err := q.ListExecutionSteps(ctx, row.ID)
	if err != nil {
		return exec, fmt.Errorf("list execution steps: %w", err)
	}
	detailRows, err := q.ListExecutionDetails(ctx, row.ID)
	if err != nil {
		return exec, fmt.Errorf("list execution details: %w", err)
	}

	details := make(map[int64][]core.AllocationDetail, len(stepRows))
	for _, d := range detailRows {
		ratio, err := decimal.NewFromString(d.Ratio)
		if err != nil {
			return exec, fmt.Errorf("parse ratio: %w", err)
		}
		details[d.ExecutionStepID] = append(details[d.ExecutionStepID], core.AllocationDetail{
			ToDepartmentID:  d.ToDepartmentID,
			ToSubjectID:     d.ToSubjectID,
			DriverType:      core.DriverType(d.DriverType),
			Ratio:           ratio,
			AllocatedAmount: d.AllocatedAmount,
		})
	}

	exec.Steps = make([]core.ExecutionStep, 0, len(stepRows))
	for _, s := range stepRows {
		exec.Steps = append(exec.Steps, core.ExecutionStep{
			EventID:          s.EventID,
			EventName:        s.EventName,
			ExecutionOrder:   int(s.ExecutionOrder),
			StepID:           s.StepID,
			StepNo:           int(s.StepNo),
			StepName:         s.StepName,
			FromSubjectID:    s.FromSubjectID,
			FromDepartmentID: s.FromDepartmentID,
			SourceAmount:     s.SourceAmount,
			DriverType:       core.DriverType(s.DriverType),
			Details:          details[s.ID],
		})
	}
	return exec, nil
}

// IsLocked implements ports.VersionLockGate
func (r *SQLiteRepository) IsLocked(ctx context.Context, planVersionID string) (bool, error) {
	row, err := r.queries.GetPlanVersion(ctx, planVersionID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, core.NewError(core.CodeVersionNotFound, "plan version %q does not exist", planVersionID)
	}
	if err != nil {
		return false, fmt.Errorf("get plan version: %w", err)
	}
	return row.Locked, nil
}

// Lock implements ports.VersionLockGate
func (r *SQLiteRepository) Lock(ctx context.Context, planVersionID, executionID string) error {
	n, err := r.queries.LockVersion(ctx, planVersionID, executionID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("lock version: %w", err)
	}
	if n == 0 {
		return core.NewError(core.CodeVersionNotFound, "plan version %q does not exist", planVersionID)
	}
	slog.InfoContext(ctx, "Plan version locked", "plan_version_id", planVersionID, "execution_id", executionID)
	return nil
}

// Unlock implements ports.VersionLockGate
func (r *SQLiteRepository) Unlock(ctx context.Context, planVersionID string) error {
	n, err := r.queries.UnlockVersion(ctx, planVersionID)
	if err != nil {
		return fmt.Errorf("unlock version: %w", err)
	}
	if n == 0 {
		return core.NewError(core.CodeVersionNotFound, "plan version %q does not exist", planVersionID)
	}
	slog.InfoContext(ctx, "Plan version unlocked", "plan_version_id", planVersionID)
	return nil
}

// SetAmount implements ports.AmountWriter. The lock check and the write share
// a transaction so a commit cannot slip in between.
func (r *SQLiteRepository) SetAmount(ctx context.Context, planVersionID, subjectID, departmentID string, amount int64) error {
	return r.withTx(ctx, func(q *Queries) error {
		v, err := q.GetPlanVersion(ctx, planVersionID)
		if errors.Is(err, sql.ErrNoRows) {
			return core.NewError(core.CodeVersionNotFound, "plan version %q does not exist", planVersionID)
		}
		if err != nil {
			return fmt.Errorf("get plan version: %w", err)
		}
		if err := checkEditable(versionFromRow(v)); err != nil {
			return err
		}
		if err := q.UpsertPlanAmount(ctx, planVersionID, subjectID, departmentID, amount); err != nil {
			return fmt.Errorf("upsert plan amount: %w", err)
		}
		return nil
	})
}

func checkEditable(v core.PlanVersion) error {
	if v.Status == core.VersionFixed {
		return core.NewError(core.CodeVersionFixed, "plan version %q is fixed", v.ID)
	}
	if v.Locked {
		return core.NewError(core.CodeVersionLocked, "plan version %q is locked by execution %s", v.ID, v.LockedByExecution)
	}
	return nil
}

// SavePlanEvent implements ports.MasterDataWriter
func (r *SQLiteRepository) SavePlanEvent(ctx context.Context, pe core.PlanEvent) error {
	if err := r.queries.UpsertPlanEvent(ctx, PlanEventRow{
		ID: pe.ID, Name: pe.Name, FiscalYear: int64(pe.FiscalYear), ScenarioType: string(pe.ScenarioType),
	}); err != nil {
		return fmt.Errorf("save plan event: %w", err)
	}
	return nil
}

// SavePlanVersion implements ports.MasterDataWriter
func (r *SQLiteRepository) SavePlanVersion(ctx context.Context, v core.PlanVersion) error {
	status := v.Status
	if status == "" {
		status = core.VersionDraft
	}
	if err := r.queries.UpsertPlanVersion(ctx, PlanVersionRow{
		ID: v.ID, PlanEventID: v.PlanEventID, Name: v.Name, Status: string(status),
	}); err != nil {
		return fmt.Errorf("save plan version: %w", err)
	}
	return nil
}

// SaveAllocationEvent implements ports.MasterDataWriter. Steps and targets are
// rewritten as a whole.
func (r *SQLiteRepository) SaveAllocationEvent(ctx context.Context, ev core.AllocationEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("validate allocation event %s: %w", ev.ID, err)
	}
	return r.withTx(ctx, func(q *Queries) error {
		if err := q.UpsertAllocationEvent(ctx, AllocationEventRow{
			ID:             ev.ID,
			Name:           ev.Name,
			ScenarioType:   string(ev.ScenarioType),
			ExecutionOrder: int64(ev.ExecutionOrder),
			IsActive:       ev.IsActive,
		}); err != nil {
			return fmt.Errorf("upsert allocation event: %w", err)
		}
		if err := q.DeleteStepsForEvent(ctx, ev.ID); err != nil {
			return fmt.Errorf("delete steps: %w", err)
		}
		for _, s := range ev.Steps {
			if err := q.InsertAllocationStep(ctx, AllocationStepRow{
				ID:               s.ID,
				EventID:          ev.ID,
				StepNo:           int64(s.StepNo),
				Name:             s.Name,
				FromSubjectID:    s.FromSubjectID,
				FromDepartmentID: s.FromDepartmentID,
				ToSubjectID:      s.ToSubjectID,
				DriverType:       string(s.Driver.Type),
				DriverSubjectID:  s.Driver.ReferenceSubjectID,
				DriverKPICode:    s.Driver.KPICode,
			}); err != nil {
				return fmt.Errorf("insert step %s: %w", s.ID, err)
			}
			for i, t := range s.Targets {
				tr := StepTargetRow{DepartmentID: t.DepartmentID}
				if t.Ratio != nil {
					tr.FixedRatio = sql.NullString{String: t.Ratio.String(), Valid: true}
				}
				if err := q.InsertStepTarget(ctx, s.ID, i, tr); err != nil {
					return fmt.Errorf("insert target %s of step %s: %w", t.DepartmentID, s.ID, err)
				}
			}
		}
		return nil
	})
}

// SetHeadcount implements ports.MasterDataWriter
func (r *SQLiteRepository) SetHeadcount(ctx context.Context, planVersionID, departmentID string, headcount int64) error {
	if err := r.queries.UpsertHeadcount(ctx, planVersionID, departmentID, headcount); err != nil {
		return fmt.Errorf("set headcount: %w", err)
	}
	return nil
}

// SetKPI implements ports.MasterDataWriter
func (r *SQLiteRepository) SetKPI(ctx context.Context, planVersionID, departmentID, kpiCode string, value decimal.Decimal) error {
	if err := r.queries.UpsertKPI(ctx, planVersionID, departmentID, kpiCode, value.String()); err != nil {
		return fmt.Errorf("set kpi: %w", err)
	}
	return nil
}

// PendingExports implements ports.ExportTracker
func (r *SQLiteRepository) PendingExports(ctx context.Context, limit int) ([]string, error) {
	ids, err := r.queries.ListPendingExports(ctx, MaxExportAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending exports: %w", err)
	}
	return ids, nil
}

// MarkExported implements ports.ExportTracker
func (r *SQLiteRepository) MarkExported(ctx context.Context, executionID string) error {
	if err := r.queries.MarkExported(ctx, executionID); err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	slog.InfoContext(ctx, "Execution marked as exported", "execution_id", executionID)
	return nil
}

// MarkExportFailed implements ports.ExportTracker
func (r *SQLiteRepository) MarkExportFailed(ctx context.Context, executionID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := r.queries.MarkExportError(ctx, executionID, msg); err != nil {
		return fmt.Errorf("mark export error: %w", err)
	}
	slog.WarnContext(ctx, "Execution marked with export error", "execution_id", executionID, "error", msg)
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
