package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the SQL of the repository, bound to a connection or a transaction.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type (
	PlanEventRow struct {
		ID           string
		Name         string
		FiscalYear   int64
		ScenarioType string
	}

	PlanVersionRow struct {
		ID                string
		PlanEventID       string
		Name              string
		Status            string
		Locked            bool
		LockedExecutionID sql.NullString
		LockedAt          sql.NullString
	}

	AmountRow struct {
		SubjectID    string
		DepartmentID string
		Amount       int64
	}

	KPIRow struct {
		DepartmentID string
		KPICode      string
		Value        string
	}

	AllocationEventRow struct {
		ID             string
		Name           string
		ScenarioType   string
		ExecutionOrder int64
		IsActive       bool
	}

	AllocationStepRow struct {
		ID               string
		EventID          string
		StepNo           int64
		Name             string
		FromSubjectID    string
		FromDepartmentID string
		ToSubjectID      string
		DriverType       string
		DriverSubjectID  string
		DriverKPICode    string
	}

	StepTargetRow struct {
		StepID       string
		DepartmentID string
		FixedRatio   sql.NullString
	}

	ExecutionRow struct {
		ID            string
		PlanEventID   string
		PlanVersionID string
		Status        string
		ExecutedBy    string
		ExecutedAt    string
	}

	ExecutionStepRow struct {
		ID               int64
		Seq              int64
		EventID          string
		EventName        string
		ExecutionOrder   int64
		StepID           string
		StepNo           int64
		StepName         string
		FromSubjectID    string
		FromDepartmentID string
		SourceAmount     int64
		DriverType       string
	}

	DetailRow struct {
		ExecutionStepID int64
		ToDepartmentID  string
		ToSubjectID     string
		DriverType      string
		Ratio           string
		AllocatedAmount int64
	}
)

const getPlanEvent = `SELECT id, name, fiscal_year, scenario_type FROM plan_event WHERE id = ?`

func (q *Queries) GetPlanEvent(ctx context.Context, id string) (PlanEventRow, error) {
	var r PlanEventRow
	err := q.db.QueryRowContext(ctx, getPlanEvent, id).Scan(&r.ID, &r.Name, &r.FiscalYear, &r.ScenarioType)
	return r, err
}

const upsertPlanEvent = `INSERT INTO plan_event (id, name, fiscal_year, scenario_type) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, fiscal_year = excluded.fiscal_year, scenario_type = excluded.scenario_type`

func (q *Queries) UpsertPlanEvent(ctx context.Context, r PlanEventRow) error {
	_, err := q.db.ExecContext(ctx, upsertPlanEvent, r.ID, r.Name, r.FiscalYear, r.ScenarioType)
	return err
}

const getPlanVersion = `SELECT id, plan_event_id, name, status, locked, locked_execution_id, locked_at
FROM plan_version WHERE id = ?`

func (q *Queries) GetPlanVersion(ctx context.Context, id string) (PlanVersionRow, error) {
	var r PlanVersionRow
	err := q.db.QueryRowContext(ctx, getPlanVersion, id).Scan(
		&r.ID, &r.PlanEventID, &r.Name, &r.Status, &r.Locked, &r.LockedExecutionID, &r.LockedAt)
	return r, err
}

// The lock columns are left alone on conflict; only the gate moves them.
const upsertPlanVersion = `INSERT INTO plan_version (id, plan_event_id, name, status) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET plan_event_id = excluded.plan_event_id, name = excluded.name, status = excluded.status`

func (q *Queries) UpsertPlanVersion(ctx context.Context, r PlanVersionRow) error {
	_, err := q.db.ExecContext(ctx, upsertPlanVersion, r.ID, r.PlanEventID, r.Name, r.Status)
	return err
}

const lockVersion = `UPDATE plan_version SET locked = 1, locked_execution_id = ?, locked_at = ? WHERE id = ?`

func (q *Queries) LockVersion(ctx context.Context, id, executionID, at string) (int64, error) {
	res, err := q.db.ExecContext(ctx, lockVersion, executionID, at, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const unlockVersion = `UPDATE plan_version SET locked = 0, locked_execution_id = NULL, locked_at = NULL WHERE id = ?`

func (q *Queries) UnlockVersion(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, unlockVersion, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listPlanAmounts = `SELECT subject_id, department_id, amount FROM plan_amount
WHERE plan_version_id = ? ORDER BY subject_id, department_id`

func (q *Queries) ListPlanAmounts(ctx context.Context, versionID string) ([]AmountRow, error) {
	rows, err := q.db.QueryContext(ctx, listPlanAmounts, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AmountRow
	for rows.Next() {
		var r AmountRow
		if err := rows.Scan(&r.SubjectID, &r.DepartmentID, &r.Amount); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const upsertPlanAmount = `INSERT INTO plan_amount (plan_version_id, subject_id, department_id, amount, updated_at)
VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(plan_version_id, subject_id, department_id) DO UPDATE SET amount = excluded.amount, updated_at = CURRENT_TIMESTAMP`

func (q *Queries) UpsertPlanAmount(ctx context.Context, versionID, subjectID, departmentID string, amount int64) error {
	_, err := q.db.ExecContext(ctx, upsertPlanAmount, versionID, subjectID, departmentID, amount)
	return err
}

const listHeadcounts = `SELECT department_id, headcount FROM department_headcount WHERE plan_version_id = ?`

func (q *Queries) ListHeadcounts(ctx context.Context, versionID string) (map[string]int64, error) {
	rows, err := q.db.QueryContext(ctx, listHeadcounts, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var dept string
		var n int64
		if err := rows.Scan(&dept, &n); err != nil {
			return nil, err
		}
		out[dept] = n
	}
	return out, rows.Err()
}

const upsertHeadcount = `INSERT INTO department_headcount (plan_version_id, department_id, headcount) VALUES (?, ?, ?)
ON CONFLICT(plan_version_id, department_id) DO UPDATE SET headcount = excluded.headcount`

func (q *Queries) UpsertHeadcount(ctx context.Context, versionID, departmentID string, headcount int64) error {
	_, err := q.db.ExecContext(ctx, upsertHeadcount, versionID, departmentID, headcount)
	return err
}

const listKPIs = `SELECT department_id, kpi_code, value FROM department_kpi WHERE plan_version_id = ?`

func (q *Queries) ListKPIs(ctx context.Context, versionID string) ([]KPIRow, error) {
	rows, err := q.db.QueryContext(ctx, listKPIs, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []KPIRow
	for rows.Next() {
		var r KPIRow
		if err := rows.Scan(&r.DepartmentID, &r.KPICode, &r.Value); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const upsertKPI = `INSERT INTO department_kpi (plan_version_id, department_id, kpi_code, value) VALUES (?, ?, ?, ?)
ON CONFLICT(plan_version_id, department_id, kpi_code) DO UPDATE SET value = excluded.value`

func (q *Queries) UpsertKPI(ctx context.Context, versionID, departmentID, kpiCode, value string) error {
	_, err := q.db.ExecContext(ctx, upsertKPI, versionID, departmentID, kpiCode, value)
	return err
}

const listAllocationEvents = `SELECT id, name, scenario_type, execution_order, is_active
FROM allocation_event ORDER BY execution_order, id`

func (q *Queries) ListAllocationEvents(ctx context.Context) ([]AllocationEventRow, error) {
	rows, err := q.db.QueryContext(ctx, listAllocationEvents)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AllocationEventRow
	for rows.Next() {
		var r AllocationEventRow
		if err := rows.Scan(&r.ID, &r.Name, &r.ScenarioType, &r.ExecutionOrder, &r.IsActive); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const listAllocationSteps = `SELECT id, allocation_event_id, step_no, name, from_subject_id, from_department_id,
to_subject_id, driver_type, driver_subject_id, driver_kpi_code
FROM allocation_step ORDER BY allocation_event_id, step_no`

func (q *Queries) ListAllocationSteps(ctx context.Context) ([]AllocationStepRow, error) {
	rows, err := q.db.QueryContext(ctx, listAllocationSteps)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AllocationStepRow
	for rows.Next() {
		var r AllocationStepRow
		if err := rows.Scan(&r.ID, &r.EventID, &r.StepNo, &r.Name, &r.FromSubjectID, &r.FromDepartmentID,
			&r.ToSubjectID, &r.DriverType, &r.DriverSubjectID, &r.DriverKPICode); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const listStepTargets = `SELECT allocation_step_id, department_id, fixed_ratio
FROM allocation_step_target ORDER BY allocation_step_id, position`

func (q *Queries) ListStepTargets(ctx context.Context) ([]StepTargetRow, error) {
	rows, err := q.db.QueryContext(ctx, listStepTargets)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []StepTargetRow
	for rows.Next() {
		var r StepTargetRow
		if err := rows.Scan(&r.StepID, &r.DepartmentID, &r.FixedRatio); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const upsertAllocationEvent = `INSERT INTO allocation_event (id, name, scenario_type, execution_order, is_active)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, scenario_type = excluded.scenario_type,
execution_order = excluded.execution_order, is_active = excluded.is_active`

func (q *Queries) UpsertAllocationEvent(ctx context.Context, r AllocationEventRow) error {
	_, err := q.db.ExecContext(ctx, upsertAllocationEvent, r.ID, r.Name, r.ScenarioType, r.ExecutionOrder, r.IsActive)
	return err
}

const deleteStepTargetsForEvent = `DELETE FROM allocation_step_target
WHERE allocation_step_id IN (SELECT id FROM allocation_step WHERE allocation_event_id = ?)`

const deleteStepsForEvent = `DELETE FROM allocation_step WHERE allocation_event_id = ?`

func (q *Queries) DeleteStepsForEvent(ctx context.Context, eventID string) error {
	if _, err := q.db.ExecContext(ctx, deleteStepTargetsForEvent, eventID); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, deleteStepsForEvent, eventID)
	return err
}

const insertAllocationStep = `INSERT INTO allocation_step (id, allocation_event_id, step_no, name, from_subject_id,
from_department_id, to_subject_id, driver_type, driver_subject_id, driver_kpi_code)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertAllocationStep(ctx context.Context, r AllocationStepRow) error {
	_, err := q.db.ExecContext(ctx, insertAllocationStep, r.ID, r.EventID, r.StepNo, r.Name, r.FromSubjectID,
		r.FromDepartmentID, r.ToSubjectID, r.DriverType, r.DriverSubjectID, r.DriverKPICode)
	return err
}

const insertStepTarget = `INSERT INTO allocation_step_target (allocation_step_id, position, department_id, fixed_ratio)
VALUES (?, ?, ?, ?)`

func (q *Queries) InsertStepTarget(ctx context.Context, stepID string, position int, r StepTargetRow) error {
	_, err := q.db.ExecContext(ctx, insertStepTarget, stepID, position, r.DepartmentID, r.FixedRatio)
	return err
}

const executionColumns = `id, plan_event_id, plan_version_id, status, executed_by, executed_at`

const getExecutionByPair = `SELECT ` + executionColumns + ` FROM allocation_execution
WHERE plan_event_id = ? AND plan_version_id = ?`

func (q *Queries) GetExecutionByPair(ctx context.Context, planEventID, versionID string) (ExecutionRow, error) {
	return scanExecution(q.db.QueryRowContext(ctx, getExecutionByPair, planEventID, versionID))
}

const getLatestExecution = `SELECT ` + executionColumns + ` FROM allocation_execution
WHERE plan_event_id = ? ORDER BY executed_at DESC, id DESC LIMIT 1`

func (q *Queries) GetLatestExecution(ctx context.Context, planEventID string) (ExecutionRow, error) {
	return scanExecution(q.db.QueryRowContext(ctx, getLatestExecution, planEventID))
}

const getExecution = `SELECT ` + executionColumns + ` FROM allocation_execution WHERE id = ?`

func (q *Queries) GetExecution(ctx context.Context, id string) (ExecutionRow, error) {
	return scanExecution(q.db.QueryRowContext(ctx, getExecution, id))
}

func scanExecution(row *sql.Row) (ExecutionRow, error) {
	var r ExecutionRow
	err := row.Scan(&r.ID, &r.PlanEventID, &r.PlanVersionID, &r.Status, &r.ExecutedBy, &r.ExecutedAt)
	return r, err
}

const listExecutionSteps = `SELECT id, seq, allocation_event_id, event_name, execution_order, allocation_step_id,
step_no, step_name, from_subject_id, from_department_id, source_amount, driver_type
FROM allocation_execution_step WHERE execution_id = ? ORDER BY seq`

func (q *Queries) ListExecutionSteps(ctx context.Context, executionID string) ([]ExecutionStepRow, error) {
	rows, err := q.db.QueryContext(ctx, listExecutionSteps, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExecutionStepRow
	for rows.Next() {
		var r ExecutionStepRow
		if err := rows.Scan(&r.ID, &r.Seq, &r.EventID, &r.EventName, &r.ExecutionOrder, &r.StepID,
			&r.StepNo, &r.StepName, &r.FromSubjectID, &r.FromDepartmentID, &r.SourceAmount, &r.DriverType); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const listExecutionDetails = `SELECT d.execution_step_id, d.to_department_id, d.to_subject_id, d.driver_type, d.ratio, d.allocated_amount
FROM allocation_detail d
JOIN allocation_execution_step s ON s.id = d.execution_step_id
WHERE s.execution_id = ? ORDER BY s.seq, d.line_no`

func (q *Queries) ListExecutionDetails(ctx context.Context, executionID string) ([]DetailRow, error) {
	rows, err := q.db.QueryContext(ctx, listExecutionDetails, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DetailRow
	for rows.Next() {
		var r DetailRow
		if err := rows.Scan(&r.ExecutionStepID, &r.ToDepartmentID, &r.ToSubjectID, &r.DriverType, &r.Ratio, &r.AllocatedAmount); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const (
	deleteExecutionDetails = `DELETE FROM allocation_detail
WHERE execution_step_id IN (SELECT id FROM allocation_execution_step WHERE execution_id = ?)`
	deleteExecutionSteps  = `DELETE FROM allocation_execution_step WHERE execution_id = ?`
	deleteExecutionExport = `DELETE FROM allocation_export WHERE execution_id = ?`
	deleteExecution       = `DELETE FROM allocation_execution WHERE id = ?`
)

// DeleteExecutionTree removes an execution with everything hanging off it.
func (q *Queries) DeleteExecutionTree(ctx context.Context, executionID string) error {
	for _, stmt := range []string{deleteExecutionDetails, deleteExecutionSteps, deleteExecutionExport, deleteExecution} {
		if _, err := q.db.ExecContext(ctx, stmt, executionID); err != nil {
			return err
		}
	}
	return nil
}

const insertExecution = `INSERT INTO allocation_execution (` + executionColumns + `) VALUES (?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertExecution(ctx context.Context, r ExecutionRow) error {
	_, err := q.db.ExecContext(ctx, insertExecution, r.ID, r.PlanEventID, r.PlanVersionID, r.Status, r.ExecutedBy, r.ExecutedAt)
	return err
}

const insertExecutionStep = `INSERT INTO allocation_execution_step (execution_id, seq, allocation_event_id, event_name,
execution_order, allocation_step_id, step_no, step_name, from_subject_id, from_department_id, source_amount, driver_type)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertExecutionStep(ctx context.Context, executionID string, r ExecutionStepRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertExecutionStep, executionID, r.Seq, r.EventID, r.EventName,
		r.ExecutionOrder, r.StepID, r.StepNo, r.StepName, r.FromSubjectID, r.FromDepartmentID, r.SourceAmount, r.DriverType)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const insertDetail = `INSERT INTO allocation_detail (execution_step_id, line_no, to_department_id, to_subject_id,
driver_type, ratio, allocated_amount) VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertDetail(ctx context.Context, lineNo int, r DetailRow) error {
	_, err := q.db.ExecContext(ctx, insertDetail, r.ExecutionStepID, lineNo, r.ToDepartmentID, r.ToSubjectID,
		r.DriverType, r.Ratio, r.AllocatedAmount)
	return err
}

const insertPendingExport = `INSERT INTO allocation_export (execution_id, status, updated_at) VALUES (?, 'pending', CURRENT_TIMESTAMP)`

func (q *Queries) InsertPendingExport(ctx context.Context, executionID string) error {
	_, err := q.db.ExecContext(ctx, insertPendingExport, executionID)
	return err
}

const listPendingExports = `SELECT execution_id FROM allocation_export
WHERE status IN ('pending', 'error') AND attempts < ?
ORDER BY updated_at, execution_id LIMIT ?`

func (q *Queries) ListPendingExports(ctx context.Context, maxAttempts, limit int) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listPendingExports, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const markExported = `UPDATE allocation_export SET status = 'exported', attempts = attempts + 1, last_error = NULL,
exported_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE execution_id = ?`

func (q *Queries) MarkExported(ctx context.Context, executionID string) error {
	_, err := q.db.ExecContext(ctx, markExported, executionID)
	return err
}

const markExportError = `UPDATE allocation_export SET status = 'error', attempts = attempts + 1, last_error = ?,
updated_at = CURRENT_TIMESTAMP WHERE execution_id = ?`

func (q *Queries) MarkExportError(ctx context.Context, executionID, message string) error {
	_, err := q.db.ExecContext(ctx, markExportError, message, executionID)
	return err
}
