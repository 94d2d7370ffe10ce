package sheets

import (
	"context"
	"strconv"

	"planalloc/internal/core"
)

// Ports for outbound adapters.
type (
	// ResultExporter writes one committed execution to an external sheet.
	// Exporting the same execution twice must replace, not duplicate, its rows.
	ResultExporter interface {
		ExportExecution(ctx context.Context, exec core.AllocationExecution) (rangeRef string, err error)
	}
)

// Header is the column layout of exported rows.
var Header = []string{
	"execution_id", "plan_event_id", "plan_version_id", "executed_at", "executed_by",
	"event_id", "event_name", "step_no", "step_name", "from_subject_id", "from_department_id",
	"source_amount", "to_subject_id", "to_department_id", "driver_type", "ratio", "allocated_amount",
}

// Rows flattens an execution into sheet rows, one per allocation detail.
// Amounts are written as decimal strings of the major unit.
func Rows(exec core.AllocationExecution) [][]string {
	rows := make([][]string, 0, exec.DetailCount())
	at := exec.ExecutedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	for _, st := range exec.Steps {
		for _, d := range st.Details {
			rows = append(rows, []string{
				exec.ExecutionID, exec.PlanEventID, exec.PlanVersionID, at, exec.ExecutedBy,
				st.EventID, st.EventName, strconv.Itoa(st.StepNo), st.StepName, st.FromSubjectID, st.FromDepartmentID,
				core.Money{Cents: st.SourceAmount}.String(), d.ToSubjectID, d.ToDepartmentID, string(d.DriverType),
				d.Ratio.String(), core.Money{Cents: d.AllocatedAmount}.String(),
			})
		}
	}
	return rows
}
