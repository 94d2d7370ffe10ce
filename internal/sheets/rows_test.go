package sheets

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"planalloc/internal/core"
)

func TestRowsFlattensDetails(t *testing.T) {
	exec := core.AllocationExecution{
		ExecutionID:   "x-1",
		PlanEventID:   "PE",
		PlanVersionID: "V1",
		ExecutedBy:    "controller",
		ExecutedAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Steps: []core.ExecutionStep{{
			EventID: "EV", EventName: "Rent", StepNo: 1, StepName: "Split",
			FromSubjectID: "OVERHEAD", FromDepartmentID: "HQ", SourceAmount: 100000, DriverType: core.DriverFixed,
			Details: []core.AllocationDetail{
				{ToDepartmentID: "D1", ToSubjectID: "ALLOC", DriverType: core.DriverFixed, Ratio: decimal.RequireFromString("0.6"), AllocatedAmount: 60000},
				{ToDepartmentID: "D2", ToSubjectID: "ALLOC", DriverType: core.DriverFixed, Ratio: decimal.RequireFromString("0.4"), AllocatedAmount: 40000},
			},
		}},
	}

	rows := Rows(exec)
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	for _, r := range rows {
		if len(r) != len(Header) {
			t.Fatalf("row has %d columns, header has %d", len(r), len(Header))
		}
	}
	if rows[0][3] != "2026-03-01T10:00:00Z" {
		t.Errorf("executed_at = %q", rows[0][3])
	}
	if rows[0][11] != "1000.00" || rows[0][16] != "600.00" || rows[1][16] != "400.00" {
		t.Errorf("unexpected amounts: %v / %v", rows[0], rows[1])
	}
	if rows[1][15] != "0.4" {
		t.Errorf("ratio = %q", rows[1][15])
	}
}
