// Package demo seeds a small budget plan so a fresh store can run an
// allocation end to end.
package demo

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"planalloc/internal/core"
	"planalloc/internal/ports"
)

const (
	PlanEventID    = "DEMO-2026"
	DraftVersionID = "DEMO-2026-V1"
	FixedVersionID = "DEMO-2026-FINAL"
)

// Seeder is what Seed writes through.
type Seeder interface {
	ports.PlanReader
	ports.MasterDataWriter
	ports.AmountWriter
}

var departments = []string{"SALES", "OPS", "RND"}

func ratio(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func targets(ratios ...string) []core.StepTarget {
	out := make([]core.StepTarget, len(departments))
	for i, dep := range departments {
		out[i].DepartmentID = dep
		if i < len(ratios) {
			out[i].Ratio = ratio(ratios[i])
		}
	}
	return out
}

func events() []core.AllocationEvent {
	return []core.AllocationEvent{
		{
			ID: "DEMO-RENT", Name: "Office rent", ScenarioType: core.ScenarioBudget, ExecutionOrder: 10, IsActive: true,
			Steps: []core.AllocationStep{{
				ID: "DEMO-RENT-1", StepNo: 1, Name: "Rent by agreed split",
				FromSubjectID: "RENT", FromDepartmentID: "CORP", ToSubjectID: "RENT_ALLOC",
				Driver:  core.Driver{Type: core.DriverFixed},
				Targets: targets("0.5", "0.3", "0.2"),
			}},
		},
		{
			ID: "DEMO-SHARED", Name: "Shared services", ScenarioType: core.ScenarioBudget, ExecutionOrder: 20, IsActive: true,
			Steps: []core.AllocationStep{
				{
					ID: "DEMO-SHARED-1", StepNo: 1, Name: "IT by headcount",
					FromSubjectID: "IT", FromDepartmentID: "CORP", ToSubjectID: "IT_ALLOC",
					Driver:  core.Driver{Type: core.DriverHeadcount},
					Targets: targets(),
				},
				{
					ID: "DEMO-SHARED-2", StepNo: 2, Name: "Facilities by floor space",
					FromSubjectID: "FACILITIES", FromDepartmentID: "CORP", ToSubjectID: "FAC_ALLOC",
					Driver:  core.Driver{Type: core.DriverKPI, KPICode: "SQM"},
					Targets: targets(),
				},
			},
		},
		{
			ID: "DEMO-MGMT", Name: "Management fee", ScenarioType: core.ScenarioBudget, ExecutionOrder: 30, IsActive: true,
			Steps: []core.AllocationStep{{
				ID: "DEMO-MGMT-1", StepNo: 1, Name: "Management by allocated rent",
				FromSubjectID: "MGMT", FromDepartmentID: "CORP", ToSubjectID: "MGMT_ALLOC",
				Driver:  core.Driver{Type: core.DriverSubjectAmount, ReferenceSubjectID: "RENT_ALLOC"},
				Targets: targets(),
			}},
		},
	}
}

// Seed writes the demo plan unless it already exists. It reports whether
// anything was written.
func Seed(ctx context.Context, s Seeder) (bool, error) {
	_, err := s.GetPlanEvent(ctx, PlanEventID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, core.ErrPlanEventNotFound) {
		return false, fmt.Errorf("check demo plan: %w", err)
	}

	if err := s.SavePlanEvent(ctx, core.PlanEvent{
		ID: PlanEventID, Name: "Demo budget 2026", FiscalYear: 2026, ScenarioType: core.ScenarioBudget,
	}); err != nil {
		return false, fmt.Errorf("save demo plan: %w", err)
	}
	for _, v := range []core.PlanVersion{
		{ID: DraftVersionID, PlanEventID: PlanEventID, Name: "Working draft", Status: core.VersionDraft},
		{ID: FixedVersionID, PlanEventID: PlanEventID, Name: "Board approved", Status: core.VersionFixed},
	} {
		if err := s.SavePlanVersion(ctx, v); err != nil {
			return false, fmt.Errorf("save demo version %s: %w", v.ID, err)
		}
	}
	for _, ev := range events() {
		if err := s.SaveAllocationEvent(ctx, ev); err != nil {
			return false, fmt.Errorf("save demo event %s: %w", ev.ID, err)
		}
	}

	// Amounts are cents, booked on the CORP department.
	amounts := map[string]int64{
		"RENT":       12_000_000,
		"IT":         4_500_033,
		"FACILITIES": 2_999_999,
		"MGMT":       1_000_000,
	}
	headcounts := map[string]int64{"SALES": 12, "OPS": 20, "RND": 9}
	floorSpace := map[string]string{"SALES": "310.5", "OPS": "820", "RND": "260.25"}

	if err := seedVersion(ctx, s, DraftVersionID, amounts, headcounts, floorSpace); err != nil {
		return false, err
	}
	return true, nil
}

func seedVersion(ctx context.Context, s Seeder, versionID string, amounts, headcounts map[string]int64, kpis map[string]string) error {
	for subject, amount := range amounts {
		if err := s.SetAmount(ctx, versionID, subject, "CORP", amount); err != nil {
			return fmt.Errorf("seed amount %s: %w", subject, err)
		}
	}
	for dep, hc := range headcounts {
		if err := s.SetHeadcount(ctx, versionID, dep, hc); err != nil {
			return fmt.Errorf("seed headcount %s: %w", dep, err)
		}
	}
	for dep, v := range kpis {
		if err := s.SetKPI(ctx, versionID, dep, "SQM", decimal.RequireFromString(v)); err != nil {
			return fmt.Errorf("seed kpi %s: %w", dep, err)
		}
	}
	return nil
}
