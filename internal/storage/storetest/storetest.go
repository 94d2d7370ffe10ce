// Package storetest holds fixtures and a behaviour suite shared by every
// ports.Store implementation.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"planalloc/internal/core"
	"planalloc/internal/ports"
)

const (
	PlanEventID    = "PE-2026-B"
	DraftVersion   = "PE-2026-B-V1"
	SecondVersion  = "PE-2026-B-V2"
	FixedVersion   = "PE-2026-B-FINAL"
	ForecastPlanID = "PE-2026-F"
)

func Ratio(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// RentEvent splits OVERHEAD/HQ 60:40 onto ALLOC for D1 and D2.
func RentEvent() core.AllocationEvent {
	return core.AllocationEvent{
		ID: "EV-RENT", Name: "Rent", ScenarioType: core.ScenarioBudget, ExecutionOrder: 1, IsActive: true,
		Steps: []core.AllocationStep{{
			ID: "EV-RENT-1", EventID: "EV-RENT", StepNo: 1, Name: "Rent by fixed ratio",
			FromSubjectID: "OVERHEAD", FromDepartmentID: "HQ", ToSubjectID: "ALLOC",
			Driver: core.Driver{Type: core.DriverFixed},
			Targets: []core.StepTarget{
				{DepartmentID: "D1", Ratio: Ratio("0.6")},
				{DepartmentID: "D2", Ratio: Ratio("0.4")},
			},
		}},
	}
}

// ITEvent splits IT/HQ by the ALLOC balance, so it depends on RentEvent.
func ITEvent() core.AllocationEvent {
	return core.AllocationEvent{
		ID: "EV-IT", Name: "IT services", ScenarioType: core.ScenarioBudget, ExecutionOrder: 2, IsActive: true,
		Steps: []core.AllocationStep{{
			ID: "EV-IT-1", EventID: "EV-IT", StepNo: 1, Name: "IT by allocated overhead",
			FromSubjectID: "IT", FromDepartmentID: "HQ", ToSubjectID: "IT_ALLOC",
			Driver:  core.Driver{Type: core.DriverSubjectAmount, ReferenceSubjectID: "ALLOC"},
			Targets: []core.StepTarget{{DepartmentID: "D1"}, {DepartmentID: "D2"}},
		}},
	}
}

// StaffEvent splits HR/HQ by headcount, D3 has nobody.
func StaffEvent() core.AllocationEvent {
	return core.AllocationEvent{
		ID: "EV-HR", Name: "HR", ScenarioType: core.ScenarioBudget, ExecutionOrder: 3, IsActive: true,
		Steps: []core.AllocationStep{
			{
				ID: "EV-HR-1", EventID: "EV-HR", StepNo: 1, Name: "HR by headcount",
				FromSubjectID: "HR", FromDepartmentID: "HQ", ToSubjectID: "HR_ALLOC",
				Driver:  core.Driver{Type: core.DriverHeadcount},
				Targets: []core.StepTarget{{DepartmentID: "D1"}, {DepartmentID: "D2"}, {DepartmentID: "D3"}},
			},
			{
				ID: "EV-HR-2", EventID: "EV-HR", StepNo: 2, Name: "Facilities by floor space",
				FromSubjectID: "FACILITIES", FromDepartmentID: "HQ", ToSubjectID: "FAC_ALLOC",
				Driver:  core.Driver{Type: core.DriverKPI, KPICode: "SQM"},
				Targets: []core.StepTarget{{DepartmentID: "D1"}, {DepartmentID: "D2"}, {DepartmentID: "D3"}},
			},
		},
	}
}

// InactiveEvent is never selectable.
func InactiveEvent() core.AllocationEvent {
	ev := RentEvent()
	ev.ID, ev.Name, ev.IsActive = "EV-OLD", "Retired rent", false
	ev.Steps[0].ID, ev.Steps[0].EventID = "EV-OLD-1", "EV-OLD"
	return ev
}

// ForecastEvent belongs to the forecast scenario.
func ForecastEvent() core.AllocationEvent {
	ev := RentEvent()
	ev.ID, ev.Name, ev.ScenarioType = "EV-FC", "Forecast rent", core.ScenarioForecast
	ev.Steps[0].ID, ev.Steps[0].EventID = "EV-FC-1", "EV-FC"
	return ev
}

// Seed writes the fixture plan and allocation definitions.
func Seed(t testing.TB, s ports.MasterDataWriter, amounts ports.AmountWriter) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SavePlanEvent(ctx, core.PlanEvent{ID: PlanEventID, Name: "Budget 2026", FiscalYear: 2026, ScenarioType: core.ScenarioBudget}))
	require.NoError(t, s.SavePlanEvent(ctx, core.PlanEvent{ID: ForecastPlanID, Name: "Forecast 2026", FiscalYear: 2026, ScenarioType: core.ScenarioForecast}))
	for _, v := range []core.PlanVersion{
		{ID: DraftVersion, PlanEventID: PlanEventID, Name: "Draft", Status: core.VersionDraft},
		{ID: SecondVersion, PlanEventID: PlanEventID, Name: "Second draft", Status: core.VersionDraft},
		{ID: FixedVersion, PlanEventID: PlanEventID, Name: "Final", Status: core.VersionFixed},
	} {
		require.NoError(t, s.SavePlanVersion(ctx, v))
	}
	for _, ev := range []core.AllocationEvent{RentEvent(), ITEvent(), StaffEvent(), InactiveEvent(), ForecastEvent()} {
		require.NoError(t, s.SaveAllocationEvent(ctx, ev))
	}

	for _, v := range []string{DraftVersion, SecondVersion} {
		for cell, amount := range map[[2]string]int64{
			{"OVERHEAD", "HQ"}:   1000,
			{"IT", "HQ"}:         300,
			{"HR", "HQ"}:         777,
			{"FACILITIES", "HQ"}: 1001,
		} {
			require.NoError(t, amounts.SetAmount(ctx, v, cell[0], cell[1], amount))
		}
		require.NoError(t, s.SetHeadcount(ctx, v, "D1", 5))
		require.NoError(t, s.SetHeadcount(ctx, v, "D2", 2))
		require.NoError(t, s.SetHeadcount(ctx, v, "D3", 0))
		require.NoError(t, s.SetKPI(ctx, v, "D1", "SQM", decimal.RequireFromString("120.5")))
		require.NoError(t, s.SetKPI(ctx, v, "D2", "SQM", decimal.RequireFromString("79.5")))
	}
}

// Execution builds a small committed-looking execution for the pair.
func Execution(planVersionID string, amounts ...int64) core.AllocationExecution {
	exec := core.AllocationExecution{
		ExecutionID:   uuid.NewString(),
		PlanEventID:   PlanEventID,
		PlanVersionID: planVersionID,
		Status:        core.ExecutionSuccess,
		ExecutedBy:    "tester",
		ExecutedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	step := core.ExecutionStep{
		EventID: "EV-RENT", EventName: "Rent", ExecutionOrder: 1, StepID: "EV-RENT-1", StepNo: 1, StepName: "Rent",
		FromSubjectID: "OVERHEAD", FromDepartmentID: "HQ", DriverType: core.DriverFixed,
	}
	for _, a := range amounts {
		step.SourceAmount += a
	}
	for i, a := range amounts {
		step.Details = append(step.Details, core.AllocationDetail{
			ToDepartmentID:  fmt.Sprintf("D%d", i+1),
			ToSubjectID:     "ALLOC",
			DriverType:      core.DriverFixed,
			Ratio:           decimal.NewFromInt(a).Div(decimal.NewFromInt(step.SourceAmount)),
			AllocatedAmount: a,
		})
	}
	exec.Steps = []core.ExecutionStep{step}
	return exec
}

// Run exercises a store created by newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) ports.Store) {
	t.Run("catalog round trip", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, s)
		ctx := context.Background()

		events, err := s.ListAllocationEvents(ctx)
		require.NoError(t, err)
		require.Len(t, events, 5)

		byID := map[string]core.AllocationEvent{}
		for _, ev := range events {
			byID[ev.ID] = ev
		}
		rent := byID["EV-RENT"]
		require.Len(t, rent.Steps, 1)
		require.Len(t, rent.Steps[0].Targets, 2)
		assert.Equal(t, "D1", rent.Steps[0].Targets[0].DepartmentID)
		require.NotNil(t, rent.Steps[0].Targets[0].Ratio)
		assert.True(t, rent.Steps[0].Targets[0].Ratio.Equal(decimal.RequireFromString("0.6")))
		assert.Equal(t, "ALLOC", byID["EV-IT"].Steps[0].Driver.ReferenceSubjectID)
		assert.Equal(t, []int{1, 2}, []int{byID["EV-HR"].Steps[0].StepNo, byID["EV-HR"].Steps[1].StepNo})
		assert.False(t, byID["EV-OLD"].IsActive)
		assert.Equal(t, 1, events[0].ExecutionOrder)
	})

	t.Run("plan reads", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, s)
		ctx := context.Background()

		pe, err := s.GetPlanEvent(ctx, PlanEventID)
		require.NoError(t, err)
		assert.Equal(t, core.ScenarioBudget, pe.ScenarioType)

		_, err = s.GetPlanEvent(ctx, "nope")
		assert.ErrorIs(t, err, core.ErrPlanEventNotFound)

		v, err := s.GetPlanVersion(ctx, PlanEventID, FixedVersion)
		require.NoError(t, err)
		assert.Equal(t, core.VersionFixed, v.Status)

		_, err = s.GetPlanVersion(ctx, ForecastPlanID, DraftVersion)
		assert.ErrorIs(t, err, core.ErrVersionNotFound)

		data, err := s.LoadPlanData(ctx, DraftVersion)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), data.Amounts[core.CellKey{SubjectID: "OVERHEAD", DepartmentID: "HQ"}])
		assert.Equal(t, int64(5), data.Headcounts["D1"])
		assert.True(t, data.KPIs["SQM"]["D2"].Equal(decimal.RequireFromString("79.5")))
	})

	t.Run("replace supersedes and locks", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, s)
		ctx := context.Background()

		status, err := s.GetStatus(ctx, PlanEventID, DraftVersion)
		require.NoError(t, err)
		assert.False(t, status.HasResult)

		first := Execution(DraftVersion, 600, 400)
		id, err := s.ReplaceExecution(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, first.ExecutionID, id)

		status, err = s.GetStatus(ctx, PlanEventID, DraftVersion)
		require.NoError(t, err)
		assert.True(t, status.HasResult)
		assert.Equal(t, first.ExecutionID, status.ExecutionID)
		assert.Equal(t, core.ExecutionSuccess, status.Status)
		require.NotNil(t, status.ExecutedAt)
		assert.True(t, first.ExecutedAt.Equal(*status.ExecutedAt))

		got, err := s.GetResult(ctx, PlanEventID, DraftVersion)
		require.NoError(t, err)
		assert.Equal(t, first.ExecutionID, got.ExecutionID)
		require.Len(t, got.Steps, 1)
		assert.Equal(t, []int64{600, 400}, []int64{got.Steps[0].Details[0].AllocatedAmount, got.Steps[0].Details[1].AllocatedAmount})
		assert.True(t, got.Steps[0].Details[0].Ratio.Equal(decimal.RequireFromString("0.6")))

		locked, err := s.IsLocked(ctx, DraftVersion)
		require.NoError(t, err)
		assert.True(t, locked)
		assert.ErrorIs(t, s.SetAmount(ctx, DraftVersion, "OVERHEAD", "HQ", 5), core.ErrVersionLocked)

		second := Execution(DraftVersion, 1, 2, 3)
		second.ExecutedAt = first.ExecutedAt.Add(time.Second)
		_, err = s.ReplaceExecution(ctx, second)
		require.NoError(t, err)

		_, err = s.GetExecution(ctx, first.ExecutionID)
		assert.ErrorIs(t, err, core.ErrResultNotFound)
		got, err = s.GetExecution(ctx, second.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.DetailCount())

		require.NoError(t, s.Unlock(ctx, DraftVersion))
		locked, err = s.IsLocked(ctx, DraftVersion)
		require.NoError(t, err)
		assert.False(t, locked)
		require.NoError(t, s.SetAmount(ctx, DraftVersion, "OVERHEAD", "HQ", 5))
	})

	t.Run("latest result without version", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, s)
		ctx := context.Background()

		_, err := s.GetResult(ctx, PlanEventID, "")
		assert.ErrorIs(t, err, core.ErrResultNotFound)

		older := Execution(DraftVersion, 10)
		newer := Execution(SecondVersion, 20)
		newer.ExecutedAt = older.ExecutedAt.Add(time.Minute)
		_, err = s.ReplaceExecution(ctx, newer)
		require.NoError(t, err)
		_, err = s.ReplaceExecution(ctx, older)
		require.NoError(t, err)

		got, err := s.GetResult(ctx, PlanEventID, "")
		require.NoError(t, err)
		assert.Equal(t, newer.ExecutionID, got.ExecutionID)
	})

	t.Run("failed replace keeps previous execution", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, s)
		ctx := context.Background()

		kept := Execution(DraftVersion, 600, 400)
		_, err := s.ReplaceExecution(ctx, kept)
		require.NoError(t, err)
		other := Execution(SecondVersion, 7)
		_, err = s.ReplaceExecution(ctx, other)
		require.NoError(t, err)

		// Reusing another pair's execution id fails after the old tree was removed.
		clash := Execution(DraftVersion, 1)
		clash.ExecutionID = other.ExecutionID
		_, err = s.ReplaceExecution(ctx, clash)
		require.Error(t, err)

		got, err := s.GetResult(ctx, PlanEventID, DraftVersion)
		require.NoError(t, err)
		assert.Equal(t, kept.ExecutionID, got.ExecutionID)
		assert.Equal(t, int64(1000), got.Steps[0].TotalAllocated())
	})

	t.Run("gate on missing version", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.IsLocked(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrVersionNotFound)
		assert.ErrorIs(t, s.Lock(ctx, "missing", "x"), core.ErrVersionNotFound)
		assert.ErrorIs(t, s.SetAmount(ctx, "missing", "A", "B", 1), core.ErrVersionNotFound)
	})

	t.Run("fixed version rejects edits", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, s)
		assert.ErrorIs(t, s.SetAmount(context.Background(), FixedVersion, "OVERHEAD", "HQ", 1), core.ErrVersionFixed)
	})

	t.Run("export tracking", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, s)
		ctx := context.Background()

		a := Execution(DraftVersion, 1)
		b := Execution(SecondVersion, 2)
		_, err := s.ReplaceExecution(ctx, a)
		require.NoError(t, err)
		_, err = s.ReplaceExecution(ctx, b)
		require.NoError(t, err)

		pending, err := s.PendingExports(ctx, 10)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a.ExecutionID, b.ExecutionID}, pending)

		require.NoError(t, s.MarkExported(ctx, a.ExecutionID))
		require.NoError(t, s.MarkExportFailed(ctx, b.ExecutionID, fmt.Errorf("sheet unavailable")))

		pending, err = s.PendingExports(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{b.ExecutionID}, pending)
	})

	t.Run("readers never see a partial tree", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, s)
		ctx := context.Background()

		_, err := s.ReplaceExecution(ctx, Execution(DraftVersion, 500, 500))
		require.NoError(t, err)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			for i := 0; i < 20; i++ {
				if _, err := s.ReplaceExecution(gctx, Execution(DraftVersion, 250, 250, 250, 250)); err != nil {
					return err
				}
				if _, err := s.ReplaceExecution(gctx, Execution(DraftVersion, 500, 500)); err != nil {
					return err
				}
			}
			return nil
		})
		for r := 0; r < 3; r++ {
			g.Go(func() error {
				for i := 0; i < 40; i++ {
					got, err := s.GetResult(gctx, PlanEventID, DraftVersion)
					if err != nil {
						return err
					}
					n := got.DetailCount()
					if (n != 2 && n != 4) || got.Steps[0].TotalAllocated() != 1000 {
						return fmt.Errorf("observed partial execution: %d details", n)
					}
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
	})
}
