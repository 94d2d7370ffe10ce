package demo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planalloc/internal/core"
	"planalloc/internal/lock"
	"planalloc/internal/services"
	"planalloc/internal/storage/demo"
	"planalloc/internal/storage/memory"
)

func TestSeedIsIdempotent(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	seeded, err := demo.Seed(ctx, store)
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = demo.Seed(ctx, store)
	require.NoError(t, err)
	assert.False(t, seeded)

	v, err := store.GetPlanVersion(ctx, demo.PlanEventID, demo.FixedVersionID)
	require.NoError(t, err)
	assert.Equal(t, core.VersionFixed, v.Status)
}

func TestDemoPlanAllocates(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_, err := demo.Seed(ctx, store)
	require.NoError(t, err)

	svc := services.NewAllocationService(store, lock.NewLocal(), services.DefaultConfig())
	report, err := svc.ExecuteAllocation(ctx, services.ExecuteRequest{
		PlanEventID:   demo.PlanEventID,
		PlanVersionID: demo.DraftVersionID,
		EventIDs:      []string{"DEMO-MGMT", "DEMO-SHARED", "DEMO-RENT"},
		ExecutedBy:    "demo",
	})
	require.NoError(t, err)
	assert.Equal(t, core.ExecutionSuccess, report.Status)

	exec, err := store.GetResult(ctx, demo.PlanEventID, demo.DraftVersionID)
	require.NoError(t, err)
	require.Len(t, exec.Steps, 4)

	wantSource := []int64{12_000_000, 4_500_033, 2_999_999, 1_000_000}
	for i, step := range exec.Steps {
		assert.Equal(t, wantSource[i], step.SourceAmount, "step %s", step.StepID)
		assert.Equal(t, step.SourceAmount, step.TotalAllocated(), "step %s conserves its source", step.StepID)
	}

	rent := exec.Steps[0].Details
	assert.Equal(t, []int64{6_000_000, 3_600_000, 2_400_000},
		[]int64{rent[0].AllocatedAmount, rent[1].AllocatedAmount, rent[2].AllocatedAmount})
}
