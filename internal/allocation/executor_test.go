package allocation

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planalloc/internal/core"
)

func ratio(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func fixedStep(ratios map[string]string, order ...string) core.AllocationStep {
	step := core.AllocationStep{
		ID:               "S1",
		StepNo:           1,
		FromSubjectID:    "OVERHEAD",
		FromDepartmentID: "HQ",
		ToSubjectID:      "ALLOC",
		Driver:           core.Driver{Type: core.DriverFixed},
	}
	for _, id := range order {
		step.Targets = append(step.Targets, core.StepTarget{DepartmentID: id, Ratio: ratio(ratios[id])})
	}
	return step
}

func sumDetails(details []core.AllocationDetail) int64 {
	var total int64
	for _, d := range details {
		total += d.AllocatedAmount
	}
	return total
}

func amounts(details []core.AllocationDetail) []int64 {
	out := make([]int64, len(details))
	for i, d := range details {
		out[i] = d.AllocatedAmount
	}
	return out
}

func TestExecute_FixedSixtyForty(t *testing.T) {
	step := fixedStep(map[string]string{"T1": "0.6", "T2": "0.4"}, "T1", "T2")
	w, err := ResolveWeights(step, DriverInputs{})
	require.NoError(t, err)

	details, err := Execute(step, 1000, w)
	require.NoError(t, err)
	require.Len(t, details, 2)

	assert.Equal(t, "T1", details[0].ToDepartmentID)
	assert.Equal(t, int64(600), details[0].AllocatedAmount)
	assert.Equal(t, "T2", details[1].ToDepartmentID)
	assert.Equal(t, int64(400), details[1].AllocatedAmount)
	assert.Equal(t, "ALLOC", details[0].ToSubjectID)
	assert.Equal(t, core.DriverFixed, details[0].DriverType)
	assert.True(t, details[0].Ratio.Equal(decimal.RequireFromString("0.6")))
}

func TestExecute_UnevenRatiosConserve(t *testing.T) {
	step := fixedStep(map[string]string{"A": "0.333333", "B": "0.333333", "C": "0.333334"}, "A", "B", "C")
	w, err := ResolveWeights(step, DriverInputs{})
	require.NoError(t, err)

	for _, source := range []int64{1, 2, 7, 1001, 99999, 1234567891, -1001} {
		details, err := Execute(step, source, w)
		require.NoError(t, err)
		assert.Equal(t, source, sumDetails(details), "source %d", source)
	}
}

func TestExecute_TiesBreakByTargetID(t *testing.T) {
	step := core.AllocationStep{
		ID: "S1", StepNo: 1, ToSubjectID: "ALLOC",
		Driver:  core.Driver{Type: core.DriverHeadcount},
		Targets: []core.StepTarget{{DepartmentID: "C"}, {DepartmentID: "B"}, {DepartmentID: "A"}},
	}
	w, err := ResolveWeights(step, DriverInputs{Headcounts: map[string]int64{"A": 1, "B": 1, "C": 1}})
	require.NoError(t, err)

	details, err := Execute(step, 100, w)
	require.NoError(t, err)
	// Target order is kept; the single residual unit goes to "A".
	assert.Equal(t, []int64{33, 33, 34}, amounts(details))

	details, err = Execute(step, 101, w)
	require.NoError(t, err)
	assert.Equal(t, []int64{33, 34, 34}, amounts(details))
}

func TestExecute_LargestRemainderWins(t *testing.T) {
	step := fixedStep(map[string]string{"A": "0.15", "B": "0.25", "C": "0.6"}, "A", "B", "C")
	w, err := ResolveWeights(step, DriverInputs{})
	require.NoError(t, err)

	// 7 * [0.15, 0.25, 0.6] = [1.05, 1.75, 4.2] -> [1, 1, 4] + 1 for B.
	details, err := Execute(step, 7, w)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 4}, amounts(details))
}

func TestExecute_ZeroSourceIsValid(t *testing.T) {
	step := fixedStep(map[string]string{"T1": "0.5", "T2": "0.5"}, "T1", "T2")
	w, err := ResolveWeights(step, DriverInputs{})
	require.NoError(t, err)

	details, err := Execute(step, 0, w)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0}, amounts(details))
}

func TestExecute_NegativeSourceMirrorsPositive(t *testing.T) {
	step := fixedStep(map[string]string{"T1": "0.6", "T2": "0.4"}, "T1", "T2")
	w, err := ResolveWeights(step, DriverInputs{})
	require.NoError(t, err)

	details, err := Execute(step, -1000, w)
	require.NoError(t, err)
	assert.Equal(t, []int64{-600, -400}, amounts(details))
}

func TestExecute_NoTargets(t *testing.T) {
	step := core.AllocationStep{ID: "S1", StepNo: 1, Driver: core.Driver{Type: core.DriverFixed}}
	_, err := Execute(step, 100, Weights{})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStepHasNoTargets)
}

func TestExecute_OvershootWithinToleranceConserves(t *testing.T) {
	step := fixedStep(map[string]string{"A": "0.5000000005", "B": "0.5"}, "A", "B")
	w, err := ResolveWeights(step, DriverInputs{})
	require.NoError(t, err)

	details, err := Execute(step, 1_000_000_000_000, w)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000_000), sumDetails(details))
}

func TestExecute_RandomWeightsConserve(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(12)
		step := core.AllocationStep{ID: "S", StepNo: 1, Driver: core.Driver{Type: core.DriverKPI, KPICode: "K"}}
		kpi := map[string]decimal.Decimal{}
		for j := 0; j < n; j++ {
			id := string(rune('a' + j))
			step.Targets = append(step.Targets, core.StepTarget{DepartmentID: id})
			kpi[id] = decimal.NewFromInt(int64(rng.Intn(1000)))
		}
		kpi["a"] = kpi["a"].Add(decimal.NewFromInt(1))

		w, err := ResolveWeights(step, DriverInputs{KPIs: map[string]map[string]decimal.Decimal{"K": kpi}})
		require.NoError(t, err)

		source := rng.Int63n(10_000_000) - 5_000_000
		details, err := Execute(step, source, w)
		require.NoError(t, err)
		require.Equal(t, source, sumDetails(details))

		ratios := decimal.Zero
		for _, d := range details {
			ratios = ratios.Add(d.Ratio)
			if d.Ratio.IsZero() {
				require.Zero(t, d.AllocatedAmount)
			}
		}
		require.True(t, ratios.Sub(decimal.NewFromInt(1)).Abs().LessThanOrEqual(RatioEpsilon))
	}
}

func TestExecute_Deterministic(t *testing.T) {
	step := fixedStep(map[string]string{"A": "0.2", "B": "0.3", "C": "0.5"}, "A", "B", "C")
	w, err := ResolveWeights(step, DriverInputs{})
	require.NoError(t, err)

	first, err := Execute(step, 98765, w)
	require.NoError(t, err)
	second, err := Execute(step, 98765, w)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
