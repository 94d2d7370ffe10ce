package allocation

import (
	"errors"

	"github.com/shopspring/decimal"

	"planalloc/internal/core"
)

// RatioEpsilon is the tolerance used when checking that ratios sum to one.
var RatioEpsilon = decimal.New(1, -9)

// weightPlaces is the precision of normalized weights.
const weightPlaces = 18

var errDivisionByZero = errors.New("division by zero")

// Weights maps a target department to its normalized weight.
type Weights map[string]decimal.Decimal

// Sum adds up all weights.
func (w Weights) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, v := range w {
		total = total.Add(v)
	}
	return total
}

// AmountReader exposes the current balance of a plan cell.
type AmountReader interface {
	Balance(subjectID, departmentID string) int64
}

// DriverInputs is the data a resolver may consult.
type DriverInputs struct {
	Amounts    AmountReader
	Headcounts map[string]int64
	KPIs       map[string]map[string]decimal.Decimal
}

type resolverFunc func(step core.AllocationStep, targets []string, in DriverInputs) (Weights, error)

var resolvers = map[core.DriverType]resolverFunc{
	core.DriverFixed:         resolveFixed,
	core.DriverHeadcount:     resolveHeadcount,
	core.DriverSubjectAmount: resolveSubjectAmount,
	core.DriverKPI:           resolveKPI,
}

// ResolveWeights returns one weight per target of the step. The weights are
// non-negative and sum to one within RatioEpsilon.
func ResolveWeights(step core.AllocationStep, in DriverInputs) (Weights, error) {
	targets, err := targetIDs(step)
	if err != nil {
		return nil, err
	}
	resolve, ok := resolvers[step.Driver.Type]
	if !ok {
		return nil, core.NewError(core.CodeDriverUnknown, "driver type %q is not supported", step.Driver.Type)
	}
	return resolve(step, targets, in)
}

func targetIDs(step core.AllocationStep) ([]string, error) {
	if len(step.Targets) == 0 {
		return nil, core.NewError(core.CodeStepHasNoTargets, "step %q has no target departments", step.ID)
	}
	ids := make([]string, 0, len(step.Targets))
	seen := make(map[string]struct{}, len(step.Targets))
	for _, t := range step.Targets {
		if t.DepartmentID == "" {
			return nil, core.NewError(core.CodeStepInvalid, "step %q has a target without department", step.ID)
		}
		if _, dup := seen[t.DepartmentID]; dup {
			return nil, core.NewError(core.CodeStepInvalid, "department %q is targeted twice", t.DepartmentID)
		}
		seen[t.DepartmentID] = struct{}{}
		ids = append(ids, t.DepartmentID)
	}
	return ids, nil
}

// FIXED ratios are taken as configured; a sum off by more than RatioEpsilon
// is rejected rather than normalized.
func resolveFixed(step core.AllocationStep, _ []string, _ DriverInputs) (Weights, error) {
	w := make(Weights, len(step.Targets))
	for _, t := range step.Targets {
		if t.Ratio == nil {
			return nil, core.NewError(core.CodeDriverRatioMismatch, "department %q has no fixed ratio", t.DepartmentID)
		}
		if t.Ratio.IsNegative() {
			return nil, core.NewError(core.CodeDriverNegativeWeight, "department %q has ratio %s", t.DepartmentID, t.Ratio)
		}
		w[t.DepartmentID] = *t.Ratio
	}
	sum := w.Sum()
	if sum.IsZero() {
		return nil, core.NewError(core.CodeDriverTotalZero, "fixed ratios sum to zero")
	}
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(RatioEpsilon) {
		return nil, core.NewError(core.CodeDriverRatioMismatch, "fixed ratios sum to %s, expected 1", sum)
	}
	return w, nil
}

func resolveHeadcount(_ core.AllocationStep, targets []string, in DriverInputs) (Weights, error) {
	values := make(map[string]decimal.Decimal, len(targets))
	for _, id := range targets {
		values[id] = decimal.NewFromInt(in.Headcounts[id])
	}
	return normalize(targets, values, "headcount")
}

// SUBJECT_AMOUNT reads the ledger, so amounts posted by earlier steps of the
// same run shift the weights.
func resolveSubjectAmount(step core.AllocationStep, targets []string, in DriverInputs) (Weights, error) {
	ref := step.Driver.ReferenceSubjectID
	if ref == "" {
		return nil, core.NewError(core.CodeDriverDataMissing, "no reference subject configured")
	}
	if in.Amounts == nil {
		return nil, core.NewError(core.CodeDriverDataMissing, "no plan amounts available")
	}
	values := make(map[string]decimal.Decimal, len(targets))
	for _, id := range targets {
		values[id] = decimal.NewFromInt(in.Amounts.Balance(ref, id))
	}
	return normalize(targets, values, "subject "+ref)
}

// Missing KPI values count as zero unless every candidate is missing.
func resolveKPI(step core.AllocationStep, targets []string, in DriverInputs) (Weights, error) {
	code := step.Driver.KPICode
	if code == "" {
		return nil, core.NewError(core.CodeDriverDataMissing, "no KPI code configured")
	}
	byDept := in.KPIs[code]
	values := make(map[string]decimal.Decimal, len(targets))
	found := 0
	for _, id := range targets {
		v, ok := byDept[id]
		if !ok {
			values[id] = decimal.Zero
			continue
		}
		found++
		values[id] = v
	}
	if found == 0 {
		return nil, core.NewError(core.CodeDriverDataMissing, "KPI %q has no value for any target", code)
	}
	return normalize(targets, values, "KPI "+code)
}

func normalize(targets []string, values map[string]decimal.Decimal, what string) (Weights, error) {
	total := decimal.Zero
	for _, id := range targets {
		v := values[id]
		if v.IsNegative() {
			return nil, core.NewError(core.CodeDriverNegativeWeight, "%s of %q is negative (%s)", what, id, v)
		}
		total = total.Add(v)
	}
	w := make(Weights, len(targets))
	for _, id := range targets {
		r, err := divide(values[id], total)
		if err != nil {
			return nil, core.NewError(core.CodeDriverTotalZero, "%s total is zero across %d targets", what, len(targets))
		}
		w[id] = r
	}
	return w, nil
}

func divide(num, den decimal.Decimal) (decimal.Decimal, error) {
	if den.IsZero() {
		return decimal.Zero, errDivisionByZero
	}
	return num.DivRound(den, weightPlaces), nil
}
