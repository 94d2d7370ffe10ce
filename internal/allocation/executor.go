package allocation

import (
	"sort"

	"github.com/shopspring/decimal"

	"planalloc/internal/core"
)

type share struct {
	idx       int
	target    string
	weight    decimal.Decimal
	amount    int64
	remainder decimal.Decimal
}

// Execute splits sourceAmount across the step targets by weight.
//
// Every provisional share is truncated to whole minor units; the residual is
// handed out one unit at a time by largest fractional remainder, ties going to
// the lower target id. The details always sum to sourceAmount exactly and are
// returned in the step's target order.
func Execute(step core.AllocationStep, sourceAmount int64, weights Weights) ([]core.AllocationDetail, error) {
	targets, err := targetIDs(step)
	if err != nil {
		return nil, err
	}

	sign := int64(1)
	abs := sourceAmount
	if abs < 0 {
		sign, abs = -1, -abs
	}
	total := decimal.NewFromInt(abs)

	shares := make([]*share, len(targets))
	var assigned int64
	for i, id := range targets {
		w, ok := weights[id]
		if !ok {
			return nil, core.NewError(core.CodeDriverDataMissing, "no weight resolved for department %q", id)
		}
		if w.IsNegative() {
			return nil, core.NewError(core.CodeDriverNegativeWeight, "weight of %q is negative", id)
		}
		prov := total.Mul(w)
		whole := prov.Truncate(0)
		shares[i] = &share{idx: i, target: id, weight: w, amount: whole.IntPart(), remainder: prov.Sub(whole)}
		assigned += shares[i].amount
	}

	if residual := abs - assigned; residual != 0 {
		if err := distributeResidual(shares, residual); err != nil {
			return nil, err
		}
	}

	details := make([]core.AllocationDetail, len(shares))
	for _, s := range shares {
		details[s.idx] = core.AllocationDetail{
			ToDepartmentID:  s.target,
			ToSubjectID:     step.ToSubjectID,
			DriverType:      step.Driver.Type,
			Ratio:           s.weight,
			AllocatedAmount: sign * s.amount,
		}
	}
	return details, nil
}

// distributeResidual hands out (or, when weights overshoot one within the
// ratio tolerance, takes back) single units. Only targets with a positive
// weight take part, so zero-weight targets always end at zero.
func distributeResidual(shares []*share, residual int64) error {
	eligible := make([]*share, 0, len(shares))
	for _, s := range shares {
		if s.weight.IsPositive() {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return core.NewError(core.CodeDriverTotalZero, "no target has a positive weight")
	}

	if residual > 0 {
		sort.SliceStable(eligible, func(i, j int) bool {
			if c := eligible[i].remainder.Cmp(eligible[j].remainder); c != 0 {
				return c > 0
			}
			return eligible[i].target < eligible[j].target
		})
		for i := int64(0); i < residual; i++ {
			eligible[i%int64(len(eligible))].amount++
		}
		return nil
	}

	// Overshoot: take units back from the smallest remainders, never below zero.
	sort.SliceStable(eligible, func(i, j int) bool {
		if c := eligible[i].remainder.Cmp(eligible[j].remainder); c != 0 {
			return c < 0
		}
		return eligible[i].target > eligible[j].target
	})
	for need := -residual; need > 0; {
		progressed := false
		for _, s := range eligible {
			if need == 0 {
				break
			}
			if s.amount > 0 {
				s.amount--
				need--
				progressed = true
			}
		}
		if !progressed {
			return core.NewError(core.CodeDriverRatioMismatch, "weights overshoot the source amount")
		}
	}
	return nil
}
