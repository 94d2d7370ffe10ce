// Package allocation holds the pure allocation engine: weight resolution,
// residual-exact splitting and deterministic sequencing of steps.
//
// Nothing in this package blocks or touches storage. Plan data is loaded by
// the caller and handed in; amounts moved by earlier steps of the same run are
// visible to later steps through a Ledger.
package allocation

import "planalloc/internal/core"

// Ledger is a snapshot of the amount cells of one plan version with
// write-through of the postings made during a single run. It is not safe for
// concurrent use and must not outlive the run that created it.
type Ledger struct {
	base  map[core.CellKey]int64
	delta map[core.CellKey]int64
}

// NewLedger copies amounts so later changes to the source map are not seen.
func NewLedger(amounts map[core.CellKey]int64) *Ledger {
	base := make(map[core.CellKey]int64, len(amounts))
	for k, v := range amounts {
		base[k] = v
	}
	return &Ledger{base: base, delta: make(map[core.CellKey]int64)}
}

// Balance returns the current amount of a cell, including postings of this run.
func (l *Ledger) Balance(subjectID, departmentID string) int64 {
	k := core.CellKey{SubjectID: subjectID, DepartmentID: departmentID}
	return l.base[k] + l.delta[k]
}

// Post adds amount to a cell.
func (l *Ledger) Post(subjectID, departmentID string, amount int64) {
	if amount == 0 {
		return
	}
	l.delta[core.CellKey{SubjectID: subjectID, DepartmentID: departmentID}] += amount
}

// Changes returns the net postings of the run, zero entries removed.
func (l *Ledger) Changes() map[core.CellKey]int64 {
	out := make(map[core.CellKey]int64, len(l.delta))
	for k, v := range l.delta {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

// ApplyStep moves the step's source amount out of the source cell and books
// each detail on its target cell.
func (l *Ledger) ApplyStep(step core.ExecutionStep) {
	l.Post(step.FromSubjectID, step.FromDepartmentID, -step.SourceAmount)
	for _, d := range step.Details {
		l.Post(d.ToSubjectID, d.ToDepartmentID, d.AllocatedAmount)
	}
}
