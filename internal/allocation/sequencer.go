package allocation

import (
	"sort"

	"planalloc/internal/core"
)

// PlannedStep is one unit of work of a run.
type PlannedStep struct {
	Event core.AllocationEvent
	Step  core.AllocationStep
}

// Plan is the ordered work of a run. Events keeps the selected events in run
// order, including events without steps.
type Plan struct {
	Events []core.AllocationEvent
	Steps  []PlannedStep
}

// ApplicableTo reports whether an allocation event may run against a plan event.
func ApplicableTo(ev core.AllocationEvent, planEvent core.PlanEvent) bool {
	return ev.ScenarioType == planEvent.ScenarioType
}

// SortEvents orders events by execution order, ties by id.
func SortEvents(events []core.AllocationEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].ExecutionOrder != events[j].ExecutionOrder {
			return events[i].ExecutionOrder < events[j].ExecutionOrder
		}
		return events[i].ID < events[j].ID
	})
}

// BuildPlan validates the selection against the catalog and returns the steps
// sorted by (executionOrder, event id, stepNo). The caller's order of
// selectedIDs is irrelevant and duplicates collapse.
func BuildPlan(planEvent core.PlanEvent, catalog []core.AllocationEvent, selectedIDs []string) (Plan, error) {
	if len(selectedIDs) == 0 {
		return Plan{}, core.NewError(core.CodeNoEventsSelected, "select at least one allocation event")
	}
	byID := make(map[string]core.AllocationEvent, len(catalog))
	for _, ev := range catalog {
		byID[ev.ID] = ev
	}

	seen := make(map[string]struct{}, len(selectedIDs))
	events := make([]core.AllocationEvent, 0, len(selectedIDs))
	for _, id := range selectedIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		ev, ok := byID[id]
		if !ok {
			return Plan{}, &core.AllocationError{Code: core.CodeEventNotFound, EventID: id, Message: "unknown allocation event"}
		}
		if !ev.IsActive {
			return Plan{}, &core.AllocationError{Code: core.CodeEventInactive, EventID: ev.ID, EventName: ev.Name, Message: "allocation event is inactive"}
		}
		if !ApplicableTo(ev, planEvent) {
			return Plan{}, &core.AllocationError{
				Code:      core.CodeScenarioMismatch,
				EventID:   ev.ID,
				EventName: ev.Name,
				Message:   "event scenario " + string(ev.ScenarioType) + " does not match plan scenario " + string(planEvent.ScenarioType),
			}
		}
		events = append(events, ev)
	}

	SortEvents(events)

	var p Plan
	p.Events = events
	for _, ev := range events {
		steps := append([]core.AllocationStep(nil), ev.Steps...)
		sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepNo < steps[j].StepNo })
		for _, s := range steps {
			p.Steps = append(p.Steps, PlannedStep{Event: ev, Step: s})
		}
	}
	return p, nil
}

// RunStep resolves weights, splits the current source balance and posts the
// result to the ledger. Errors are located on the step.
func RunStep(ps PlannedStep, ledger *Ledger, in DriverInputs) (core.ExecutionStep, error) {
	if in.Amounts == nil {
		in.Amounts = ledger
	}
	step := ps.Step
	source := ledger.Balance(step.FromSubjectID, step.FromDepartmentID)

	weights, err := ResolveWeights(step, in)
	if err != nil {
		return core.ExecutionStep{}, locate(err, ps)
	}
	details, err := Execute(step, source, weights)
	if err != nil {
		return core.ExecutionStep{}, locate(err, ps)
	}

	es := core.ExecutionStep{
		EventID:          ps.Event.ID,
		EventName:        ps.Event.Name,
		ExecutionOrder:   ps.Event.ExecutionOrder,
		StepID:           step.ID,
		StepNo:           step.StepNo,
		StepName:         step.Name,
		FromSubjectID:    step.FromSubjectID,
		FromDepartmentID: step.FromDepartmentID,
		SourceAmount:     source,
		DriverType:       step.Driver.Type,
		Details:          details,
	}
	ledger.ApplyStep(es)
	return es, nil
}

func locate(err error, ps PlannedStep) error {
	if ae, ok := err.(*core.AllocationError); ok {
		return ae.AtStep(ps.Event.ID, ps.Event.Name, ps.Step.StepNo)
	}
	return err
}
