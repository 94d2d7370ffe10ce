// Package memory is an in-process ports.Store for local runs and tests.
// Everything lives behind one mutex; values are copied in and out so callers
// never share slices with the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"planalloc/internal/core"
)

// MaxExportAttempts mirrors the SQLite repository.
const MaxExportAttempts = 5

type exportState struct {
	status    string
	attempts  int
	lastError string
	updatedAt time.Time
}

type Store struct {
	mu         sync.RWMutex
	planEvents map[string]core.PlanEvent
	versions   map[string]core.PlanVersion
	amounts    map[string]map[core.CellKey]int64
	headcounts map[string]map[string]int64
	kpis       map[string]map[string]map[string]decimal.Decimal
	events     map[string]core.AllocationEvent
	executions map[string]core.AllocationExecution
	// byPair maps planEventID|planVersionID to the current execution id.
	byPair  map[string]string
	exports map[string]*exportState
	now     func() time.Time
}

func New() *Store {
	return &Store{
		planEvents: make(map[string]core.PlanEvent),
		versions:   make(map[string]core.PlanVersion),
		amounts:    make(map[string]map[core.CellKey]int64),
		headcounts: make(map[string]map[string]int64),
		kpis:       make(map[string]map[string]map[string]decimal.Decimal),
		events:     make(map[string]core.AllocationEvent),
		executions: make(map[string]core.AllocationExecution),
		byPair:     make(map[string]string),
		exports:    make(map[string]*exportState),
		now:        time.Now,
	}
}

func pairKey(planEventID, planVersionID string) string {
	return planEventID + "|" + planVersionID
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) GetPlanEvent(_ context.Context, planEventID string) (core.PlanEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pe, ok := s.planEvents[planEventID]
	if !ok {
		return core.PlanEvent{}, core.NewError(core.CodePlanEventNotFound, "plan event %q does not exist", planEventID)
	}
	return pe, nil
}

func (s *Store) GetPlanVersion(_ context.Context, planEventID, planVersionID string) (core.PlanVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[planVersionID]
	if !ok || v.PlanEventID != planEventID {
		return core.PlanVersion{}, core.NewError(core.CodeVersionNotFound, "plan version %q does not exist in plan event %q", planVersionID, planEventID)
	}
	return v, nil
}

func (s *Store) LoadPlanData(_ context.Context, planVersionID string) (core.PlanData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := core.NewPlanData()
	for k, v := range s.amounts[planVersionID] {
		data.Amounts[k] = v
	}
	for k, v := range s.headcounts[planVersionID] {
		data.Headcounts[k] = v
	}
	for code, byDept := range s.kpis[planVersionID] {
		data.KPIs[code] = make(map[string]decimal.Decimal, len(byDept))
		for d, v := range byDept {
			data.KPIs[code][d] = v
		}
	}
	return data, nil
}

func (s *Store) ListAllocationEvents(context.Context) ([]core.AllocationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.AllocationEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, cloneEvent(ev))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExecutionOrder != out[j].ExecutionOrder {
			return out[i].ExecutionOrder < out[j].ExecutionOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ReplaceExecution validates everything before touching state, so a failed
// replace leaves the previous execution in place.
func (s *Store) ReplaceExecution(_ context.Context, exec core.AllocationExecution) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[exec.PlanVersionID]
	if !ok {
		return "", core.NewError(core.CodeVersionNotFound, "plan version %q does not exist", exec.PlanVersionID)
	}
	key := pairKey(exec.PlanEventID, exec.PlanVersionID)
	prev, hasPrev := s.byPair[key]
	if existing, taken := s.executions[exec.ExecutionID]; taken && existing.ExecutionID != prev {
		return "", fmt.Errorf("insert execution: id %s already used", exec.ExecutionID)
	}

	if hasPrev {
		delete(s.executions, prev)
		delete(s.exports, prev)
	}
	s.executions[exec.ExecutionID] = exec.Clone()
	s.byPair[key] = exec.ExecutionID
	s.exports[exec.ExecutionID] = &exportState{status: "pending", updatedAt: s.now()}

	v.Locked = true
	v.LockedByExecution = exec.ExecutionID
	v.LockedAt = exec.ExecutedAt
	s.versions[v.ID] = v
	return exec.ExecutionID, nil
}

func (s *Store) GetStatus(_ context.Context, planEventID, planVersionID string) (core.ExecutionStatusView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPair[pairKey(planEventID, planVersionID)]
	if !ok {
		return core.ExecutionStatusView{}, nil
	}
	exec := s.executions[id]
	at := exec.ExecutedAt
	return core.ExecutionStatusView{HasResult: true, ExecutionID: id, ExecutedAt: &at, Status: exec.Status}, nil
}

func (s *Store) GetResult(_ context.Context, planEventID, planVersionID string) (core.AllocationExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if planVersionID != "" {
		id, ok := s.byPair[pairKey(planEventID, planVersionID)]
		if !ok {
			return core.AllocationExecution{}, core.NewError(core.CodeResultNotFound, "no allocation result for plan event %q", planEventID)
		}
		return s.executions[id].Clone(), nil
	}

	var latest *core.AllocationExecution
	for _, exec := range s.executions {
		if exec.PlanEventID != planEventID {
			continue
		}
		if latest == nil || exec.ExecutedAt.After(latest.ExecutedAt) ||
			(exec.ExecutedAt.Equal(latest.ExecutedAt) && exec.ExecutionID > latest.ExecutionID) {
			e := exec
			latest = &e
		}
	}
	if latest == nil {
		return core.AllocationExecution{}, core.NewError(core.CodeResultNotFound, "no allocation result for plan event %q", planEventID)
	}
	return latest.Clone(), nil
}

func (s *Store) GetExecution(_ context.Context, executionID string) (core.AllocationExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return core.AllocationExecution{}, core.NewError(core.CodeResultNotFound, "execution %q does not exist", executionID)
	}
	return exec.Clone(), nil
}

func (s *Store) IsLocked(_ context.Context, planVersionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[planVersionID]
	if !ok {
		return false, core.NewError(core.CodeVersionNotFound, "plan version %q does not exist", planVersionID)
	}
	return v.Locked, nil
}

func (s *Store) Lock(_ context.Context, planVersionID, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[planVersionID]
	if !ok {
		return core.NewError(core.CodeVersionNotFound, "plan version %q does not exist", planVersionID)
	}
	v.Locked, v.LockedByExecution, v.LockedAt = true, executionID, s.now()
	s.versions[planVersionID] = v
	return nil
}

func (s *Store) Unlock(_ context.Context, planVersionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[planVersionID]
	if !ok {
		return core.NewError(core.CodeVersionNotFound, "plan version %q does not exist", planVersionID)
	}
	v.Locked, v.LockedByExecution, v.LockedAt = false, "", time.Time{}
	s.versions[planVersionID] = v
	return nil
}

func (s *Store) SetAmount(_ context.Context, planVersionID, subjectID, departmentID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[planVersionID]
	if !ok {
		return core.NewError(core.CodeVersionNotFound, "plan version %q does not exist", planVersionID)
	}
	if v.Status == core.VersionFixed {
		return core.NewError(core.CodeVersionFixed, "plan version %q is fixed", planVersionID)
	}
	if v.Locked {
		return core.NewError(core.CodeVersionLocked, "plan version %q is locked by execution %s", planVersionID, v.LockedByExecution)
	}
	if s.amounts[planVersionID] == nil {
		s.amounts[planVersionID] = make(map[core.CellKey]int64)
	}
	s.amounts[planVersionID][core.CellKey{SubjectID: subjectID, DepartmentID: departmentID}] = amount
	return nil
}

func (s *Store) SavePlanEvent(_ context.Context, pe core.PlanEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planEvents[pe.ID] = pe
	return nil
}

// SavePlanVersion keeps the lock fields of an existing version.
func (s *Store) SavePlanVersion(_ context.Context, v core.PlanVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.Status == "" {
		v.Status = core.VersionDraft
	}
	if old, ok := s.versions[v.ID]; ok {
		v.Locked, v.LockedByExecution, v.LockedAt = old.Locked, old.LockedByExecution, old.LockedAt
	} else {
		v.Locked, v.LockedByExecution, v.LockedAt = false, "", time.Time{}
	}
	s.versions[v.ID] = v
	return nil
}

func (s *Store) SaveAllocationEvent(_ context.Context, ev core.AllocationEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("validate allocation event %s: %w", ev.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev = cloneEvent(ev)
	sort.SliceStable(ev.Steps, func(i, j int) bool { return ev.Steps[i].StepNo < ev.Steps[j].StepNo })
	for i := range ev.Steps {
		ev.Steps[i].EventID = ev.ID
	}
	s.events[ev.ID] = ev
	return nil
}

func (s *Store) SetHeadcount(_ context.Context, planVersionID, departmentID string, headcount int64) error {
	if headcount < 0 {
		return fmt.Errorf("set headcount: negative headcount %d", headcount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headcounts[planVersionID] == nil {
		s.headcounts[planVersionID] = make(map[string]int64)
	}
	s.headcounts[planVersionID][departmentID] = headcount
	return nil
}

func (s *Store) SetKPI(_ context.Context, planVersionID, departmentID, kpiCode string, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kpis[planVersionID] == nil {
		s.kpis[planVersionID] = make(map[string]map[string]decimal.Decimal)
	}
	if s.kpis[planVersionID][kpiCode] == nil {
		s.kpis[planVersionID][kpiCode] = make(map[string]decimal.Decimal)
	}
	s.kpis[planVersionID][kpiCode][departmentID] = value
	return nil
}

func (s *Store) PendingExports(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type pending struct {
		id string
		at time.Time
	}
	var list []pending
	for id, st := range s.exports {
		if st.status != "exported" && st.attempts < MaxExportAttempts {
			list = append(list, pending{id: id, at: st.updatedAt})
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].at.Equal(list[j].at) {
			return list[i].at.Before(list[j].at)
		}
		return list[i].id < list[j].id
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	ids := make([]string, len(list))
	for i, p := range list {
		ids[i] = p.id
	}
	return ids, nil
}

func (s *Store) MarkExported(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.exports[executionID]; ok {
		st.status, st.lastError, st.updatedAt = "exported", "", s.now()
		st.attempts++
	}
	return nil
}

func (s *Store) MarkExportFailed(_ context.Context, executionID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.exports[executionID]; ok {
		st.status, st.updatedAt = "error", s.now()
		st.attempts++
		if cause != nil {
			st.lastError = cause.Error()
		}
	}
	return nil
}

func cloneEvent(ev core.AllocationEvent) core.AllocationEvent {
	out := ev
	out.Steps = make([]core.AllocationStep, len(ev.Steps))
	for i, st := range ev.Steps {
		out.Steps[i] = st
		out.Steps[i].Targets = make([]core.StepTarget, len(st.Targets))
		for j, t := range st.Targets {
			out.Steps[i].Targets[j] = core.StepTarget{DepartmentID: t.DepartmentID}
			if t.Ratio != nil {
				r := *t.Ratio
				out.Steps[i].Targets[j].Ratio = &r
			}
		}
	}
	return out
}
