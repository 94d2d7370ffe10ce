// Package services holds the allocation orchestrator: it validates a run,
// serializes it per plan version, executes the planned steps and commits
// the result atomically.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planalloc/internal/allocation"
	"planalloc/internal/cache"
	"planalloc/internal/core"
	"planalloc/internal/lock"
	"planalloc/internal/log"
	"planalloc/internal/metrics"
	"planalloc/internal/ports"
)

const (
	DefaultRunTimeout    = 2 * time.Minute
	DefaultCommitTimeout = 30 * time.Second
	unlockTimeout        = 5 * time.Second
)

// Repository is the storage the service needs.
type Repository interface {
	ports.PlanReader
	ports.EventCatalog
	ports.ResultStore
	ports.VersionLockGate
	ports.AmountWriter
}

// CompletionPublisher announces committed executions.
type CompletionPublisher interface {
	PublishAllocationCompleted(ctx context.Context, exec core.AllocationExecution) error
}

type Config struct {
	RunTimeout    time.Duration
	CommitTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{RunTimeout: DefaultRunTimeout, CommitTimeout: DefaultCommitTimeout}
}

// ExecuteRequest asks for one allocation run. EventIDs may come in any order.
type ExecuteRequest struct {
	PlanEventID   string   `json:"-"`
	PlanVersionID string   `json:"-"`
	EventIDs      []string `json:"eventIds"`
	ExecutedBy    string   `json:"executedBy"`
}

type Option func(*AllocationService)

// WithPublisher enables allocation.completed messages after each commit.
func WithPublisher(p CompletionPublisher) Option {
	return func(s *AllocationService) { s.publisher = p }
}

// WithResultCache caches result trees by execution id.
func WithResultCache(c cache.Cache[core.AllocationExecution]) Option {
	return func(s *AllocationService) { s.results = c }
}

func WithLogger(l *log.Logger) Option {
	return func(s *AllocationService) { s.logger = l }
}

// AllocationService orchestrates allocation runs across storage, the run lock and AMQP
type AllocationService struct {
	repo      Repository
	locker    lock.Locker
	publisher CompletionPublisher
	results   cache.Cache[core.AllocationExecution]
	cfg       Config
	logger    *log.Logger
	now       func() time.Time
	newID     func() string
}

func NewAllocationService(repo Repository, locker lock.Locker, cfg Config, opts ...Option) *AllocationService {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = DefaultCommitTimeout
	}
	s := &AllocationService{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.FromContext(context.Background()).WithComponent(log.ComponentAllocation)
	}
	return s
}

// ListAllocationEvents returns the events that can run against the plan
// event, ordered by execution order then id.
func (s *AllocationService) ListAllocationEvents(ctx context.Context, planEventID string) ([]core.AllocationEventSummary, error) {
	planEvent, err := s.repo.GetPlanEvent(ctx, planEventID)
	if err != nil {
		return nil, err
	}
	catalog, err := s.repo.ListAllocationEvents(ctx)
	if err != nil {
		return nil, core.WrapError(core.CodePersistence, err, "list allocation events")
	}
	applicable := make([]core.AllocationEvent, 0, len(catalog))
	for _, ev := range catalog {
		if allocation.ApplicableTo(ev, planEvent) {
			applicable = append(applicable, ev)
		}
	}
	allocation.SortEvents(applicable)

	out := make([]core.AllocationEventSummary, len(applicable))
	for i, ev := range applicable {
		out[i] = ev.Summary()
	}
	return out, nil
}

// ExecuteAllocation runs the selected events against a plan version.
// Selection and state errors come back with an empty report; failures
// during the run come back with the report describing the failing step.
func (s *AllocationService) ExecuteAllocation(ctx context.Context, req ExecuteRequest) (core.ExecutionReport, error) {
	started := s.now()
	report, err := s.execute(ctx, req)

	details := 0
	status := string(core.ExecutionFailed)
	if err == nil {
		status = string(core.ExecutionSuccess)
		for _, r := range report.PerEventResults {
			details += r.DetailCount
		}
	}
	metrics.ObserveRun(status, string(core.CodeOf(err)), s.now().Sub(started), details)
	return report, err
}

func (s *AllocationService) execute(ctx context.Context, req ExecuteRequest) (core.ExecutionReport, error) {
	if req.PlanEventID == "" || req.PlanVersionID == "" {
		return core.ExecutionReport{}, core.NewError(core.CodeInvalidRequest, "plan event and version are required")
	}
	logger := s.logger.ForRun(req.PlanEventID, req.PlanVersionID)
	run := newRunTracker(logger)

	planEvent, err := s.repo.GetPlanEvent(ctx, req.PlanEventID)
	if err != nil {
		return core.ExecutionReport{}, err
	}
	if err := s.checkRunnable(ctx, req); err != nil {
		return core.ExecutionReport{}, err
	}
	catalog, err := s.repo.ListAllocationEvents(ctx)
	if err != nil {
		return core.ExecutionReport{}, core.WrapError(core.CodePersistence, err, "list allocation events")
	}
	plan, err := allocation.BuildPlan(planEvent, catalog, req.EventIDs)
	if err != nil {
		return core.ExecutionReport{}, err
	}

	run.mustTo(ctx, StateLocking)
	handle, acquired, err := s.locker.TryLock(ctx, lock.AllocationKey(req.PlanEventID, req.PlanVersionID))
	if err != nil {
		run.mustTo(ctx, StateIdle)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.ExecutionReport{}, contextError(ctxErr)
		}
		return core.ExecutionReport{}, core.WrapError(core.CodePersistence, err, "acquire run lock")
	}
	if !acquired {
		run.mustTo(ctx, StateIdle)
		metrics.LockConflict()
		logger.WarnContext(ctx, "Allocation already running")
		return core.ExecutionReport{}, core.NewError(core.CodeAlreadyRunning,
			"an allocation for plan event %s version %s is already running", req.PlanEventID, req.PlanVersionID)
	}
	defer s.release(ctx, handle, logger)

	// The version may have been fixed between the first check and the lock.
	if err := s.checkRunnable(ctx, req); err != nil {
		run.mustTo(ctx, StateIdle)
		return core.ExecutionReport{}, err
	}
	data, err := s.repo.LoadPlanData(ctx, req.PlanVersionID)
	if err != nil {
		run.mustTo(ctx, StateIdle)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.ExecutionReport{}, contextError(ctxErr)
		}
		return core.ExecutionReport{}, core.WrapError(core.CodePersistence, err, "load plan data")
	}

	run.mustTo(ctx, StateRunning)
	logger.InfoContext(ctx, "Allocation run started", "events", len(plan.Events), "steps", len(plan.Steps))

	steps, runErr := s.runSteps(ctx, plan, data, logger)
	if runErr != nil {
		run.mustTo(ctx, StateRollingBack)
		ae := asAllocationError(runErr)
		logger.ErrorContext(ctx, "Allocation run rolled back",
			log.FieldErrorCode, string(ae.Code), log.FieldEventID, ae.EventID, log.FieldStepNo, ae.StepNo, log.FieldError, runErr)
		run.mustTo(ctx, StateIdle)
		return failureReport(req, plan, ae), ae
	}

	run.mustTo(ctx, StateCommitting)
	exec := core.AllocationExecution{
		ExecutionID:   s.newID(),
		PlanEventID:   req.PlanEventID,
		PlanVersionID: req.PlanVersionID,
		Status:        core.ExecutionSuccess,
		ExecutedBy:    req.ExecutedBy,
		ExecutedAt:    s.now().UTC().Truncate(time.Microsecond),
		Steps:         steps,
	}

	// The commit outlives caller cancellation: once RUNNING is done the
	// result is either fully written or not at all.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CommitTimeout)
	id, err := s.repo.ReplaceExecution(commitCtx, exec)
	cancel()
	if err != nil {
		run.mustTo(ctx, StateRollingBack)
		ae := core.WrapError(core.CodePersistence, err, "commit execution")
		logger.ErrorContext(ctx, "Allocation commit failed", log.FieldError, err)
		run.mustTo(ctx, StateIdle)
		return failureReport(req, plan, ae), ae
	}
	exec.ExecutionID = id
	run.mustTo(ctx, StateIdle)

	if s.results != nil {
		s.results.Set(id, exec.Clone())
	}
	log.NewStructuredLogger(logger).LogAllocationCompleted(ctx, req.PlanEventID, req.PlanVersionID, id, exec.DetailCount())
	s.publish(ctx, exec, logger)

	return successReport(exec, plan), nil
}

// checkRunnable rejects missing and FIXED versions.
func (s *AllocationService) checkRunnable(ctx context.Context, req ExecuteRequest) error {
	version, err := s.repo.GetPlanVersion(ctx, req.PlanEventID, req.PlanVersionID)
	if err != nil {
		return err
	}
	if version.Status == core.VersionFixed {
		return core.NewError(core.CodeVersionFixed, "plan version %s is fixed, allocation is not allowed", version.ID)
	}
	return nil
}

// runSteps executes the plan sequentially against a fresh ledger. The
// context is only consulted between steps.
func (s *AllocationService) runSteps(ctx context.Context, plan allocation.Plan, data core.PlanData, logger *log.Logger) ([]core.ExecutionStep, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	ledger := allocation.NewLedger(data.Amounts)
	in := allocation.DriverInputs{Amounts: ledger, Headcounts: data.Headcounts, KPIs: data.KPIs}

	steps := make([]core.ExecutionStep, 0, len(plan.Steps))
	for _, ps := range plan.Steps {
		if err := runCtx.Err(); err != nil {
			return nil, contextError(err).AtStep(ps.Event.ID, ps.Event.Name, ps.Step.StepNo)
		}
		es, err := allocation.RunStep(ps, ledger, in)
		if err != nil {
			return nil, err
		}
		steps = append(steps, es)
	}

	// Money only moves between cells, so the net postings cancel out.
	changes := ledger.Changes()
	var net int64
	for _, v := range changes {
		net += v
	}
	if net != 0 {
		logger.WarnContext(ctx, "Allocation run postings do not balance", "cells_changed", len(changes), "net_total", net)
	} else {
		logger.DebugContext(ctx, "Allocation run postings", "cells_changed", len(changes))
	}
	return steps, nil
}

func (s *AllocationService) release(ctx context.Context, handle lock.Handle, logger *log.Logger) {
	unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
	defer cancel()
	if err := handle.Unlock(unlockCtx); err != nil {
		logger.WarnContext(ctx, "Failed to release run lock", log.FieldError, err)
	}
}

func (s *AllocationService) publish(ctx context.Context, exec core.AllocationExecution, logger *log.Logger) {
	if s.publisher == nil {
		logger.DebugContext(ctx, "AMQP publisher not available, skipping allocation.completed")
		return
	}
	if err := s.publisher.PublishAllocationCompleted(context.WithoutCancel(ctx), exec); err != nil {
		// The execution is committed; the export sweep picks it up later.
		logger.ErrorContext(ctx, "Failed to publish allocation.completed",
			log.FieldExecutionID, exec.ExecutionID, log.FieldError, err)
	}
}

// GetAllocationStatus reports whether the pair has a committed execution.
func (s *AllocationService) GetAllocationStatus(ctx context.Context, planEventID, planVersionID string) (core.ExecutionStatusView, error) {
	if _, err := s.repo.GetPlanVersion(ctx, planEventID, planVersionID); err != nil {
		return core.ExecutionStatusView{}, err
	}
	view, err := s.repo.GetStatus(ctx, planEventID, planVersionID)
	if err != nil {
		return core.ExecutionStatusView{}, core.WrapError(core.CodePersistence, err, "read allocation status")
	}
	return view, nil
}

// GetAllocationResult returns the execution tree of the pair, or the most
// recent one of the plan event when planVersionID is empty.
func (s *AllocationService) GetAllocationResult(ctx context.Context, planEventID, planVersionID string) (core.AllocationExecution, error) {
	if s.results != nil && planVersionID != "" {
		status, err := s.repo.GetStatus(ctx, planEventID, planVersionID)
		if err == nil && status.HasResult {
			if exec, ok := s.results.Get(status.ExecutionID); ok {
				return exec.Clone(), nil
			}
		}
	}
	exec, err := s.repo.GetResult(ctx, planEventID, planVersionID)
	if err != nil {
		if core.CodeOf(err) != "" {
			return core.AllocationExecution{}, err
		}
		return core.AllocationExecution{}, core.WrapError(core.CodePersistence, err, "read allocation result")
	}
	if s.results != nil {
		s.results.Set(exec.ExecutionID, exec.Clone())
	}
	return exec, nil
}

// SetAmount edits one plan cell; locked and fixed versions refuse it.
func (s *AllocationService) SetAmount(ctx context.Context, planVersionID, subjectID, departmentID string, amount core.Money) error {
	if planVersionID == "" || subjectID == "" || departmentID == "" {
		return core.NewError(core.CodeInvalidRequest, "version, subject and department are required")
	}
	if err := s.repo.SetAmount(ctx, planVersionID, subjectID, departmentID, amount.Cents); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Plan amount updated", log.FieldPlanVersionID, planVersionID,
		"subject_id", subjectID, "department_id", departmentID, "amount", amount.String())
	return nil
}

// UnlockVersion clears the version lock so the plan can be edited again.
// The committed execution stays readable.
func (s *AllocationService) UnlockVersion(ctx context.Context, planEventID, planVersionID string) error {
	if _, err := s.repo.GetPlanVersion(ctx, planEventID, planVersionID); err != nil {
		return err
	}
	if err := s.repo.Unlock(ctx, planVersionID); err != nil {
		return fmt.Errorf("unlock version %s: %w", planVersionID, err)
	}
	s.logger.InfoContext(ctx, "Plan version unlocked", log.FieldPlanEventID, planEventID, log.FieldPlanVersionID, planVersionID)
	return nil
}

func contextError(err error) *core.AllocationError {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.WrapError(core.CodeAllocationTimeout, err, "allocation run timed out")
	}
	return core.WrapError(core.CodeAllocationCancelled, err, "allocation run cancelled")
}

func asAllocationError(err error) *core.AllocationError {
	var ae *core.AllocationError
	if errors.As(err, &ae) {
		return ae
	}
	return core.WrapError(core.CodePersistence, err, "allocation run failed")
}

func successReport(exec core.AllocationExecution, plan allocation.Plan) core.ExecutionReport {
	byEvent := make(map[string]*core.EventResult, len(plan.Events))
	results := make([]core.EventResult, len(plan.Events))
	for i, ev := range plan.Events {
		results[i] = core.EventResult{EventID: ev.ID, EventName: ev.Name, Status: core.EventSucceeded}
		byEvent[ev.ID] = &results[i]
	}
	for _, st := range exec.Steps {
		r := byEvent[st.EventID]
		r.DetailCount += len(st.Details)
		r.TotalAllocatedAmount += st.TotalAllocated()
	}
	return core.ExecutionReport{
		ExecutionID:     exec.ExecutionID,
		PlanEventID:     exec.PlanEventID,
		PlanVersionID:   exec.PlanVersionID,
		Status:          core.ExecutionSuccess,
		PerEventResults: results,
	}
}

// failureReport marks the failing event FAILED, the ones before it
// ROLLED_BACK and the ones after it SKIPPED. A failure not tied to an event
// (the commit) rolls back every event.
func failureReport(req ExecuteRequest, plan allocation.Plan, ae *core.AllocationError) core.ExecutionReport {
	results := make([]core.EventResult, len(plan.Events))
	status := core.EventRolledBack
	for i, ev := range plan.Events {
		r := core.EventResult{EventID: ev.ID, EventName: ev.Name, Status: status}
		if ev.ID == ae.EventID && status == core.EventRolledBack {
			r.Status = core.EventFailed
			r.ErrorCode = ae.Code
			r.FailedStepNo = ae.StepNo
			r.Message = ae.Message
			status = core.EventSkipped
		}
		results[i] = r
	}
	return core.ExecutionReport{
		PlanEventID:     req.PlanEventID,
		PlanVersionID:   req.PlanVersionID,
		Status:          core.ExecutionFailed,
		PerEventResults: results,
	}
}
