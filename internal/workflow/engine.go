package workflow

import (
	"context"
	"errors"
	"fmt"

	"devflow/internal/state"
	"devflow/internal/task"
)

// CheckOutcome is the result of a pending-transition check.
type CheckOutcome string

const (
	// OutcomeNone means no pending transition is recorded.
	OutcomeNone CheckOutcome = "none"
	// OutcomeWaiting means at least one awaited task has not finished.
	OutcomeWaiting CheckOutcome = "waiting"
	// OutcomeBlocked means at least one awaited task failed. The pending
	// transition is left in place; it is never applied or discarded
	// automatically on failure.
	OutcomeBlocked CheckOutcome = "blocked"
	// OutcomeApplied means every awaited task completed and the workflow
	// moved to the target step.
	OutcomeApplied CheckOutcome = "applied"
)

// CheckResult reports what the check observed per awaited task.
type CheckResult struct {
	Outcome     CheckOutcome
	TargetStep  string
	Waiting     []string
	Failed      []string
	TaskStatus  map[string]task.Status
	CurrentStep string
}

// ErrNoWorkflow mirrors the state package's sentinel for callers that only
// import the engine.
var ErrNoWorkflow = state.ErrNoWorkflow

// CheckPending inspects the awaited tasks of the current pending transition
// and applies the step change only when all of them completed. Failed tasks
// block the transition and are reported raw; policy for what to do about a
// failed task stays with the caller.
func CheckPending(ctx context.Context, st *state.Store, reg *task.Registry) (*CheckResult, error) {
	wf, err := st.WorkflowState(ctx)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, ErrNoWorkflow
	}

	res := &CheckResult{
		Outcome:     OutcomeNone,
		CurrentStep: wf.Step,
		TaskStatus:  map[string]task.Status{},
	}
	if wf.PendingTransition == nil {
		return res, nil
	}
	res.TargetStep = wf.PendingTransition.Step

	for _, id := range wf.PendingTransition.AwaitTasks {
		rec, err := reg.Get(ctx, id)
		if err != nil {
			var unknown *task.UnknownTaskError
			if errors.As(err, &unknown) {
				return nil, fmt.Errorf("pending transition awaits %w", err)
			}
			return nil, err
		}
		res.TaskStatus[id] = rec.Status
		switch rec.Status {
		case task.StatusFailed:
			res.Failed = append(res.Failed, id)
		case task.StatusCompleted:
		default:
			res.Waiting = append(res.Waiting, id)
		}
	}

	switch {
	case len(res.Failed) > 0:
		res.Outcome = OutcomeBlocked
	case len(res.Waiting) > 0:
		res.Outcome = OutcomeWaiting
	default:
		if err := st.ApplyPendingTransition(ctx); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeApplied
		res.CurrentStep = res.TargetStep
	}
	return res, nil
}

// Defer validates target against the table and records a pending transition
// awaiting the given task IDs.
func Defer(ctx context.Context, st *state.Store, tbl *Table, target string, awaitTasks []string) error {
	wf, err := st.WorkflowState(ctx)
	if err != nil {
		return err
	}
	if wf == nil {
		return ErrNoWorkflow
	}
	if err := tbl.ValidateTransition(wf.Name, wf.Step, target); err != nil {
		return err
	}
	return st.SetPendingTransition(ctx, &state.PendingTransition{
		Step:       target,
		AwaitTasks: awaitTasks,
	})
}

// Advance validates target against the table and moves the workflow
// immediately.
func Advance(ctx context.Context, st *state.Store, tbl *Table, target string) error {
	wf, err := st.WorkflowState(ctx)
	if err != nil {
		return err
	}
	if wf == nil {
		return ErrNoWorkflow
	}
	if err := tbl.ValidateTransition(wf.Name, wf.Step, target); err != nil {
		return err
	}
	return st.UpdateWorkflowStep(ctx, target)
}
