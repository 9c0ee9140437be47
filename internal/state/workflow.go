package state

import (
	"context"
	"encoding/json"
	"fmt"
)

// workflowKey is reserved in the state document for the workflow object.
const workflowKey = "_workflow"

// StatusActive is the status of a running workflow. A workflow is either
// fully absent (no reserved key) or active; there is no terminal status at
// this level — clearing removes the object entirely.
const StatusActive = "active"

// Workflow is the persisted state of the current multi-command workflow.
type Workflow struct {
	Name    string         `json:"name"`
	Status  string         `json:"status"`
	Step    string         `json:"step"`
	Context map[string]any `json:"context"`

	// PendingTransition, when set, defers the next step change until every
	// awaited background task has completed.
	PendingTransition *PendingTransition `json:"pending_transition,omitempty"`
}

// PendingTransition records a deferred step change.
type PendingTransition struct {
	Step       string   `json:"step"`
	AwaitTasks []string `json:"await_tasks"`
}

// WorkflowState returns the current workflow, or nil when none is active.
func (s *Store) WorkflowState(ctx context.Context) (*Workflow, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return decodeWorkflow(doc)
}

// WorkflowActive reports whether a workflow is currently active.
func (s *Store) WorkflowActive(ctx context.Context) (bool, error) {
	wf, err := s.WorkflowState(ctx)
	if err != nil {
		return false, err
	}
	return wf != nil && wf.Status == StatusActive, nil
}

// SetWorkflowState replaces the workflow object in one lock hold.
func (s *Store) SetWorkflowState(ctx context.Context, wf *Workflow) error {
	if wf.Context == nil {
		wf.Context = map[string]any{}
	}
	return s.Update(ctx, func(doc map[string]any) error {
		return encodeWorkflow(doc, wf)
	})
}

// UpdateWorkflowStep moves the workflow to step. It fails with ErrNoWorkflow
// when no workflow is active and leaves any pending transition untouched;
// clearing a pending transition is an explicit, separate operation.
func (s *Store) UpdateWorkflowStep(ctx context.Context, step string) error {
	return s.updateWorkflow(ctx, func(wf *Workflow) {
		wf.Step = step
	})
}

// UpdateWorkflowContext merges kv into the workflow context. Existing keys
// not named in kv are preserved.
func (s *Store) UpdateWorkflowContext(ctx context.Context, kv map[string]any) error {
	return s.updateWorkflow(ctx, func(wf *Workflow) {
		if wf.Context == nil {
			wf.Context = map[string]any{}
		}
		for k, v := range kv {
			wf.Context[k] = v
		}
	})
}

// SetPendingTransition records a deferred step change. Passing nil clears an
// existing pending transition.
func (s *Store) SetPendingTransition(ctx context.Context, pt *PendingTransition) error {
	return s.updateWorkflow(ctx, func(wf *Workflow) {
		wf.PendingTransition = pt
	})
}

// ApplyPendingTransition moves the workflow to the pending target step and
// clears the pending transition, atomically in one lock hold.
func (s *Store) ApplyPendingTransition(ctx context.Context) error {
	return s.updateWorkflow(ctx, func(wf *Workflow) {
		if wf.PendingTransition == nil {
			return
		}
		wf.Step = wf.PendingTransition.Step
		wf.PendingTransition = nil
	})
}

// ClearWorkflowState removes the workflow object. Clearing when no workflow
// is active is a no-op.
func (s *Store) ClearWorkflowState(ctx context.Context) error {
	return s.Update(ctx, func(doc map[string]any) error {
		delete(doc, workflowKey)
		return nil
	})
}

func (s *Store) updateWorkflow(ctx context.Context, mutate func(*Workflow)) error {
	return s.Update(ctx, func(doc map[string]any) error {
		wf, err := decodeWorkflow(doc)
		if err != nil {
			return err
		}
		if wf == nil {
			return ErrNoWorkflow
		}
		mutate(wf)
		return encodeWorkflow(doc, wf)
	})
}

// decodeWorkflow pulls the typed workflow out of the raw document. The
// round-trip through JSON keeps the document's generic map form authoritative.
func decodeWorkflow(doc map[string]any) (*Workflow, error) {
	raw, ok := doc[workflowKey]
	if !ok {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode workflow object: %w", err)
	}
	var wf Workflow
	if err := json.Unmarshal(b, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow object: %w", err)
	}
	return &wf, nil
}

func encodeWorkflow(doc map[string]any, wf *Workflow) error {
	b, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encode workflow object: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("encode workflow object: %w", err)
	}
	doc[workflowKey] = m
	return nil
}
