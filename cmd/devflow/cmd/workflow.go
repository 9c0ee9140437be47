package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"devflow/internal/state"
	"devflow/internal/workflow"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Track the current step of a multi-command workflow",
}

var workflowStartCmd = &cobra.Command{
	Use:   "start [name]",
	Short: "Start a workflow at its first step",
	Long: `Start a workflow. The name must be declared in the workflow definitions;
the workflow begins at its first step unless --step names another declared
step. Starting replaces any previously active workflow.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		step, _ := cmd.Flags().GetString("step")

		a, err := newApp()
		if err != nil {
			return err
		}
		tbl, err := a.table()
		if err != nil {
			return err
		}
		def, err := tbl.Definition(name)
		if err != nil {
			return fmt.Errorf("%w (known workflows: %s)", err, strings.Join(tbl.Names(), ", "))
		}
		if step == "" {
			step = def.FirstStep()
		} else if !def.HasStep(step) {
			return fmt.Errorf("workflow %s: unknown step %q", name, step)
		}

		wf := &state.Workflow{
			Name:   name,
			Status: state.StatusActive,
			Step:   step,
		}
		if err := a.store.SetWorkflowState(cmd.Context(), wf); err != nil {
			return err
		}
		cmd.Printf("✓ workflow %s started at step %s\n", name, step)
		return nil
	},
}

var workflowStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active workflow, its step, context, and any pending transition",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		wf, err := a.store.WorkflowState(cmd.Context())
		if err != nil {
			return err
		}
		if wf == nil {
			cmd.Println("no active workflow")
			return nil
		}
		cmd.Printf("Workflow: %s\nStatus: %s\nStep: %s\n", wf.Name, wf.Status, wf.Step)
		if pt := wf.PendingTransition; pt != nil {
			cmd.Printf("Pending: -> %s (awaiting %s)\n", pt.Step, strings.Join(pt.AwaitTasks, ", "))
		}
		printContext(cmd, wf.Context)
		return nil
	},
}

var workflowStepCmd = &cobra.Command{
	Use:   "step [target]",
	Short: "Advance the workflow, now or after background tasks complete",
	Long: `Advance the workflow to a target step.

Without --after the step changes immediately. With one or more --after task
IDs the change is recorded as a pending transition and only applied by
"workflow check" once every awaited task has completed. Either way the target
must be a legal successor of the current step per the workflow definition.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		after, _ := cmd.Flags().GetStringSlice("after")

		a, err := newApp()
		if err != nil {
			return err
		}
		tbl, err := a.table()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if len(after) == 0 {
			if err := workflow.Advance(ctx, a.store, tbl, target); err != nil {
				return err
			}
			cmd.Printf("✓ step is now %s\n", target)
			return nil
		}

		// Awaited tasks must exist before the transition is recorded, so a
		// typo'd ID surfaces here rather than on every later check.
		for _, id := range after {
			if _, err := a.registry.Get(ctx, id); err != nil {
				return err
			}
		}
		if err := workflow.Defer(ctx, a.store, tbl, target, after); err != nil {
			return err
		}
		cmd.Printf("✓ will move to %s once %s complete(s); run \"devflow workflow check\"\n",
			target, strings.Join(after, ", "))
		return nil
	},
}

var workflowCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Apply the pending transition if every awaited task completed",
	Long: `Check the pending transition against the task registry.

The step changes only when every awaited task is completed. Failed tasks
block the transition: they are reported, the command exits non-zero, and the
pending transition stays recorded so the operator can rerun the task or move
the step manually.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		res, err := workflow.CheckPending(cmd.Context(), a.store, a.registry)
		if err != nil {
			return err
		}

		switch res.Outcome {
		case workflow.OutcomeNone:
			cmd.Println("no pending transition")
		case workflow.OutcomeWaiting:
			cmd.Printf("waiting on %s (target step %s)\n", strings.Join(res.Waiting, ", "), res.TargetStep)
		case workflow.OutcomeBlocked:
			return fmt.Errorf("transition to %s blocked: task(s) failed: %s",
				res.TargetStep, strings.Join(res.Failed, ", "))
		case workflow.OutcomeApplied:
			cmd.Printf("✓ step is now %s\n", res.CurrentStep)
		}
		return nil
	},
}

var workflowContextCmd = &cobra.Command{
	Use:   "context",
	Short: "Read and merge workflow-scoped context data",
}

var workflowContextSetCmd = &cobra.Command{
	Use:   "set [key=value ...]",
	Short: "Merge key=value pairs into the workflow context",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kv := map[string]any{}
		for _, pair := range args {
			k, raw, ok := strings.Cut(pair, "=")
			if !ok || k == "" {
				return fmt.Errorf("expected key=value, got %q", pair)
			}
			v, err := parseValue(raw, false)
			if err != nil {
				return err
			}
			kv[k] = v
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.store.UpdateWorkflowContext(cmd.Context(), kv); err != nil {
			return err
		}
		cmd.Printf("✓ context updated (%d key(s))\n", len(kv))
		return nil
	},
}

var workflowContextShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the workflow context",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		wf, err := a.store.WorkflowState(cmd.Context())
		if err != nil {
			return err
		}
		if wf == nil {
			return state.ErrNoWorkflow
		}
		printContext(cmd, wf.Context)
		return nil
	},
}

var workflowClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "End the workflow and remove its state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.store.ClearWorkflowState(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("✓ workflow cleared")
		return nil
	},
}

func printContext(cmd *cobra.Command, ctxData map[string]any) {
	if len(ctxData) == 0 {
		return
	}
	keys := make([]string, 0, len(ctxData))
	for k := range ctxData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	cmd.Println("Context:")
	for _, k := range keys {
		b, _ := json.Marshal(ctxData[k])
		cmd.Printf("  %s = %s\n", k, b)
	}
}

func init() {
	workflowStartCmd.Flags().String("step", "", "Start at this step instead of the first")
	workflowStepCmd.Flags().StringSlice("after", nil, "Task ID(s) that must complete before the step changes")

	workflowContextCmd.AddCommand(workflowContextSetCmd, workflowContextShowCmd)
	workflowCmd.AddCommand(workflowStartCmd, workflowStatusCmd, workflowStepCmd,
		workflowCheckCmd, workflowContextCmd, workflowClearCmd)
	rootCmd.AddCommand(workflowCmd)
}
