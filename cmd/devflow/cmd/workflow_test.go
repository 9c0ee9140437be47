package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"devflow/internal/task"
)

// resetAfterFlag clears the sticky --after slice between Execute calls;
// slice flags append across invocations on a shared command tree.
func resetAfterFlag(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		f := workflowStepCmd.Flags().Lookup("after")
		_ = f.Value.(pflag.SliceValue).Replace(nil)
		f.Changed = false
	})
}

// setupWorkflowDir gives tests a small private transition table alongside a
// fresh state dir, so assertions do not depend on the shipped definitions.
func setupWorkflowDir(t *testing.T) string {
	t.Helper()
	dir := setupStateDir(t)

	path := filepath.Join(dir, "workflows.yaml")
	content := `
workflows:
  - name: w
    steps: [s1, s2, s3]
    transitions:
      s1: [s2]
      s2: [s3]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	viper.Set("workflows", path)
	return dir
}

func TestWorkflowStartAndStatus(t *testing.T) {
	setupWorkflowDir(t)

	out, err := runCommand("workflow", "start", "w")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !strings.Contains(out, "started at step s1") {
		t.Errorf("unexpected start output: %s", out)
	}

	out, err = runCommand("workflow", "status")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Workflow: w") || !strings.Contains(out, "Step: s1") {
		t.Errorf("unexpected status output: %s", out)
	}
}

func TestWorkflowStart_UnknownName(t *testing.T) {
	setupWorkflowDir(t)

	_, err := runCommand("workflow", "start", "bogus")
	if err == nil {
		t.Fatal("expected error for unknown workflow")
	}
	if !strings.Contains(err.Error(), "known workflows") {
		t.Errorf("error should list known workflows: %v", err)
	}
}

func TestWorkflowStatus_NoActiveWorkflow(t *testing.T) {
	setupWorkflowDir(t)

	out, err := runCommand("workflow", "status")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "no active workflow") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestWorkflowStep_Immediate(t *testing.T) {
	setupWorkflowDir(t)

	if _, err := runCommand("workflow", "start", "w"); err != nil {
		t.Fatal(err)
	}
	out, err := runCommand("workflow", "step", "s2")
	if err != nil {
		t.Fatalf("legal step change failed: %v", err)
	}
	if !strings.Contains(out, "step is now s2") {
		t.Errorf("unexpected output: %s", out)
	}

	// s1 is not a successor of s2.
	if _, err := runCommand("workflow", "step", "s1"); err == nil {
		t.Error("expected illegal transition to fail")
	}
}

func TestWorkflowStep_DeferredAndCheck(t *testing.T) {
	dir := setupWorkflowDir(t)
	resetAfterFlag(t)
	ctx := context.Background()
	reg := task.NewRegistry(dir, time.Second)

	if _, err := runCommand("workflow", "start", "w"); err != nil {
		t.Fatal(err)
	}

	// Awaiting a nonexistent task is rejected up front.
	if _, err := runCommand("workflow", "step", "s2", "--after", "ghost"); err == nil {
		t.Error("expected unknown awaited task to be rejected")
	}
	// Drop the sticky "ghost" value before the next --after invocation.
	f := workflowStepCmd.Flags().Lookup("after")
	_ = f.Value.(pflag.SliceValue).Replace(nil)
	f.Changed = false

	rec, err := reg.Create(ctx, "bg", []string{"true"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := runCommand("workflow", "step", "s2", "--after", rec.ID); err != nil {
		t.Fatalf("deferred step failed: %v", err)
	}

	// Still pending: check reports waiting and the step stays put.
	out, err := runCommand("workflow", "check")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !strings.Contains(out, "waiting on "+rec.ID) {
		t.Errorf("expected waiting output, got: %s", out)
	}

	if err := reg.MarkRunning(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	if err := reg.MarkFinished(ctx, rec.ID, task.StatusCompleted, 0); err != nil {
		t.Fatal(err)
	}

	out, err = runCommand("workflow", "check")
	if err != nil {
		t.Fatalf("check after completion failed: %v", err)
	}
	if !strings.Contains(out, "step is now s2") {
		t.Errorf("expected applied output, got: %s", out)
	}

	out, _ = runCommand("workflow", "status")
	if !strings.Contains(out, "Step: s2") || strings.Contains(out, "Pending:") {
		t.Errorf("transition not applied cleanly: %s", out)
	}
}

func TestWorkflowCheck_FailedTaskBlocksNonZero(t *testing.T) {
	dir := setupWorkflowDir(t)
	resetAfterFlag(t)
	ctx := context.Background()
	reg := task.NewRegistry(dir, time.Second)

	if _, err := runCommand("workflow", "start", "w"); err != nil {
		t.Fatal(err)
	}
	rec, _ := reg.Create(ctx, "bg", []string{"false"}, "")
	if _, err := runCommand("workflow", "step", "s2", "--after", rec.ID); err != nil {
		t.Fatal(err)
	}
	if err := reg.MarkRunning(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	if err := reg.MarkFinished(ctx, rec.ID, task.StatusFailed, 1); err != nil {
		t.Fatal(err)
	}

	_, err := runCommand("workflow", "check")
	if err == nil {
		t.Fatal("expected non-zero result when an awaited task failed")
	}
	if !strings.Contains(err.Error(), rec.ID) {
		t.Errorf("failed task not named: %v", err)
	}

	// Blocked leaves the pending transition recorded.
	out, _ := runCommand("workflow", "status")
	if !strings.Contains(out, "Step: s1") || !strings.Contains(out, "Pending:") {
		t.Errorf("pending transition should survive a failure: %s", out)
	}
}

func TestWorkflowContext_MergeAndShow(t *testing.T) {
	setupWorkflowDir(t)

	if _, err := runCommand("workflow", "start", "w"); err != nil {
		t.Fatal(err)
	}
	if _, err := runCommand("workflow", "context", "set", "a=1"); err != nil {
		t.Fatalf("context set failed: %v", err)
	}
	if _, err := runCommand("workflow", "context", "set", "b=two"); err != nil {
		t.Fatal(err)
	}

	out, err := runCommand("workflow", "context", "show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "a = 1") || !strings.Contains(out, `b = "two"`) {
		t.Errorf("expected merged context, got: %s", out)
	}
}

func TestWorkflowContextSet_BadPair(t *testing.T) {
	setupWorkflowDir(t)

	if _, err := runCommand("workflow", "start", "w"); err != nil {
		t.Fatal(err)
	}
	if _, err := runCommand("workflow", "context", "set", "missing-equals"); err == nil {
		t.Error("expected error for malformed pair")
	}
}

func TestWorkflowClear(t *testing.T) {
	setupWorkflowDir(t)

	if _, err := runCommand("workflow", "start", "w"); err != nil {
		t.Fatal(err)
	}
	if _, err := runCommand("workflow", "clear"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	out, _ := runCommand("workflow", "status")
	if !strings.Contains(out, "no active workflow") {
		t.Errorf("workflow not cleared: %s", out)
	}
}
