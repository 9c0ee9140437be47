package task

import (
	"context"
	"errors"
	"os"
	"os/exec"
)

// RunEntry is the child-side body of a background task. It marks the record
// running, executes argv with the process's (already redirected) stdio, then
// self-reports the terminal status and exit code. The returned code is what
// the entry process should exit with.
//
// There is no supervisor: if this process is killed before the terminal
// report, the record stays running forever. Callers observe that through the
// unfinished-first list ordering and the pid staleness probe.
func RunEntry(ctx context.Context, reg *Registry, id string, argv []string) (int, error) {
	if len(argv) == 0 {
		_ = reg.MarkFinished(ctx, id, StatusFailed, -1)
		return 1, errors.New("task entry: empty command")
	}

	if err := reg.MarkRunning(ctx, id); err != nil {
		return 1, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	runErr := cmd.Run()
	exitCode := 0
	status := StatusCompleted
	if runErr != nil {
		status = StatusFailed
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Start failure: the command never ran.
			exitCode = -1
		}
	}

	if err := reg.MarkFinished(ctx, id, status, exitCode); err != nil {
		return 1, err
	}
	if exitCode < 0 {
		return 1, runErr
	}
	return exitCode, nil
}
