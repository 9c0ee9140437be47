package task

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Seams for tests, same trick the detached-run code in similar tools uses.
var (
	execCommand  = exec.Command
	osExecutable = os.Executable
)

// Runner spawns background tasks as detached re-invocations of the devflow
// binary. The caller gets a pending record back within milliseconds; the
// child self-reports running and terminal statuses through the registry.
type Runner struct {
	reg *Registry
}

// NewRunner returns a runner backed by reg.
func NewRunner(reg *Registry) *Runner {
	return &Runner{reg: reg}
}

// Spawn registers a pending task and starts `devflow task entry <id> -- argv`
// as a detached process with stdout and stderr on the task's log file. It
// returns as soon as the child has started; a spawn failure is synchronous
// and the registry records it as failed so no task silently never starts.
func (r *Runner) Spawn(ctx context.Context, name string, argv []string, outputFile string) (*Record, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("spawn %q: empty command", name)
	}

	rec, err := r.reg.Create(ctx, name, argv, outputFile)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.reg.LogDir(), 0o755); err != nil {
		return nil, r.spawnFailed(ctx, rec, err)
	}
	logFile, err := os.OpenFile(rec.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, r.spawnFailed(ctx, rec, err)
	}
	defer func() { _ = logFile.Close() }()

	exePath, err := executablePath()
	if err != nil {
		return nil, r.spawnFailed(ctx, rec, err)
	}

	// The child gets the state dir explicitly so it reports into the same
	// registry regardless of its environment or working directory.
	args := append([]string{"task", "entry", "--state-dir", r.reg.dir, rec.ID, "--"}, argv...)
	cmd := execCommand(exePath, args...)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setDetachAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, r.spawnFailed(ctx, rec, err)
	}

	if cmd.Process != nil {
		if err := r.reg.SetPID(ctx, rec.ID, cmd.Process.Pid); err != nil {
			// The child is already off on its own; losing the pid only
			// degrades the staleness probe.
			rec.PID = 0
		} else {
			rec.PID = cmd.Process.Pid
		}
		_ = cmd.Process.Release()
	}
	return rec, nil
}

func (r *Runner) spawnFailed(ctx context.Context, rec *Record, cause error) error {
	_ = r.reg.MarkFinished(ctx, rec.ID, StatusFailed, -1)
	return fmt.Errorf("spawn task %s: %w", rec.ID, cause)
}

func executablePath() (string, error) {
	if exePath, err := osExecutable(); err == nil && strings.TrimSpace(exePath) != "" {
		if filepath.IsAbs(exePath) {
			return exePath, nil
		}
		if abs, err := filepath.Abs(exePath); err == nil {
			return abs, nil
		}
	}
	arg0 := strings.TrimSpace(os.Args[0])
	if arg0 == "" {
		return "", fmt.Errorf("cannot resolve executable path for detached spawn")
	}
	if filepath.IsAbs(arg0) {
		return arg0, nil
	}
	abs, err := filepath.Abs(arg0)
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	return abs, nil
}
