package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"devflow/internal/logger"
	"devflow/internal/task"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Run and inspect background tasks",
}

var taskRunCmd = &cobra.Command{
	Use:   "run --name [name] -- [command...]",
	Short: "Run a command as a detached background task",
	Long: `Run a command in a detached background process and return immediately.

The command's stdout and stderr are captured in a per-task log file. The
printed task ID is the handle for "task status", "task log", "task await",
and for deferred workflow transitions via "workflow step --after".

Example:
  devflow task run --name "push branch" -- git push origin HEAD`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		outputFile, _ := cmd.Flags().GetString("output-file")

		if cmd.ArgsLenAtDash() < 0 {
			return errors.New("missing command: use task run --name <name> -- <command...>")
		}
		argv := args[cmd.ArgsLenAtDash():]
		if len(argv) == 0 {
			return errors.New("missing command after --")
		}
		if name == "" {
			name = strings.Join(argv, " ")
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		runner := task.NewRunner(a.registry)
		rec, err := runner.Spawn(cmd.Context(), name, argv, outputFile)
		if err != nil {
			return err
		}
		logger.FromContext(cmd.Context(), a.log).Info("task spawned",
			"task_id", rec.ID, "name", name, "pid", rec.PID)
		cmd.Printf("✓ task started\nID: %s\nLog: %s\n", rec.ID, rec.LogFile)
		return nil
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status [task_id]",
	Short: "Show one task's status, exit code, and log location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		rec, err := a.registry.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printTask(cmd, rec)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, unfinished first",
	Long: `List recent tasks: unfinished tasks first ordered by start time, then
finished tasks ordered by completion time. With --all, list the unpruned
full history instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		a, err := newApp()
		if err != nil {
			return err
		}
		list := a.registry.List
		if all {
			list = a.registry.History
		}
		recs, err := list(cmd.Context())
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			cmd.Println("no tasks")
			return nil
		}
		for _, rec := range recs {
			status := string(rec.Status)
			if rec.Stale() {
				status += " (stale: process gone)"
			}
			cmd.Printf("%s  %-22s  %s\n", rec.ID, status, rec.Name)
		}
		return nil
	},
}

var taskLogCmd = &cobra.Command{
	Use:   "log [task_id]",
	Short: "Print a task's captured output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		followLog, _ := cmd.Flags().GetBool("follow")

		a, err := newApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		rec, err := a.registry.Get(ctx, args[0])
		if err != nil {
			return err
		}

		f, err := os.Open(rec.LogFile)
		if err != nil {
			return fmt.Errorf("open task log: %w", err)
		}
		defer f.Close()

		for {
			if _, err := io.Copy(cmd.OutOrStdout(), f); err != nil {
				return err
			}
			if !followLog {
				return nil
			}
			rec, err = a.registry.Get(ctx, rec.ID)
			if err != nil {
				return err
			}
			if rec.Finished() {
				// Drain whatever landed between the copy and the lookup.
				_, err := io.Copy(cmd.OutOrStdout(), f)
				return err
			}
			time.Sleep(a.cfg.PollInterval)
		}
	},
}

var taskAwaitCmd = &cobra.Command{
	Use:   "await [task_id...]",
	Short: "Block until the given tasks finish",
	Long: `Poll the registry until every named task reaches a terminal status, or
until --timeout elapses. Exits non-zero if any task failed or the timeout
was hit. This is a client-side polling loop; nothing in the stored records
blocks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		a, err := newApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		deadline := time.Now().Add(timeout)
		limiter := rate.NewLimiter(rate.Every(a.cfg.PollInterval), 1)

		remaining := append([]string(nil), args...)
		var failed []string
		for len(remaining) > 0 {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			var next []string
			for _, id := range remaining {
				rec, err := a.registry.Get(ctx, id)
				if err != nil {
					return err
				}
				switch {
				case rec.Status == task.StatusFailed:
					failed = append(failed, id)
				case rec.Finished():
				default:
					next = append(next, id)
				}
			}
			remaining = next
			if len(remaining) > 0 && time.Now().After(deadline) {
				return fmt.Errorf("timed out after %s waiting for: %s", timeout, strings.Join(remaining, ", "))
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("task(s) failed: %s", strings.Join(failed, ", "))
		}
		cmd.Println("✓ all tasks completed")
		return nil
	},
}

var taskCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Prune old finished tasks from the recent view",
	Long: `Remove finished tasks older than --age from the recent view. The full
history and the per-task log files are never pruned.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		age := a.cfg.RetentionAge
		if cmd.Flags().Changed("age") {
			age, _ = cmd.Flags().GetDuration("age")
		}
		n, err := a.registry.CleanExpired(cmd.Context(), age)
		if err != nil {
			return err
		}
		cmd.Printf("✓ removed %d task(s)\n", n)
		return nil
	},
}

func printTask(cmd *cobra.Command, rec *task.Record) {
	cmd.Printf("ID: %s\nName: %s\nStatus: %s\n", rec.ID, rec.Name, rec.Status)
	if rec.Stale() {
		cmd.Println("Warning: process is gone but the task never reported a result")
	}
	cmd.Printf("Started: %s\n", rec.StartedAt.Format(time.RFC3339))
	if rec.CompletedAt != nil {
		cmd.Printf("Completed: %s\n", rec.CompletedAt.Format(time.RFC3339))
	}
	if rec.ExitCode != nil {
		cmd.Printf("Exit code: %d\n", *rec.ExitCode)
	}
	if rec.PID > 0 {
		cmd.Printf("PID: %d\n", rec.PID)
	}
	cmd.Printf("Log: %s\n", rec.LogFile)
	if rec.OutputFile != "" {
		cmd.Printf("Output: %s\n", rec.OutputFile)
	}
}

func init() {
	taskRunCmd.Flags().StringP("name", "n", "", "Human-readable task description")
	taskRunCmd.Flags().String("output-file", "", "Path where the task writes a structured result")
	taskListCmd.Flags().Bool("all", false, "Include the unpruned full history")
	taskLogCmd.Flags().BoolP("follow", "f", false, "Follow log output until the task finishes")
	taskAwaitCmd.Flags().Duration("timeout", 10*time.Minute, "Give up after this long")
	taskCleanCmd.Flags().Duration("age", 24*time.Hour, "Prune finished tasks older than this")

	taskCmd.AddCommand(taskRunCmd, taskStatusCmd, taskListCmd, taskLogCmd, taskAwaitCmd, taskCleanCmd)
	rootCmd.AddCommand(taskCmd)
}
