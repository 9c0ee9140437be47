package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"devflow/internal/logger"
	"devflow/internal/task"
)

// taskEntryCmd is the child-side half of the background runner: the spawner
// starts `devflow task entry --state-dir <dir> <id> -- <command...>` detached,
// and this command self-reports the task's lifecycle around executing the
// payload. Hidden because nothing but the spawner should invoke it.
var taskEntryCmd = &cobra.Command{
	Use:    "entry [task_id] -- [command...]",
	Hidden: true,
	Args:   cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.ArgsLenAtDash() != 1 {
			return errors.New("task entry: expected <task_id> -- <command...>")
		}
		id := args[0]
		argv := args[cmd.ArgsLenAtDash():]

		a, err := newApp()
		if err != nil {
			return err
		}

		code, err := task.RunEntry(cmd.Context(), a.registry, id, argv)
		if err != nil {
			logger.FromContext(cmd.Context(), a.log).Error("task entry", "task_id", id, "error", err)
		}
		// The entry process mirrors the payload's exit code exactly.
		os.Exit(code)
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskEntryCmd)
}
