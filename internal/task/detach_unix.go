//go:build !windows

package task

import (
	"os/exec"
	"syscall"
)

// setDetachAttr puts the child in its own session so it survives the parent
// exiting and is not reached by terminal signals sent to the parent's group.
func setDetachAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
