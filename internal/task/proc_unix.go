//go:build !windows

package task

import (
	"errors"
	"syscall"
)

// pidAlive reports whether pid still refers to a live process. EPERM means
// the process exists but belongs to another user.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
