// Package main is the entry point for the devflow CLI.
// The CLI coordinates multi-step development workflows through shared
// file-backed state and detached background tasks.
package main

import (
	"os"

	"devflow/cmd/devflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
