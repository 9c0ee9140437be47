// Package config handles environment variable loading for the state
// directory, lock timeout, and the rest of the small devflow surface.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration values for the application.
type Config struct {
	// Directory holding the state document, task registry, and task logs.
	StateDir string

	// Bound on file lock acquisition.
	LockTimeout time.Duration

	// Age past which finished tasks are pruned from the recent view.
	RetentionAge time.Duration

	// Pacing for task await polling.
	PollInterval time.Duration

	// Optional override for the workflow definitions file.
	WorkflowsFile string

	// OTLP collector endpoint; tracing is disabled when empty.
	OTLPEndpoint string

	// slog level name: debug, info, warn, error.
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	stateDir := os.Getenv("DEVFLOW_STATE_DIR")
	if stateDir == "" {
		stateDir = DefaultStateDir()
	}

	lockTimeout := 5 * time.Second
	if v := os.Getenv("DEVFLOW_LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DEVFLOW_LOCK_TIMEOUT: %w", err)
		}
		lockTimeout = d
	}

	retention := 24 * time.Hour
	if v := os.Getenv("DEVFLOW_RETENTION_HOURS"); v != "" {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid DEVFLOW_RETENTION_HOURS: %w", err)
		}
		retention = time.Duration(h * float64(time.Hour))
	}

	pollInterval := 500 * time.Millisecond
	if v := os.Getenv("DEVFLOW_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DEVFLOW_POLL_INTERVAL: %w", err)
		}
		pollInterval = d
	}

	logLevel := os.Getenv("DEVFLOW_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "warn"
	}

	return &Config{
		StateDir:      stateDir,
		LockTimeout:   lockTimeout,
		RetentionAge:  retention,
		PollInterval:  pollInterval,
		WorkflowsFile: os.Getenv("DEVFLOW_WORKFLOWS"),
		OTLPEndpoint:  os.Getenv("DEVFLOW_OTLP_ENDPOINT"),
		LogLevel:      logLevel,
	}, nil
}

// DefaultStateDir returns `.devflow` under the enclosing repository root,
// found by walking up from the working directory to the nearest `.git`. When
// no repository encloses the working directory, the working directory itself
// holds the state.
func DefaultStateDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ".devflow"
	}
	return filepath.Join(repoRoot(cwd), ".devflow")
}

func repoRoot(dir string) string {
	for d := dir; ; {
		if _, err := os.Stat(filepath.Join(d, ".git")); err == nil {
			return d
		}
		parent := filepath.Dir(d)
		if parent == d {
			return dir
		}
		d = parent
	}
}
