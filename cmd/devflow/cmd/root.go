package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"

	"devflow/internal/config"
	"devflow/internal/logger"
	"devflow/internal/observability"
	"devflow/internal/state"
	"devflow/internal/task"
	"devflow/internal/workflow"
)

var cfgFile string

var (
	rootSpan      trace.Span
	traceShutdown func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "devflow",
	Short: "Devflow coordinates multi-step development workflows across CLI invocations",
	Long: `devflow is a local coordination tool for AI-assisted development workflows.

An agent drives long procedures (work a ticket, cut a release) as a sequence of
small shell commands. devflow gives those short-lived invocations shared memory:

  - State:    a file-locked JSON document of cross-invocation key/value pairs
  - Tasks:    long-running commands detached into background processes,
              tracked through pending/running/completed/failed
  - Workflow: a persisted "current step" that advances immediately or only
              after named background tasks complete

Common workflows:

  Stash a parameter for later commands:
    devflow state set jira.issue_key ABC-1

  Read it back, with an actionable failure if it was never set:
    devflow state get jira.issue_key --required --hint "devflow state set jira.issue_key <key>"

  Run something slow without blocking:
    devflow task run --name "push branch" -- git push origin HEAD

  Start a workflow and advance it after background work finishes:
    devflow workflow start ticket
    devflow workflow step run_tests --after <task-id>
    devflow workflow check

Configuration:
  Settings come from flags, DEVFLOW_* environment variables, or ~/.devflow.yaml:
    DEVFLOW_STATE_DIR        State directory (default: <repo-root>/.devflow)
    DEVFLOW_LOCK_TIMEOUT     File lock acquisition bound (default: 5s)
    DEVFLOW_RETENTION_HOURS  Age before finished tasks are pruned (default: 24)
    DEVFLOW_WORKFLOWS        Workflow definitions file override
    DEVFLOW_OTLP_ENDPOINT    OTLP collector for traces (default: disabled)`,
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		tracer, shutdown, err := observability.Init(cmd.Context(), "devflow", viper.GetString("otlp_endpoint"))
		if err != nil {
			return err
		}
		traceShutdown = shutdown
		ctx, span := tracer.Start(cmd.Context(), cmd.CommandPath())
		rootSpan = span
		// Every log line from this invocation carries the same ID.
		cmd.SetContext(logger.WithInvocationID(ctx, uuid.NewString()))
		return nil
	},
}

func Execute() error {
	err := rootCmd.Execute()
	if rootSpan != nil {
		rootSpan.End()
	}
	if traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = traceShutdown(ctx)
	}
	return err
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".devflow"
		viper.AddConfigPath(home)
		viper.SetConfigName(".devflow")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "DEVFLOW_VARNAME"
	viper.SetEnvPrefix("DEVFLOW")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// loadConfig resolves the effective configuration: environment defaults from
// config.Load, overridden by anything set through viper (config file, env
// prefix, or tests).
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("state_dir"); v != "" {
		cfg.StateDir = v
	}
	if v := viper.GetString("lock_timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid lock_timeout: %w", err)
		}
		cfg.LockTimeout = d
	}
	if viper.IsSet("retention_hours") {
		cfg.RetentionAge = time.Duration(viper.GetFloat64("retention_hours") * float64(time.Hour))
	}
	if v := viper.GetString("poll_interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if v := viper.GetString("workflows"); v != "" {
		cfg.WorkflowsFile = v
	}
	if v := viper.GetString("otlp_endpoint"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := viper.GetString("log_level"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

// app bundles the handles every command needs.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *state.Store
	registry *task.Registry
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		log:      logger.New(cfg.LogLevel),
		store:    state.New(cfg.StateDir, cfg.LockTimeout),
		registry: task.NewRegistry(cfg.StateDir, cfg.LockTimeout),
	}, nil
}

func (a *app) table() (*workflow.Table, error) {
	return workflow.LoadTable(a.cfg.WorkflowsFile)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.devflow.yaml)")
	rootCmd.PersistentFlags().String("state-dir", "", "state directory (default: <repo-root>/.devflow)")
	_ = viper.BindPFlag("state_dir", rootCmd.PersistentFlags().Lookup("state-dir"))
}
