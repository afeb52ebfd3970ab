// Package main provides the flode CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	charmLog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/hylla/flode/internal/adapters/notify"
	"github.com/hylla/flode/internal/adapters/storage/sqlite"
	"github.com/hylla/flode/internal/app"
	"github.com/hylla/flode/internal/config"
	"github.com/hylla/flode/internal/platform"
	"github.com/hylla/flode/internal/scheduler"
)

var version = "dev"

var (
	flagConfig string
	flagDB     string
	flagApp    string
	flagDev    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := fang.Execute(ctx, root, fang.WithVersion(version)); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "flode",
		Short:        "Service-management lifecycle engine",
		Long:         "flode manages change requests and tasks through their approval and execution lifecycles,\nwith a polling scheduler for window starts, reminders and overdue detection.",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config TOML")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "path to sqlite database")
	root.PersistentFlags().StringVar(&flagApp, "app", "flode", "application name for config/data path resolution")
	root.PersistentFlags().BoolVar(&flagDev, "dev", false, "use dev mode paths (<app>-dev)")

	root.AddCommand(newServeCmd(), newJobsCmd(), newPathsCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler loop until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := setup()
			if err != nil {
				return err
			}
			defer env.close()

			env.runner.Run(cmd.Context())
			return nil
		},
	}
}

func newJobsCmd() *cobra.Command {
	var only string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run a single scheduler pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := setup()
			if err != nil {
				return err
			}
			defer env.close()

			runner := env.runner
			if only != "" {
				job, err := env.jobNamed(only)
				if err != nil {
					return err
				}
				runner = env.runnerFor(job)
			}
			return runner.RunOnce(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&only, "job", "", "run only one job: auto-start, reminders or overdue")
	return cmd
}

func newPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the resolved config and database paths",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := platform.DefaultPathsWithOptions(platform.Options{AppName: flagApp, DevMode: flagDev})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "app: %s\n", flagApp)
			fmt.Fprintf(out, "dev_mode: %t\n", flagDev)
			fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			return nil
		},
	}
}

// env bundles the wired application for one command invocation.
type env struct {
	cfg    config.Config
	repo   *sqlite.Repository
	jobs   []scheduler.Job
	runner *scheduler.Runner
	logger *charmLog.Logger
}

func (e *env) close() {
	if e.repo != nil {
		_ = e.repo.Close()
	}
}

// jobNamed resolves a --job selector to one of the wired jobs.
func (e *env) jobNamed(name string) (scheduler.Job, error) {
	var want string
	switch strings.TrimSpace(strings.ToLower(name)) {
	case "auto-start", "auto_start":
		want = "auto_start"
	case "reminders", "reminder":
		want = "reminder"
	case "overdue":
		want = "overdue"
	default:
		return nil, fmt.Errorf("unknown job %q: expected auto-start, reminders or overdue", name)
	}
	for _, job := range e.jobs {
		if job.Name() == want {
			return job, nil
		}
	}
	return nil, fmt.Errorf("job %q is not wired", want)
}

// runnerFor builds a runner over a subset of the wired jobs.
func (e *env) runnerFor(jobs ...scheduler.Job) *scheduler.Runner {
	return scheduler.NewRunner(
		e.cfg.Scheduler.TickInterval.Duration,
		e.cfg.Scheduler.RetryAttempts,
		e.cfg.Scheduler.RetryBackoff.Duration,
		e.logger,
		jobs...,
	)
}

// setup resolves paths and config, opens storage and wires the service,
// dispatcher, handlers and scheduler jobs.
func setup() (*env, error) {
	paths, err := platform.DefaultPathsWithOptions(platform.Options{AppName: flagApp, DevMode: flagDev})
	if err != nil {
		return nil, err
	}

	configPath := flagConfig
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("FLODE_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	cfg, err := config.Load(configPath, config.Default(paths.DBPath))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(flagDB) != "" {
		cfg.Database.Path = flagDB
	}

	logger := newLogger(cfg.Logging.Level)

	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	dispatcher := app.NewDispatcher(logger)
	notify.Register(dispatcher,
		notify.NewLedger(repo),
		notify.NewNotifier(cfg.Notify.SuppressWindow.Duration, time.Now, logger),
	)
	svc := app.NewService(repo, dispatcher, nil, nil)

	leads := make([]time.Duration, 0, len(cfg.Scheduler.ReminderLeads))
	for _, lead := range cfg.Scheduler.ReminderLeads {
		leads = append(leads, lead.Duration)
	}
	tick := cfg.Scheduler.TickInterval.Duration
	jobs := []scheduler.Job{
		scheduler.NewAutoStartJob(repo, svc, time.Now, logger),
		scheduler.NewReminderJob(repo, dispatcher, time.Now, leads, tick, logger),
		scheduler.NewOverdueJob(repo, dispatcher, time.Now, logger),
	}
	runner := scheduler.NewRunner(tick, cfg.Scheduler.RetryAttempts, cfg.Scheduler.RetryBackoff.Duration, logger, jobs...)

	return &env{cfg: cfg, repo: repo, jobs: jobs, runner: runner, logger: logger}, nil
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) *charmLog.Logger {
	logger := charmLog.NewWithOptions(os.Stderr, charmLog.Options{
		ReportTimestamp: true,
		Prefix:          "flode",
	})
	parsed, err := charmLog.ParseLevel(strings.TrimSpace(strings.ToLower(level)))
	if err != nil {
		parsed = charmLog.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}
