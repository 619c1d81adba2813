package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/specialistvlad/deploygrid/internal/app"
	"github.com/specialistvlad/deploygrid/internal/scheduler"
	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitRunFailed  = 1
	ExitValidation = 2
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// flags mirrors app.Config for the command line. Only flags the user set
// override the config file.
type flags struct {
	configPath        string
	stateURL          string
	workers           int
	maxAttempts       int
	retryInitial      time.Duration
	retryMax          time.Duration
	continueOnFailure bool
	defaultProcess    string
	scriptTimeout     time.Duration
	env               []string
	logLevel          string
	logFormat         string
	metricsPort       int
	notifyURL         string
}

// NewRootCommand builds the deploygrid command tree. Output goes to out and
// diagnostics to errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	f := &flags{}
	defaults := app.DefaultConfig()

	root := &cobra.Command{
		Use:   "deploygrid",
		Short: "Deploy interdependent smart contracts across networks, exactly once.",
		Long: `deploygrid reads deployment declarations (YAML, JSON or HCL), resolves the
dependencies between contracts into a graph and deploys them in parallel,
recording every completed target so that re-running is a no-op.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML config file whose keys mirror the flags.")
	pf.StringVar(&f.stateURL, "state", defaults.StateURL, "State store URL: memory://, sqlite://path, postgres://..., badger://dir or redis://host:port/db.")
	pf.StringVar(&f.logLevel, "log-level", defaults.LogLevel, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	pf.StringVar(&f.logFormat, "log-format", defaults.LogFormat, "Log output format. Options: 'text' or 'json'.")

	execFlags := func(cmd *cobra.Command) {
		fs := cmd.Flags()
		fs.IntVarP(&f.workers, "workers", "w", defaults.Workers, "Number of targets deployed concurrently.")
		fs.IntVar(&f.maxAttempts, "max-attempts", defaults.MaxAttempts, "Attempts per step before a target fails.")
		fs.DurationVar(&f.retryInitial, "retry-initial-interval", time.Second, "Delay before the first retry of a step.")
		fs.DurationVar(&f.retryMax, "retry-max-interval", 30*time.Second, "Upper bound of the delay between retries.")
		fs.BoolVar(&f.continueOnFailure, "continue-on-failure", false, "Keep deploying independent targets after a failure.")
		fs.StringVar(&f.defaultProcess, "default-process", "", "Process script for targets that declare none.")
		fs.DurationVar(&f.scriptTimeout, "script-timeout", 0, "Time limit for a single process script invocation. 0 is unlimited.")
		fs.StringArrayVarP(&f.env, "env", "e", nil, "KEY=VALUE passed to every process script. Repeatable.")
		fs.IntVar(&f.metricsPort, "metrics-port", 0, "Port for the /health and /metrics server. 0 is disabled.")
		fs.StringVar(&f.notifyURL, "notify-url", "", "socket.io server that receives live run events.")
	}

	runCmd := &cobra.Command{
		Use:   "run [PATH...]",
		Short: "Deploy every target that is not already recorded as completed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, f, args, true, errOut)
			if err != nil {
				return err
			}
			report, err := a.Run(cmd.Context())
			if report != nil {
				printReport(out, report)
			}
			return err
		},
	}
	execFlags(runCmd)

	planCmd := &cobra.Command{
		Use:   "plan [PATH...]",
		Short: "Validate the declaration and show what a run would deploy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, f, args, true, errOut)
			if err != nil {
				return err
			}
			planned, err := a.Plan(cmd.Context())
			if err != nil {
				return err
			}
			printPlan(out, planned)
			return nil
		},
	}
	execFlags(planCmd)

	root.AddCommand(runCmd, planCmd, newStateCommand(f, out, errOut))
	return root
}

// newApp resolves the effective configuration (defaults, then config file,
// then explicitly set flags) and validates it.
func newApp(cmd *cobra.Command, f *flags, args []string, needPaths bool, errOut io.Writer) (*app.App, error) {
	cfg := app.DefaultConfig()
	if f.configPath != "" {
		if err := app.LoadConfigFile(f.configPath, &cfg); err != nil {
			return nil, &ExitError{Code: ExitValidation, Message: err.Error()}
		}
	}
	applyFlags(cmd, f, &cfg)
	if len(args) > 0 {
		cfg.Paths = args
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if needPaths && len(cfg.Paths) == 0 {
		return nil, &ExitError{Code: ExitValidation, Message: "at least one declaration PATH is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ExitError{Code: ExitValidation, Message: err.Error()}
	}
	a := app.New(errOut, &cfg)
	a.Logger().Debug("CLI configuration resolved.", "paths", cfg.Paths, "state", cfg.StateURL, "workers", cfg.Workers)
	return a, nil
}

func applyFlags(cmd *cobra.Command, f *flags, cfg *app.Config) {
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("state") || cfg.StateURL == "" {
		cfg.StateURL = f.stateURL
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("max-attempts") {
		cfg.MaxAttempts = f.maxAttempts
	}
	if changed("retry-initial-interval") {
		cfg.RetryInitialInterval = f.retryInitial
	}
	if changed("retry-max-interval") {
		cfg.RetryMaxInterval = f.retryMax
	}
	if changed("continue-on-failure") {
		cfg.ContinueOnFailure = f.continueOnFailure
	}
	if changed("default-process") {
		cfg.DefaultProcess = f.defaultProcess
	}
	if changed("script-timeout") {
		cfg.ScriptTimeout = f.scriptTimeout
	}
	if changed("env") {
		cfg.Env = append(cfg.Env, f.env...)
	}
	if changed("metrics-port") {
		cfg.MetricsPort = f.metricsPort
	}
	if changed("notify-url") {
		cfg.NotifyURL = f.notifyURL
	}
}

// Execute runs the command line and maps the outcome to an *ExitError
// carrying the process exit code. A nil return means exit code 0.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	slog.Debug("CLI parser started.")
	root := NewRootCommand(out, errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	return toExitError(err)
}

func toExitError(err error) *ExitError {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	var verr *app.ValidationError
	if errors.As(err, &verr) {
		return &ExitError{Code: ExitValidation, Message: err.Error()}
	}
	var runErr *scheduler.RunError
	if errors.As(err, &runErr) {
		return &ExitError{Code: ExitRunFailed, Message: err.Error()}
	}
	if isUsageError(err) {
		return &ExitError{Code: ExitValidation, Message: err.Error()}
	}
	return &ExitError{Code: ExitRunFailed, Message: err.Error()}
}

// isUsageError recognizes the argument and flag errors cobra produces.
func isUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "unknown flag", "unknown shorthand flag", "flag needs an argument", "invalid argument", "accepts ", "requires "} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func fmtErr(format string, args ...any) error {
	return &ExitError{Code: ExitValidation, Message: fmt.Sprintf(format, args...)}
}
