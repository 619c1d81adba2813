package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/specialistvlad/deploygrid/internal/dag"
	"github.com/specialistvlad/deploygrid/internal/declaration"
	"github.com/specialistvlad/deploygrid/internal/metrics"
	"github.com/specialistvlad/deploygrid/internal/notify"
	"github.com/specialistvlad/deploygrid/internal/process"
	"github.com/specialistvlad/deploygrid/internal/scheduler"
	"github.com/specialistvlad/deploygrid/internal/state"
	"github.com/specialistvlad/deploygrid/internal/target"
)

// App wires the pipeline together: declarations are loaded, normalized,
// bound to process scripts, resolved into a graph, checked and executed.
type App struct {
	cfg    *Config
	outW   io.Writer
	logger *slog.Logger

	registry   *prometheus.Registry
	metrics    *metrics.Collectors
	httpServer *http.Server

	// openStore is swapped in tests.
	openStore func(ctx context.Context, url string) (state.Store, error)
}

// New creates an App. The config must already be validated.
func New(outW io.Writer, cfg *Config) *App {
	logger := NewLogger(cfg.LogLevel, cfg.LogFormat, outW)
	reg := prometheus.NewRegistry()
	logger.Debug("Logger configured successfully.")
	return &App{
		cfg:       cfg,
		outW:      outW,
		logger:    logger,
		registry:  reg,
		metrics:   metrics.New(reg),
		openStore: OpenStore,
	}
}

// Logger returns the App's logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Graph is a loaded, resolved and checked declaration.
type Graph struct {
	*dag.Graph
	// Order is a topological order, dependencies first.
	Order []target.Identity
}

// Load runs every validation stage and returns the checked graph. Every
// error it returns is a *ValidationError.
func (a *App) Load(ctx context.Context, binder target.Binder) (*Graph, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := a.logger
	if len(a.cfg.Paths) == 0 {
		return nil, invalid(errors.New("no declaration paths given"))
	}

	decl, err := declaration.Load(ctx, a.cfg.Paths...)
	if err != nil {
		return nil, invalid(err)
	}
	specs, err := declaration.Normalize(decl)
	if err != nil {
		return nil, invalid(err)
	}
	logger.Debug("Declaration normalized.", "targets", len(specs))

	if err := dag.CheckDuplicates(specs); err != nil {
		return nil, invalid(err)
	}

	targets := make([]*target.Target, 0, len(specs))
	for _, s := range specs {
		t, err := target.New(s, binder)
		if err != nil {
			return nil, invalid(fmt.Errorf("binding %s (%s): %w", s.Identity, s.Path, err))
		}
		targets = append(targets, t)
	}

	g, err := dag.Build(ctx, targets)
	if err != nil {
		return nil, invalid(err)
	}
	order, err := g.Check()
	if err != nil {
		return nil, invalid(err)
	}
	logger.Debug("Dependency graph built and checked.", "targets", g.Len())
	return &Graph{Graph: g, Order: order}, nil
}

func (a *App) runner() *process.Runner {
	return process.New(process.Config{
		DefaultScript: a.cfg.DefaultProcess,
		Env:           a.cfg.Env,
		Timeout:       a.cfg.ScriptTimeout,
	})
}

func (a *App) schedulerOptions(runID string, hooks target.Hooks, sink notify.Sink) scheduler.Options {
	return scheduler.Options{
		Workers:              a.cfg.Workers,
		MaxAttempts:          a.cfg.MaxAttempts,
		RetryInitialInterval: a.cfg.RetryInitialInterval,
		RetryMaxInterval:     a.cfg.RetryMaxInterval,
		ContinueOnFailure:    a.cfg.ContinueOnFailure,
		RunID:                runID,
		Hooks:                hooks,
		Sink:                 sink,
		Metrics:              a.metrics,
	}
}

// Run executes the declaration. The report is returned whenever execution
// started, together with the run error if anything did not complete.
func (a *App) Run(ctx context.Context) (*scheduler.Report, error) {
	runID := uuid.NewString()
	ctx, logger := ctxlog.With(ctxlog.WithLogger(ctx, a.logger), "run_id", runID)
	logger.Debug("App.Run method started.")

	runner := a.runner()
	defer func() { _ = runner.Close(context.WithoutCancel(ctx)) }()

	g, err := a.Load(ctx, runner)
	if err != nil {
		return nil, err
	}
	if g.Len() == 0 {
		logger.Warn("No targets found in declaration, execution not required.")
		return &scheduler.Report{RunID: runID}, nil
	}

	if err := a.startServer(ctx); err != nil {
		return nil, err
	}
	defer a.stopServer(ctx)

	store, err := a.openStore(ctx, a.cfg.StateURL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close state store.", "error", err)
		}
	}()

	sink, closeSink := a.sink(ctx)
	defer closeSink()

	logger.Info("🚀 Starting deployment.", "targets", g.Len(), "workers", a.cfg.Workers)
	report, err := scheduler.New(store, a.schedulerOptions(runID, runner, sink)).Run(ctx, g.Graph, g.Order)
	if report != nil {
		replayed := 0
		for _, t := range report.Targets {
			if t.Replayed {
				replayed++
			}
		}
		counts := report.Counts()
		logger.Info("🏁 Deployment finished.",
			"completed", counts[scheduler.Completed],
			"replayed", replayed,
			"failed", counts[scheduler.Failed],
			"blocked", counts[scheduler.Blocked])
	}
	return report, err
}

// Plan validates the declaration and reports what a run would do, without
// executing anything.
func (a *App) Plan(ctx context.Context) ([]scheduler.PlannedTarget, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	g, err := a.Load(ctx, a.runner())
	if err != nil {
		return nil, err
	}
	store, err := a.openStore(ctx, a.cfg.StateURL)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return scheduler.New(store, a.schedulerOptions("", nil, nil)).Plan(ctx, g.Graph, g.Order)
}

// Record returns the stored execution record of one target.
func (a *App) Record(ctx context.Context, id target.Identity) (state.Record, bool, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	store, err := a.openStore(ctx, a.cfg.StateURL)
	if err != nil {
		return state.Record{}, false, err
	}
	defer store.Close()
	return store.Get(ctx, id)
}

// Invalidate deletes the execution record of one target, forcing it and its
// dependents to run again.
func (a *App) Invalidate(ctx context.Context, id target.Identity) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	store, err := a.openStore(ctx, a.cfg.StateURL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Invalidate(ctx, id); err != nil {
		return err
	}
	a.logger.Info("Execution record invalidated.", "target", id.String())
	return nil
}

// sink builds the notification fan-out. A dashboard that cannot be reached
// is logged and skipped.
func (a *App) sink(ctx context.Context) (notify.Sink, func()) {
	sinks := notify.Multi{notify.LogSink{}}
	if a.cfg.NotifyURL == "" {
		return sinks, func() {}
	}
	sio, err := notify.DialSocketIO(ctx, notify.SocketIOOptions{URL: a.cfg.NotifyURL})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Notification sink unavailable, continuing without it.", "url", a.cfg.NotifyURL, "error", err)
		return sinks, func() {}
	}
	return append(sinks, sio), func() { _ = sio.Close() }
}
