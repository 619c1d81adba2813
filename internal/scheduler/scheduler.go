package scheduler

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/specialistvlad/deploygrid/internal/dag"
	"github.com/specialistvlad/deploygrid/internal/metrics"
	"github.com/specialistvlad/deploygrid/internal/notify"
	"github.com/specialistvlad/deploygrid/internal/state"
	"github.com/specialistvlad/deploygrid/internal/target"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultWorkers     = 4
	DefaultMaxAttempts = 1
)

// Options tune a Scheduler. The zero value is usable.
type Options struct {
	// Workers bounds the number of simultaneously Running targets.
	Workers int
	// MaxAttempts is how often a single step is tried before the target
	// fails. Values below 1 mean 1.
	MaxAttempts          int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	// ContinueOnFailure keeps admitting independent targets after a failure.
	ContinueOnFailure bool
	// RunID labels records and events. A random UUID is used when empty.
	RunID string
	// Hooks runs process script lifecycle entry points. Required when any
	// target declares hooks.
	Hooks   target.Hooks
	Sink    notify.Sink
	Metrics *metrics.Collectors
	Tracer  trace.Tracer
	Now     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = time.Second
	}
	if o.RetryMaxInterval <= 0 {
		o.RetryMaxInterval = 30 * time.Second
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.Sink == nil {
		o.Sink = notify.Nop{}
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer("github.com/specialistvlad/deploygrid/internal/scheduler")
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Scheduler runs dependency graphs against a state store.
type Scheduler struct {
	store state.Store
	opts  Options
}

// New creates a scheduler.
func New(store state.Store, opts Options) *Scheduler {
	return &Scheduler{store: store, opts: opts}
}

// Run executes the graph. order is the checker's topological order and is
// used as the admission priority; when nil it is computed with g.Check.
//
// The returned report always describes every target. The error is the fatal
// state store error if one occurred, otherwise the report's *RunError when
// anything did not complete, otherwise nil. Errors before execution starts
// (hashing, missing hook runner, initial store reads) return a report in
// which nothing ran.
func (s *Scheduler) Run(ctx context.Context, g *dag.Graph, order []target.Identity) (*Report, error) {
	opts := s.opts.withDefaults()
	if order == nil {
		var err error
		if order, err = g.Check(); err != nil {
			return nil, err
		}
	}

	ctx, span := opts.Tracer.Start(ctx, "scheduler.Run", trace.WithAttributes(
		attribute.String("deploygrid.run_id", opts.RunID),
		attribute.Int("deploygrid.targets", len(order)),
		attribute.Int("deploygrid.workers", opts.Workers),
	))
	defer span.End()
	ctx, logger := ctxlog.With(ctx, "run_id", opts.RunID)

	r := &run{
		store:   s.store,
		opts:    opts,
		entries: make(map[target.Identity]*entry, len(order)),
		gates:   make(map[string]*hookGate),
		scripts: make(map[string]*scriptProgress),
	}
	opts.Sink.Publish(ctx, notify.Event{Kind: notify.RunStarted, RunID: opts.RunID, Time: opts.Now()})

	if err := r.prepare(ctx, g, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		report := r.report()
		report.Cause = err
		r.publishFinished(ctx, report)
		return report, err
	}

	logger.Info("Executing deployment graph.",
		"targets", len(order), "replayed", r.replayed, "workers", opts.Workers)
	r.loop(ctx)

	report := r.report()
	opts.Metrics.RunFinished(report.OK())
	r.publishFinished(ctx, report)

	if r.fatal != nil {
		span.RecordError(r.fatal)
		span.SetStatus(codes.Error, r.fatal.Error())
		return report, r.fatal
	}
	if err := report.Err(); err != nil {
		span.SetStatus(codes.Error, "run failed")
		return report, err
	}
	span.SetStatus(codes.Ok, "")
	return report, nil
}

// entry is the owner goroutine's view of one target.
type entry struct {
	t          *target.Target
	index      int
	hash       string
	state      State
	replayed   bool
	stale      bool
	remaining  int
	dependents []*entry
	result     json.RawMessage
	attempts   int
	err        error
	chain      []target.Identity
	started    time.Time
	finished   time.Time
}

// scriptProgress tracks when a script's after hooks are due. Owner only.
type scriptProgress struct {
	script  *target.ProcessScript
	pending int
	used    bool
}

// hookGate runs a script's before hooks once; later callers wait for and
// share the first result.
type hookGate struct {
	once sync.Once
	err  error
}

func (g *hookGate) do(fn func() error) error {
	g.once.Do(func() { g.err = fn() })
	return g.err
}

type job struct {
	t     *target.Target
	hash  string
	stale bool
	deps  map[string]json.RawMessage
	links map[string]json.RawMessage
}

type outcome struct {
	id       target.Identity
	result   json.RawMessage
	attempts int
	err      error
	storeErr error
	finished time.Time
}

type run struct {
	store state.Store
	opts  Options

	// Owner goroutine only.
	order    []*entry
	entries  map[target.Identity]*entry
	ready    readyQueue
	scripts  map[string]*scriptProgress
	stopped  bool
	fatal    error
	cause    error
	replayed int

	// Read-only once workers start; gates synchronize themselves.
	gates map[string]*hookGate

	hooksWG      sync.WaitGroup
	hookMu       sync.Mutex
	hookFailures []*RunFailure
}

// prepare computes effective hashes, restores completed targets from the
// store and seeds the Ready queue.
func (r *run) prepare(ctx context.Context, g *dag.Graph, order []target.Identity) error {
	logger := ctxlog.FromContext(ctx)

	for i, id := range order {
		t, ok := g.Target(id)
		if !ok {
			return fmt.Errorf("target %s from topological order is not in the graph", id)
		}
		e := &entry{t: t, index: i}
		r.entries[id] = e
		r.order = append(r.order, e)
	}

	if r.opts.Hooks == nil {
		for _, e := range r.order {
			if p := e.t.Process; p != nil && (len(p.Before)+len(p.After)+len(p.BeforeEach)+len(p.AfterEach) > 0) {
				return fmt.Errorf("target %s declares lifecycle hooks but no hook runner is configured", e.t.ID())
			}
		}
	}

	for _, e := range r.order {
		specHash, err := e.t.Spec.Hash()
		if err != nil {
			return err
		}
		upstream := e.t.Upstream()
		sort.Slice(upstream, func(i, j int) bool { return upstream[i].Compare(upstream[j]) < 0 })
		upstreamHashes := make([]string, 0, len(upstream))
		allReplayed := true
		for _, up := range upstream {
			u, ok := r.entries[up]
			if !ok || u.index > e.index {
				return fmt.Errorf("topological order places %s before its upstream %s", e.t.ID(), up)
			}
			upstreamHashes = append(upstreamHashes, u.hash)
			u.dependents = append(u.dependents, e)
			if !u.replayed {
				allReplayed = false
			}
		}
		e.hash = target.ChainHash(specHash, upstreamHashes...)

		rec, found, err := r.store.Get(ctx, e.t.ID())
		if err != nil {
			r.fatal = err
			return err
		}
		switch {
		case found && rec.Completed && rec.Hash == e.hash && allReplayed:
			e.state = Completed
			e.replayed = true
			e.result = rec.Result
			r.replayed++
			r.opts.Metrics.TargetFinished(Completed.String(), true)
			r.publishState(ctx, e)
			logger.Debug("Target restored from state store.", "target", e.t.ID().String())
		case found:
			e.stale = true
		}
	}

	for _, e := range r.order {
		if e.t.Process != nil {
			id := e.t.Process.ID()
			sp, ok := r.scripts[id]
			if !ok {
				sp = &scriptProgress{script: e.t.Process}
				r.scripts[id] = sp
				r.gates[id] = &hookGate{}
			}
			if e.state != Completed {
				sp.pending++
			}
		}
		if e.state == Completed {
			continue
		}
		for _, up := range e.t.Upstream() {
			if r.entries[up].state != Completed {
				e.remaining++
			}
		}
		if e.remaining == 0 {
			r.markReady(ctx, e)
		}
	}
	return nil
}

func (r *run) markReady(ctx context.Context, e *entry) {
	e.state = Ready
	heap.Push(&r.ready, e)
	r.publishState(ctx, e)
}

// loop is the owner goroutine: it admits Ready targets while capacity allows
// and folds worker outcomes back into the run state.
func (r *run) loop(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	workers := r.opts.Workers

	jobs := make(chan job, len(r.order))
	results := make(chan outcome, len(r.order))
	var wg sync.WaitGroup
	logger.Debug("Starting worker pool.", "workers", workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := range jobs {
				results <- r.execute(ctx, j, workerID)
			}
		}(i)
	}

	running := 0
	done := ctx.Done()
	for {
		if done != nil && ctx.Err() != nil {
			logger.Warn("Context canceled, no new targets will be admitted.", "running", running)
			r.stopped = true
			r.cause = ctx.Err()
			done = nil
		}
		for !r.stopped && running < workers && r.ready.Len() > 0 {
			e := heap.Pop(&r.ready).(*entry)
			jobs <- r.admit(ctx, e)
			running++
		}
		if running == 0 {
			break
		}
		select {
		case out := <-results:
			running--
			r.finish(ctx, out)
		case <-done:
			logger.Warn("Context canceled, no new targets will be admitted.", "running", running)
			r.stopped = true
			r.cause = ctx.Err()
			done = nil
		}
	}
	if ctx.Err() != nil && r.cause == nil {
		r.cause = ctx.Err()
	}

	close(jobs)
	wg.Wait()
	r.hooksWG.Wait()
	logger.Debug("Worker pool drained.")
}

func (r *run) admit(ctx context.Context, e *entry) job {
	e.state = Running
	e.started = r.opts.Now()
	r.opts.Metrics.TargetStarted()
	r.publishState(ctx, e)

	if e.t.Process != nil {
		r.scripts[e.t.Process.ID()].used = true
	}

	j := job{t: e.t, hash: e.hash, stale: e.stale}
	j.deps = make(map[string]json.RawMessage, len(e.t.Dependencies))
	for _, id := range e.t.Dependencies {
		j.deps[id.String()] = r.entries[id].result
	}
	j.links = make(map[string]json.RawMessage, len(e.t.LinkIDs))
	for _, id := range e.t.LinkIDs {
		j.links[id.String()] = r.entries[id].result
	}
	return j
}

func (r *run) finish(ctx context.Context, out outcome) {
	logger := ctxlog.FromContext(ctx)
	e := r.entries[out.id]
	e.attempts = out.attempts
	e.finished = out.finished
	r.opts.Metrics.TargetStopped()

	switch {
	case out.storeErr != nil:
		logger.Error("State store failed, stopping the run.", "target", out.id.String(), "error", out.storeErr)
		if r.fatal == nil {
			r.fatal = out.storeErr
		}
		r.stopped = true
		r.fail(ctx, e, &RunFailure{Identity: out.id, Step: "record", Attempts: out.attempts, Err: out.storeErr})
	case out.err != nil:
		r.fail(ctx, e, out.err)
		if !r.opts.ContinueOnFailure && !r.stopped {
			logger.Warn("Target failed, no new targets will be admitted.", "target", out.id.String())
			r.stopped = true
		}
	default:
		e.state = Completed
		e.result = out.result
		r.opts.Metrics.TargetFinished(Completed.String(), false)
		r.publishState(ctx, e)
		for _, d := range e.dependents {
			d.remaining--
			if d.remaining == 0 && d.state == Pending {
				r.markReady(ctx, d)
			}
		}
		if e.t.Process != nil {
			sp := r.scripts[e.t.Process.ID()]
			sp.pending--
			if sp.pending == 0 && sp.used && len(sp.script.After) > 0 {
				r.runAfterHooks(ctx, e, sp.script)
			}
		}
	}
}

// fail marks e Failed and every transitive dependent Blocked.
func (r *run) fail(ctx context.Context, e *entry, err error) {
	e.state = Failed
	e.err = err
	r.opts.Metrics.TargetFinished(Failed.String(), false)
	r.publishState(ctx, e)

	queue := []*entry{e}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range cur.dependents {
			if d.state != Pending {
				continue
			}
			d.state = Blocked
			d.chain = append([]target.Identity{cur.t.ID()}, cur.chain...)
			d.err = &BlockedError{Identity: d.t.ID(), Chain: d.chain, Cause: e.err}
			r.opts.Metrics.TargetFinished(Blocked.String(), false)
			r.publishState(ctx, d)
			queue = append(queue, d)
		}
	}
}

func (r *run) recordHookFailure(f *RunFailure) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.hookFailures = append(r.hookFailures, f)
}

func (r *run) report() *Report {
	rep := &Report{RunID: r.opts.RunID, Cause: r.cause}
	for _, e := range r.order {
		rep.Targets = append(rep.Targets, TargetReport{
			Identity: e.t.ID(),
			State:    e.state,
			Replayed: e.replayed,
			Attempts: e.attempts,
			Result:   e.result,
			Err:      e.err,
			Started:  e.started,
			Finished: e.finished,
		})
	}
	r.hookMu.Lock()
	rep.HookFailures = append(rep.HookFailures, r.hookFailures...)
	r.hookMu.Unlock()
	if r.fatal != nil && rep.Cause == nil {
		rep.Cause = r.fatal
	}
	return rep
}

func (r *run) publishState(ctx context.Context, e *entry) {
	ev := notify.Event{
		Kind:     notify.TargetState,
		RunID:    r.opts.RunID,
		Time:     r.opts.Now(),
		Target:   e.t.ID().String(),
		State:    e.state.String(),
		Replayed: e.replayed,
	}
	if e.err != nil {
		ev.Error = e.err.Error()
	}
	r.opts.Sink.Publish(ctx, ev)
}

func (r *run) publishFinished(ctx context.Context, rep *Report) {
	counts := make(map[string]int)
	for st, n := range rep.Counts() {
		counts[st.String()] = n
	}
	ev := notify.Event{Kind: notify.RunFinished, RunID: rep.RunID, Time: r.opts.Now(), Counts: counts}
	if err := rep.Err(); err != nil {
		var runErr *RunError
		if errors.As(err, &runErr) {
			ev.Error = fmt.Sprintf("%d failed, %d blocked, %d not started", len(runErr.Failed), len(runErr.Blocked), len(runErr.Unstarted))
		} else {
			ev.Error = err.Error()
		}
	}
	r.opts.Sink.Publish(ctx, ev)
}

// readyQueue orders Ready targets by topological position.
type readyQueue []*entry

func (q readyQueue) Len() int           { return len(q) }
func (q readyQueue) Less(i, j int) bool { return q[i].index < q[j].index }
func (q readyQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x any)        { *q = append(*q, x.(*entry)) }
func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}
