package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/specialistvlad/deploygrid/internal/notify"
	"github.com/specialistvlad/deploygrid/internal/state"
	"github.com/specialistvlad/deploygrid/internal/target"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// execute runs one target on a worker goroutine. It never touches owner
// state; everything it learns goes back in the outcome.
func (r *run) execute(ctx context.Context, j job, workerID int) (out outcome) {
	t := j.t
	out.id = t.ID()
	ctx, logger := ctxlog.With(ctx, "target", t.ID().String())
	logger.Debug("Worker picked up target for execution.", "workerID", workerID)

	ctx, span := r.opts.Tracer.Start(ctx, "target "+t.ID().String(), trace.WithAttributes(
		attribute.String("deploygrid.contract", t.Identity.Contract),
		attribute.String("deploygrid.network", t.Identity.Network),
		attribute.String("deploygrid.deploy_set", t.DeploySet),
	))
	defer func() {
		out.finished = r.opts.Now()
		switch {
		case out.storeErr != nil:
			span.RecordError(out.storeErr)
			span.SetStatus(codes.Error, out.storeErr.Error())
		case out.err != nil:
			span.RecordError(out.err)
			span.SetStatus(codes.Error, out.err.Error())
		default:
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if j.stale {
		logger.Info("Spec changed since last run, invalidating execution record.")
		if err := r.store.Invalidate(ctx, t.ID()); err != nil {
			out.storeErr = state.Wrap("invalidate", t.ID(), err)
			return out
		}
	}

	inv := target.Invocation{
		Contract:     t.Identity.Contract,
		Network:      t.Identity.Network,
		DeploySet:    t.DeploySet,
		Options:      t.OptionStrings(),
		Dependencies: j.deps,
		Links:        j.links,
	}
	script := t.Process

	if script != nil && len(script.Before) > 0 {
		gate := r.gates[script.ID()]
		err := gate.do(func() error {
			return r.runHooks(ctx, t, script, "before", script.Before, inv)
		})
		if err != nil {
			out.err = &RunFailure{Identity: t.ID(), Step: "before", Err: err}
			return out
		}
	}

	for _, step := range t.Steps {
		stepInv := inv
		stepInv.Step = step.Name

		if script != nil {
			if err := r.runHooks(ctx, t, script, "beforeEach", script.BeforeEach, stepInv); err != nil {
				out.err = &RunFailure{Identity: t.ID(), Step: "beforeEach", Err: err}
				return out
			}
		}

		result, attempts, err := r.runStep(ctx, step, stepInv)
		out.attempts += attempts
		if err != nil {
			out.err = &RunFailure{Identity: t.ID(), Step: step.Name, Attempts: attempts, Err: err}
			return out
		}
		if len(result) > 0 {
			out.result = result
		}

		if script != nil {
			if err := r.runHooks(ctx, t, script, "afterEach", script.AfterEach, stepInv); err != nil {
				out.err = &RunFailure{Identity: t.ID(), Step: "afterEach", Err: err}
				return out
			}
		}
	}

	if t.Completion != nil {
		checkInv := inv
		checkInv.Step = "check"
		done, err := t.Completion(ctx, checkInv)
		if err != nil {
			out.err = &RunFailure{Identity: t.ID(), Step: "check", Err: err}
			return out
		}
		if !done {
			out.err = &RunFailure{Identity: t.ID(), Step: "check", Err: ErrNotCompleted}
			return out
		}
	}

	rec := state.Record{
		Identity:    t.ID(),
		Hash:        j.hash,
		Completed:   true,
		CompletedAt: r.opts.Now().UTC(),
		Result:      out.result,
		RunID:       r.opts.RunID,
	}
	// The record must land even if the run is being canceled: the external
	// side effect already happened.
	if err := r.store.Put(context.WithoutCancel(ctx), rec); err != nil {
		out.storeErr = state.Wrap("put", t.ID(), err)
		return out
	}
	logger.Debug("Target completed and recorded.", "attempts", out.attempts)
	return out
}

// runStep runs a step with exponential backoff until it succeeds or
// MaxAttempts is reached.
func (r *run) runStep(ctx context.Context, step target.Step, inv target.Invocation) (json.RawMessage, int, error) {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()
	attempts := 0

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.RetryInitialInterval
	b.MaxInterval = r.opts.RetryMaxInterval

	result, err := backoff.Retry(ctx, func() (json.RawMessage, error) {
		attempts++
		res, err := step.Do(ctx, inv)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("Step failed, retrying.", "step", step.Name, "attempt", attempts, "retry_in", next, "error", err)
		}),
	)
	r.opts.Metrics.ObserveStep(step.Name, err, time.Since(start))
	return result, attempts, err
}

// runHooks invokes the given entry points in order and stops at the first
// failure.
func (r *run) runHooks(ctx context.Context, t *target.Target, script *target.ProcessScript, phase string, entries []string, inv target.Invocation) error {
	for _, name := range entries {
		err := r.opts.Hooks.RunHook(ctx, script, name, inv)
		ev := notify.Event{
			Kind:   notify.HookFinished,
			RunID:  r.opts.RunID,
			Time:   r.opts.Now(),
			Target: t.ID().String(),
			Hook:   phase + ":" + name,
		}
		if err != nil {
			ev.Error = err.Error()
			r.opts.Metrics.HookFailed(phase)
			r.opts.Sink.Publish(ctx, ev)
			return fmt.Errorf("%s hook %q of %s: %w", phase, name, script.ID(), err)
		}
		r.opts.Sink.Publish(ctx, ev)
	}
	return nil
}

// runAfterHooks runs a script's after hooks off the owner goroutine. The run
// waits for them before returning its report.
func (r *run) runAfterHooks(ctx context.Context, last *entry, script *target.ProcessScript) {
	inv := target.Invocation{
		Contract:  last.t.Identity.Contract,
		Network:   last.t.Identity.Network,
		DeploySet: last.t.DeploySet,
		Options:   last.t.OptionStrings(),
	}
	r.hooksWG.Add(1)
	go func() {
		defer r.hooksWG.Done()
		if err := r.runHooks(ctx, last.t, script, "after", script.After, inv); err != nil {
			ctxlog.FromContext(ctx).Error("After hook failed.", "script", script.ID(), "error", err)
			r.recordHookFailure(&RunFailure{Identity: last.t.ID(), Step: "after", Err: err})
		}
	}()
}
