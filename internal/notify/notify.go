// Package notify publishes run progress events to interested sinks: the
// structured log, and optionally a socket.io dashboard.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/specialistvlad/deploygrid/internal/ctxlog"
)

// Kind classifies an event.
type Kind string

const (
	RunStarted   Kind = "run.started"
	TargetState  Kind = "target.state"
	HookFinished Kind = "hook.finished"
	RunFinished  Kind = "run.finished"
)

// Event is one progress notification. Target, State and Hook are set
// depending on Kind.
type Event struct {
	Kind     Kind
	RunID    string
	Time     time.Time
	Target   string
	State    string
	Replayed bool
	// Hook is "<phase>:<entry>" for hook events, e.g. "before:setup".
	Hook  string
	Error string
	// Counts summarizes final states on RunFinished.
	Counts map[string]int
}

// Sink receives events. Publish must not block for long; it runs on the
// scheduler's critical path.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}

// LogSink writes events to the context logger.
type LogSink struct{}

func (LogSink) Publish(ctx context.Context, ev Event) {
	logger := ctxlog.FromContext(ctx)
	switch ev.Kind {
	case RunStarted:
		logger.Info("🚀 Run started.", "run_id", ev.RunID)
	case RunFinished:
		args := []any{"run_id", ev.RunID}
		for _, k := range []string{"completed", "failed", "blocked", "pending", "ready"} {
			if n := ev.Counts[k]; n > 0 {
				args = append(args, k, n)
			}
		}
		if ev.Error != "" {
			logger.Error("❌ Run finished with failures.", append(args, "error", ev.Error)...)
			return
		}
		logger.Info("✅ Run finished.", args...)
	case HookFinished:
		if ev.Error != "" {
			logger.Error("Hook failed.", "hook", ev.Hook, "target", ev.Target, "error", ev.Error)
			return
		}
		logger.Debug("Hook finished.", "hook", ev.Hook, "target", ev.Target)
	default:
		args := []any{"target", ev.Target, "state", ev.State}
		if ev.Replayed {
			args = append(args, "replayed", true)
		}
		switch {
		case ev.Error != "":
			logger.Warn("Target state changed.", append(args, "error", ev.Error)...)
		case ev.State == "running" || ev.State == "completed":
			logger.Info("Target state changed.", args...)
		default:
			logger.Debug("Target state changed.", args...)
		}
	}
}

// Recorder keeps every event in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
