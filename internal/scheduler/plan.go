package scheduler

import (
	"context"

	"github.com/specialistvlad/deploygrid/internal/dag"
	"github.com/specialistvlad/deploygrid/internal/notify"
	"github.com/specialistvlad/deploygrid/internal/target"
)

// PlannedTarget describes what a run would do with one target.
type PlannedTarget struct {
	Identity target.Identity
	// Hash is the effective hash the target would be recorded under.
	Hash string
	// Replay is set when the target would be restored from the store.
	Replay bool
	// Stale is set when a record exists but no longer matches.
	Stale bool
}

type noHooks struct{}

func (noHooks) RunHook(context.Context, *target.ProcessScript, string, target.Invocation) error {
	return nil
}

// Plan reads the store and reports, in topological order, which targets a
// run would execute. Nothing is executed or written.
func (s *Scheduler) Plan(ctx context.Context, g *dag.Graph, order []target.Identity) ([]PlannedTarget, error) {
	opts := s.opts.withDefaults()
	opts.Sink = notify.Nop{}
	opts.Metrics = nil
	opts.Hooks = noHooks{}
	if order == nil {
		var err error
		if order, err = g.Check(); err != nil {
			return nil, err
		}
	}

	r := &run{
		store:   s.store,
		opts:    opts,
		entries: make(map[target.Identity]*entry, len(order)),
		gates:   make(map[string]*hookGate),
		scripts: make(map[string]*scriptProgress),
	}
	if err := r.prepare(ctx, g, order); err != nil {
		return nil, err
	}

	out := make([]PlannedTarget, 0, len(r.order))
	for _, e := range r.order {
		out = append(out, PlannedTarget{Identity: e.t.ID(), Hash: e.hash, Replay: e.replayed, Stale: e.stale})
	}
	return out, nil
}
