package dag

import (
	"context"
	"strings"

	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/specialistvlad/deploygrid/internal/target"
)

// Build resolves every dependsOn and links reference of the given targets
// and returns the dependency graph. Unqualified references resolve within the
// referencing target's network only; other networks must be named
// explicitly as network:contract. The graph holds copies of the targets with
// Dependencies and LinkIDs filled in. Cycles are left for Check.
func Build(ctx context.Context, targets []*target.Target) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: Starting graph construction.", "targets", len(targets))

	specs := make([]target.Spec, 0, len(targets))
	for _, t := range targets {
		specs = append(specs, t.Spec)
	}
	if err := CheckDuplicates(specs); err != nil {
		return nil, err
	}

	known := make(map[target.Identity]struct{}, len(targets))
	byContract := make(map[string][]target.Identity)
	for _, t := range targets {
		known[t.ID()] = struct{}{}
		byContract[t.Identity.Contract] = append(byContract[t.Identity.Contract], t.ID())
	}

	resolve := func(t *target.Target, refs []target.Reference, field string) ([]target.Identity, error) {
		var out []target.Identity
		seen := make(map[target.Identity]struct{}, len(refs))
		for _, ref := range refs {
			id := ref.Resolve(t.Identity.Network)
			if _, ok := known[id]; !ok {
				err := &UnresolvedDependencyError{From: t.ID(), Ref: ref, Field: field}
				if !strings.Contains(string(ref), ":") {
					err.Elsewhere = byContract[id.Contract]
				}
				return nil, err
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
		return out, nil
	}

	g := New()
	resolved := make([]*target.Target, 0, len(targets))
	for _, t := range targets {
		deps, err := resolve(t, t.DependsOn, DependsOn.String())
		if err != nil {
			return nil, err
		}
		links, err := resolve(t, t.Links, Link.String())
		if err != nil {
			return nil, err
		}
		rt := t.WithResolved(deps, links)
		resolved = append(resolved, rt)
		g.AddNode(rt)
	}
	logger.Debug("Build: Node creation complete.", "node_count", g.Len())

	for _, t := range resolved {
		for _, dep := range t.Dependencies {
			if err := g.AddEdge(dep, t.ID(), DependsOn); err != nil {
				return nil, err
			}
		}
		for _, link := range t.LinkIDs {
			if err := g.AddEdge(link, t.ID(), Link); err != nil {
				return nil, err
			}
		}
	}
	logger.Debug("Build: Node linking complete.")
	return g, nil
}
