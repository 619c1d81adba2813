package target

import (
	"context"
	"encoding/json"
)

// Invocation is the argument set passed to every step, hook and completion
// predicate of a target.
type Invocation struct {
	Step         string                     `json:"step,omitempty"`
	Contract     string                     `json:"contract"`
	Network      string                     `json:"network"`
	DeploySet    string                     `json:"deploySet"`
	Options      []string                   `json:"options"`
	Dependencies map[string]json.RawMessage `json:"dependencies"`
	Links        map[string]json.RawMessage `json:"links"`
}

// StepFunc executes one named step of a target's run pipeline and returns its
// opaque result payload (for example the deployed address).
type StepFunc func(ctx context.Context, inv Invocation) (json.RawMessage, error)

// Step is a single, independently retryable stage of a run pipeline.
type Step struct {
	Name string
	Do   StepFunc
}

// CompletionFunc reports whether a target's deployment is in place. It must
// be free of side effects and safe to call repeatedly.
type CompletionFunc func(ctx context.Context, inv Invocation) (bool, error)

// Binder attaches run and completion capabilities to a spec.
type Binder interface {
	Bind(spec Spec) ([]Step, CompletionFunc, error)
}

// Hooks invokes a named lifecycle entry point of a process script.
type Hooks interface {
	RunHook(ctx context.Context, script *ProcessScript, entry string, inv Invocation) error
}

// Target is a fully bound deployment unit. Dependencies and LinkIDs hold
// resolved identities in declaration order; the raw references stay in
// Spec.DependsOn and Spec.Links.
type Target struct {
	Spec
	Dependencies []Identity
	LinkIDs      []Identity
	Steps        []Step
	Completion   CompletionFunc
}

// New binds a spec into a target with no resolved references yet.
func New(spec Spec, binder Binder) (*Target, error) {
	steps, completion, err := binder.Bind(spec)
	if err != nil {
		return nil, err
	}
	return &Target{Spec: spec, Steps: steps, Completion: completion}, nil
}

// ID returns the target identity.
func (t *Target) ID() Identity {
	return t.Identity
}

// WithResolved returns a copy of the target carrying resolved references.
func (t *Target) WithResolved(deps, links []Identity) *Target {
	c := *t
	c.Dependencies = append([]Identity(nil), deps...)
	c.LinkIDs = append([]Identity(nil), links...)
	return &c
}

// Upstream returns every identity the target must wait for: dependencies
// first, then links not already listed as dependencies.
func (t *Target) Upstream() []Identity {
	seen := make(map[Identity]struct{}, len(t.Dependencies)+len(t.LinkIDs))
	out := make([]Identity, 0, len(t.Dependencies)+len(t.LinkIDs))
	for _, list := range [][]Identity{t.Dependencies, t.LinkIDs} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// OptionStrings renders the target options in canonical text form.
func (t *Target) OptionStrings() []string {
	out := make([]string, 0, len(t.Options))
	for _, o := range t.Options {
		out = append(out, o.String())
	}
	return out
}

// StaticBinder binds every spec to the same step pipeline and predicate.
// Useful for dry runs and tests.
type StaticBinder struct {
	Steps      []Step
	Completion CompletionFunc
}

// Bind implements Binder.
func (b StaticBinder) Bind(Spec) ([]Step, CompletionFunc, error) {
	completion := b.Completion
	if completion == nil {
		completion = AlwaysCompleted
	}
	return b.Steps, completion, nil
}

// AlwaysCompleted is the predicate used when a target declares no check:
// success of the run pipeline is taken as completion.
func AlwaysCompleted(context.Context, Invocation) (bool, error) {
	return true, nil
}
