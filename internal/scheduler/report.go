package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/specialistvlad/deploygrid/internal/target"
)

// ErrNotCompleted is the cause recorded when a target's run succeeded but its
// completion predicate still reports false.
var ErrNotCompleted = errors.New("completion check returned false after run")

// RunFailure is the per-target execution error. It is recorded in the report
// rather than returned, and blocks the target's dependents.
type RunFailure struct {
	Identity target.Identity
	// Step is the pipeline step or lifecycle phase that failed: a step name,
	// "before", "beforeEach", "afterEach", "after", "check" or "record".
	Step     string
	Attempts int
	Err      error
}

func (e *RunFailure) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: %s failed after %d attempts: %v", e.Identity, e.Step, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %s failed: %v", e.Identity, e.Step, e.Err)
}

func (e *RunFailure) Unwrap() error { return e.Err }

// BlockedError explains why a target was never attempted. Chain lists the
// upstream path from the direct dependency to the target that failed.
type BlockedError struct {
	Identity target.Identity
	Chain    []target.Identity
	Cause    error
}

func (e *BlockedError) Error() string {
	parts := make([]string, 0, len(e.Chain))
	for _, id := range e.Chain {
		parts = append(parts, id.String())
	}
	return fmt.Sprintf("%s blocked by %s: %v", e.Identity, strings.Join(parts, " <- "), e.Cause)
}

func (e *BlockedError) Unwrap() error { return e.Cause }

// Root returns the identity of the failed target behind the block.
func (e *BlockedError) Root() target.Identity {
	if len(e.Chain) == 0 {
		return target.Identity{}
	}
	return e.Chain[len(e.Chain)-1]
}

// TargetReport is the final view of one target.
type TargetReport struct {
	Identity target.Identity
	State    State
	// Replayed is set for targets restored from the state store.
	Replayed bool
	Attempts int
	Result   json.RawMessage
	// Err is a *RunFailure for Failed targets and a *BlockedError for
	// Blocked ones.
	Err      error
	Started  time.Time
	Finished time.Time
}

// Report is the aggregated outcome of a run, in topological order.
type Report struct {
	RunID        string
	Targets      []TargetReport
	HookFailures []*RunFailure
	// Cause is set when the run stopped early for a reason other than a
	// target failure, such as cancellation or a state store error.
	Cause error
}

// OK reports whether every target completed and no hook failed.
func (r *Report) OK() bool {
	if r.Cause != nil || len(r.HookFailures) > 0 {
		return false
	}
	for _, t := range r.Targets {
		if t.State != Completed {
			return false
		}
	}
	return true
}

// Counts returns the number of targets per final state.
func (r *Report) Counts() map[State]int {
	out := make(map[State]int)
	for _, t := range r.Targets {
		out[t.State]++
	}
	return out
}

// Target looks up the report of one target.
func (r *Report) Target(id target.Identity) (TargetReport, bool) {
	for _, t := range r.Targets {
		if t.Identity == id {
			return t, true
		}
	}
	return TargetReport{}, false
}

// Executed returns the number of targets that ran in this run, as opposed to
// being replayed or never admitted.
func (r *Report) Executed() int {
	n := 0
	for _, t := range r.Targets {
		if (t.State == Completed && !t.Replayed) || t.State == Failed {
			n++
		}
	}
	return n
}

// Err returns a *RunError describing everything that went wrong, or nil.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	runErr := &RunError{RunID: r.RunID, HookFailures: r.HookFailures, Cause: r.Cause}
	for _, t := range r.Targets {
		switch t.State {
		case Failed:
			runErr.Failed = append(runErr.Failed, t)
		case Blocked:
			runErr.Blocked = append(runErr.Blocked, t)
		case Pending, Ready, Running:
			runErr.Unstarted = append(runErr.Unstarted, t.Identity)
		}
	}
	return runErr
}

// RunError aggregates every Failed and Blocked target of a run, plus targets
// that were never admitted.
type RunError struct {
	RunID        string
	Failed       []TargetReport
	Blocked      []TargetReport
	Unstarted    []target.Identity
	HookFailures []*RunFailure
	Cause        error
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s failed: %d failed, %d blocked, %d not started",
		e.RunID, len(e.Failed), len(e.Blocked), len(e.Unstarted))
	if len(e.HookFailures) > 0 {
		fmt.Fprintf(&b, ", %d hook failures", len(e.HookFailures))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, "\n  stopped: %v", e.Cause)
	}
	for _, t := range e.Failed {
		fmt.Fprintf(&b, "\n  %v", t.Err)
	}
	for _, t := range e.Blocked {
		fmt.Fprintf(&b, "\n  %v", t.Err)
	}
	for _, h := range e.HookFailures {
		fmt.Fprintf(&b, "\n  %v", h)
	}
	return b.String()
}

// Unwrap exposes every underlying error to errors.Is and errors.As.
func (e *RunError) Unwrap() []error {
	var errs []error
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	for _, t := range e.Failed {
		errs = append(errs, t.Err)
	}
	for _, t := range e.Blocked {
		errs = append(errs, t.Err)
	}
	for _, h := range e.HookFailures {
		errs = append(errs, h)
	}
	return errs
}
