package scheduler

import "fmt"

// State is the lifecycle position of a target within one run.
type State int

const (
	Pending State = iota
	Ready
	Running
	Completed
	Failed
	Blocked
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Final reports whether the state can no longer change during a run.
func (s State) Final() bool {
	return s == Completed || s == Failed || s == Blocked
}
