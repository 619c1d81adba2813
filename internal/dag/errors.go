package dag

import (
	"fmt"
	"strings"

	"github.com/specialistvlad/deploygrid/internal/target"
)

// UnresolvedDependencyError reports a dependsOn or links reference that names
// no target in the declaration.
type UnresolvedDependencyError struct {
	From  target.Identity
	Ref   target.Reference
	Field string
	// Elsewhere lists targets with the same contract name on other
	// networks. Unqualified references never fall back to them.
	Elsewhere []target.Identity
}

func (e *UnresolvedDependencyError) Error() string {
	msg := fmt.Sprintf("unresolved %s reference %q in %s", e.Field, string(e.Ref), e.From)
	if len(e.Elsewhere) > 0 {
		names := make([]string, 0, len(e.Elsewhere))
		for _, id := range e.Elsewhere {
			names = append(names, id.String())
		}
		msg += fmt.Sprintf(" (did you mean %s? cross-network references must be qualified)", strings.Join(names, " or "))
	}
	return msg
}

// DuplicateTargetError reports two contract specs resolving to the same
// identity. First and Second locate both declarations.
type DuplicateTargetError struct {
	Identity target.Identity
	First    string
	Second   string
}

func (e *DuplicateTargetError) Error() string {
	return fmt.Sprintf("duplicate target %s declared at %s and %s", e.Identity, e.First, e.Second)
}

// CyclicDependencyError carries the shortest cycle found through the first
// back edge. The cycle is closed implicitly: the last identity waits for the
// first one.
type CyclicDependencyError struct {
	Cycle []target.Identity
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Cycle) == 0 {
		return "cyclic dependency detected"
	}
	parts := make([]string, 0, len(e.Cycle)+1)
	for _, id := range e.Cycle {
		parts = append(parts, id.String())
	}
	parts = append(parts, e.Cycle[0].String())
	return "cyclic dependency: " + strings.Join(parts, " -> ")
}
