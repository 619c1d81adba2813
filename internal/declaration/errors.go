package declaration

import "fmt"

// MalformedDeclarationError reports a declaration value that does not fit the
// declaration schema. Path locates the value as deploySet/network/index/field.
type MalformedDeclarationError struct {
	Path   string
	Reason string
	// Source is the declaration file, when known.
	Source string
}

func (e *MalformedDeclarationError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("malformed declaration at %s: %s (in %s)", e.Path, e.Reason, e.Source)
	}
	return fmt.Sprintf("malformed declaration at %s: %s", e.Path, e.Reason)
}
