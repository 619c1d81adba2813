package app

// ValidationError marks a failure that happened before anything was
// executed: unreadable or malformed declarations, unresolved references,
// duplicates, cycles and binding errors.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Err: err}
}
