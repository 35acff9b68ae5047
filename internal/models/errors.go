package models

import "fmt"

// ValidationError reports malformed caller input (empty text or query,
// out-of-range alpha, non-positive k). It is reported immediately to the
// caller and is never retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
