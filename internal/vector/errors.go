package vector

import (
	"fmt"
	"time"
)

// DimensionError indicates a vector whose dimensionality does not match the
// dimension fixed at index creation. It is a caller input error, not retryable.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// BackendUnavailableError indicates that the remote vector backend could not
// be reached or answered with a server error. It is retryable by the caller
// with backoff; the store does not retry internally. Backend identity and the
// last attempt time are carried to support caller-side retry policy.
type BackendUnavailableError struct {
	Backend string
	At      time.Time
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("vector backend %s unavailable (last attempt %s): %v",
		e.Backend, e.At.Format(time.RFC3339), e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// PersistenceError indicates a failed durable write (create, write, or
// rename). In-memory state is preserved, so the caller may retry the
// mutation without data loss.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConsistencyError indicates mismatched persisted files or orphaned vector
// entries. It is fatal at startup: the store refuses to serve partial state.
type ConsistencyError struct {
	Reason string
}

func (e *ConsistencyError) Error() string {
	return "index state inconsistent: " + e.Reason
}
