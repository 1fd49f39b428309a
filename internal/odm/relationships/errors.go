package relationships

import (
	"errors"
	"fmt"
)

var (
	// ErrConsistency is wrapped by every ConsistencyActionError
	ErrConsistency = errors.New("relationship consistency action failed")

	// ErrUnkeyedEntity is returned when a linked entity has no key yet
	ErrUnkeyedEntity = errors.New("linked entity has no key")
)

// ConsistencyActionError reports a deferred cross-document operation that failed. Actions
// queued after it were not executed.
type ConsistencyActionError struct {
	Action    string
	Abandoned int
	Err       error
}

// Error implements the error interface
func (e *ConsistencyActionError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Action, e.Err)
	if e.Abandoned > 0 {
		msg += fmt.Sprintf(" (%d queued actions abandoned)", e.Abandoned)
	}
	return msg
}

// Unwrap exposes ErrConsistency and the cause
func (e *ConsistencyActionError) Unwrap() []error {
	return []error{ErrConsistency, e.Err}
}

// IsConsistency returns true if the error is a ConsistencyActionError
func IsConsistency(err error) bool {
	return errors.Is(err, ErrConsistency)
}
