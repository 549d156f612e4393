package types

import (
	"errors"
	"fmt"
)

// ErrWuNotFound is returned when no record exists for a supplied WU id.
var ErrWuNotFound = errors.New("WU not found")

// StateInconsistentError reports that the durable state store and the
// on-disk record disagree about a WU. Recoverable via the recover command,
// never a panic.
type StateInconsistentError struct {
	ID     string
	Reason string
}

func (e *StateInconsistentError) Error() string {
	return fmt.Sprintf("%s: state inconsistent: %s", e.ID, e.Reason)
}

// IsStateInconsistent reports whether err wraps a StateInconsistentError.
func IsStateInconsistent(err error) bool {
	var sie *StateInconsistentError
	return errors.As(err, &sie)
}
