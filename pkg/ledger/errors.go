package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Conflict conditions surfaced to the caller as user-actionable failures.
// None of them are retried automatically.
var (
	// ErrActiveTaskExists rejects a start while another task is open.
	ErrActiveTaskExists = errors.New("an active task already exists")

	// ErrNoActiveTask rejects an end when nothing is open.
	ErrNoActiveTask = errors.New("no active task")

	// ErrRowNotFound means the open row could not be re-located on end;
	// the sheet was likely edited out-of-band.
	ErrRowNotFound = errors.New("active task row not found in sheet")
)

// ValidationError enumerates field-level problems with a request. It is
// raised before any store call and never retried.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Problems, "; ")
}

// IsConflict reports whether err is one of the ledger's conflict conditions.
func IsConflict(err error) bool {
	return errors.Is(err, ErrActiveTaskExists) ||
		errors.Is(err, ErrNoActiveTask) ||
		errors.Is(err, ErrRowNotFound)
}

func validation(problems ...string) error {
	return &ValidationError{Problems: problems}
}

func storeFailure(op, employee string, err error) error {
	return fmt.Errorf("%s for %q: %w", op, employee, err)
}
