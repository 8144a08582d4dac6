package reconcile

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrConfig: missing game id, bad arguments or malformed input. Aborts a run.
	ErrConfig = errors.New("configuration error")
	// ErrExternalService: the leaderboard service failed before any record was processed.
	ErrExternalService = errors.New("external service error")
	// ErrMapping: the taxonomy could not be built. Aborts a run.
	ErrMapping = errors.New("mapping error")
	// ErrRecord: one candidate failed; the batch continues.
	ErrRecord = errors.New("record error")
	// ErrReconciliation: autoclaim failed after an import.
	ErrReconciliation = errors.New("reconciliation error")
)

// Error carries a kind, the operation that failed and the underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return e.Kind == target }

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func configErrorf(op, format string, args ...any) *Error {
	return newError(ErrConfig, op, fmt.Errorf(format, args...))
}

// ErrDuplicateExternalRun is returned by a Store when an entry with the same
// external run id already exists.
var ErrDuplicateExternalRun = errors.New("external run already imported")
