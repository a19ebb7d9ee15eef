package replanner

import (
	"github.com/pkg/errors"
)

// Failure kinds of a replan tick. None of them is fatal: the tick keeps the
// accepted trajectory and reports the kind.
var (
	ErrNoPath          = errors.New("NoPath")
	ErrInfeasible      = errors.New("Infeasible")
	ErrUnsafe          = errors.New("Unsafe")
	ErrStaleMap        = errors.New("StaleMap")
	ErrDataUnavailable = errors.New("DataUnavailable")
)

var kinds = []error{ErrNoPath, ErrInfeasible, ErrUnsafe, ErrStaleMap, ErrDataUnavailable}

// tickError tags cause with one of the failure kinds. errors.Is matches both.
type tickError struct {
	kind  error
	cause error
}

func fail(kind, cause error) error {
	return &tickError{kind, cause}
}

func (e *tickError) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *tickError) Is(target error) bool { return target == e.kind }

func (e *tickError) Unwrap() error { return e.cause }

// Reason is the failure kind of err, or "" if err is not a tick failure.
func Reason(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return ""
}
