package retry

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted matches every error returned after the attempt budget ran out.
	ErrExhausted = errors.New("retry attempts exhausted")
	// ErrUnsatisfied is the cause reported when no attempt raised an error
	// but the success predicate never accepted a result.
	ErrUnsatisfied = errors.New("result rejected by success predicate")
	// ErrUnknownPolicy is returned for a policy name the engine does not know.
	ErrUnknownPolicy = errors.New("unknown retry policy")
)

// ExhaustedError is returned when every attempt failed. It unwraps to both
// ErrExhausted and the last observed error.
type ExhaustedError struct {
	Resource string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	cause := e.Last
	if cause == nil {
		cause = ErrUnsatisfied
	}
	return fmt.Sprintf("%s: %d attempts exhausted: %v", e.Resource, e.Attempts, cause)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrExhausted, ErrUnsatisfied}
	}
	return []error{ErrExhausted, e.Last}
}

// IsExhausted reports whether err came from an exhausted retry loop.
func IsExhausted(err error) bool { return errors.Is(err, ErrExhausted) }
