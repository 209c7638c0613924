package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrStructural marks plan-construction bugs. It always aborts the request.
	ErrStructural = errors.New("structural error")
	// ErrMissingColumn is returned when a bucket lacks a column a LayerPlan needs.
	ErrMissingColumn = fmt.Errorf("%w: missing column", ErrStructural)
	// ErrSizeMismatch is returned when a step yields the wrong number of rows.
	ErrSizeMismatch = fmt.Errorf("%w: result size mismatch", ErrStructural)
	// ErrUnsupportedReason is returned for reasons without a bucket builder.
	ErrUnsupportedReason = fmt.Errorf("%w: unsupported layer plan reason", ErrStructural)
)

func structuralf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrStructural}, args...)...)
}

// errorValue is the per-row error sentinel stored in bucket columns. The type
// is unexported so no step can produce one.
type errorValue struct {
	err error
}

func newErrorValue(err error) *errorValue {
	return &errorValue{err: err}
}

// IsErrorValue reports whether a column cell holds a failed row.
func IsErrorValue(v any) bool {
	_, ok := v.(*errorValue)
	return ok
}

// ErrorOf returns the failure held by a column cell, or nil.
func ErrorOf(v any) error {
	if ev, ok := v.(*errorValue); ok {
		return ev.err
	}
	return nil
}

// StepPanicError wraps a panic recovered from Step.Execute.
type StepPanicError struct {
	Step  StepID
	Value any
}

func (e *StepPanicError) Error() string {
	return fmt.Sprintf("step %d panicked: %v", e.Step, e.Value)
}
