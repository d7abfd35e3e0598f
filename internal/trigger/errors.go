package trigger

import (
	"errors"
	"fmt"
)

// ErrInvalidTrigger is matched by every malformed event descriptor.
var ErrInvalidTrigger = errors.New("invalid trigger")

// InvalidTriggerError describes which part of an event was rejected.
type InvalidTriggerError struct {
	Field  string
	Reason string
}

func (e *InvalidTriggerError) Error() string {
	return fmt.Sprintf("invalid trigger: %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is match ErrInvalidTrigger.
func (e *InvalidTriggerError) Is(target error) bool {
	return target == ErrInvalidTrigger
}

func invalidf(field, format string, args ...any) error {
	return &InvalidTriggerError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
