package chat

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced session does not exist.
var ErrNotFound = errors.New("chat: session not found")

// ValidationError reports malformed input. No state is mutated when one is
// returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chat: invalid input: %s", e.Reason)
}

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
