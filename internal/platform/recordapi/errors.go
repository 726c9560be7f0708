package recordapi

import (
	"errors"
	"fmt"
)

// ErrSessionExpired is returned when the record service answers with a
// non-JSON body (login redirect, gateway error page). The caller cannot
// recover without a fresh session, so the only affordance is "refresh".
var ErrSessionExpired = errors.New("record service session expired, refresh required")

// ValidationError is a structured rejection from the record service.
// Fields maps field names to messages for field-local errors; business-rule
// rejections (insufficient stock) arrive the same way under a named field.
type ValidationError struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (%d field error(s))", e.Message, len(e.Fields))
}

// Field returns the message for a named field, or "" when absent.
func (e *ValidationError) Field(name string) string {
	return e.Fields[name]
}

// TransientError wraps a network or server failure that is safe to retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
