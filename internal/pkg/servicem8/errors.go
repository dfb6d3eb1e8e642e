package servicem8

import (
	"errors"
	"fmt"
)

// AuthError means the API credential is missing or rejected. It is fatal
// for the current operation and must never be retried blindly.
type AuthError struct {
	Operation string
	Message   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("servicem8: %s: authentication failed: %s", e.Operation, e.Message)
}

// NotFoundError means the remote entity no longer exists (HTTP 404).
// Callers treat it as "entity gone" and skip rather than retry.
type NotFoundError struct {
	Operation string
	UUID      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("servicem8: %s: %s not found", e.Operation, e.UUID)
}

// TransientError covers rate limits, 5xx responses, network failures and
// timeouts. Callers may retry with backoff.
type TransientError struct {
	Operation string
	Status    int
	Err       error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("servicem8: %s: transient failure: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("servicem8: %s: transient failure: status=%d", e.Operation, e.Status)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
