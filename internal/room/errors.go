package room

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeAuthenticationRequired Code = "AUTHENTICATION_REQUIRED"
	CodeNotAMember             Code = "NOT_A_MEMBER"
	CodeRemoteUnavailable      Code = "REMOTE_UNAVAILABLE"
	CodeCreateFailed           Code = "CREATE_FAILED"
	CodeMutationFailed         Code = "MUTATION_FAILED"
	CodeLiveSyncLost           Code = "LIVE_SYNC_LOST"
	CodeValidationError        Code = "VALIDATION_ERROR"
	CodeSessionClosed          Code = "SESSION_CLOSED"
)

// DomainError is the typed result every operation returns instead of an
// untyped error. Err carries the underlying cause where one exists.
type DomainError struct {
	Code    Code
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func domainError(code Code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func wrapError(code Code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the domain code from an error chain, or "" if none.
func CodeOf(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
