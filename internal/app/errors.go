package app

import "fmt"

// DomainError is the service-boundary error shape: the HTTP status the
// transport should answer with, a machine code (VALIDATION_ERROR,
// FORBIDDEN, NOT_FOUND, ...), and a human-readable message. Anything
// that is not a DomainError surfaces as a generic 500.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
