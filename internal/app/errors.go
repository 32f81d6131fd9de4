package app

import "fmt"

// DomainError is the error shape the HTTP layer knows how to render:
// Status becomes the response code and Code/Message/Details the JSON
// body ("NOT_FOUND", "CONFLICT", "PATH_VIOLATION", …). Everything a
// handler returns is funneled through mapError into one of these.
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
