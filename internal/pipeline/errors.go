package pipeline

import (
	"errors"
	"fmt"
)

// Code identifies a failure class. Codes are part of the external API:
// clients switch on them, so they stay stable across releases.
type Code string

const (
	CodeInvalidRequest   Code = "invalid_request"
	CodeRetrievalFailed  Code = "retrieval_failed"
	CodeGenerationFailed Code = "generation_failed"
	CodeBudgetExceeded   Code = "budget_exceeded"
	CodeIngestionFailed  Code = "ingestion_failed"
)

// Error couples a stable code with the underlying cause.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the stable code from err, or empty when err carries none.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
