package model

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrSchemaViolation  = errors.New("schema violation")
)

// FieldError carries the offending field and what was expected of it. It
// unwraps to one of the sentinel errors above.
type FieldError struct {
	Kind     error
	Field    string
	Expected string
	Actual   string
}

func (e *FieldError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg += fmt.Sprintf(" on field %q", e.Field)
	}
	if e.Expected != "" {
		msg += ": expected " + e.Expected
		if e.Actual != "" {
			msg += ", got " + e.Actual
		}
	} else if e.Actual != "" {
		msg += ": " + e.Actual
	}
	return msg
}

func (e *FieldError) Unwrap() error {
	return e.Kind
}
