package gateway

import (
	"errors"
	"fmt"
)

// Error codes shared by every gateway implementation and the HTTP transport
const (
	CodeUnknownCollection = "unknown_collection"
	CodeUnknownColumn     = "unknown_column"
	CodeInvalidQuery      = "invalid_query"
	CodeUnavailable       = "unavailable"
	CodeRejected          = "rejected"
)

var (
	// ErrUnknownCollection means the table or view does not exist in this deployment
	ErrUnknownCollection = errors.New(CodeUnknownCollection)
	// ErrUnknownColumn means the deployment's schema lacks a referenced column
	ErrUnknownColumn = errors.New(CodeUnknownColumn)
	// ErrInvalidQuery means the request itself is malformed
	ErrInvalidQuery = errors.New(CodeInvalidQuery)
	// ErrUnavailable means the platform could not be reached
	ErrUnavailable = errors.New(CodeUnavailable)
	// ErrRejected means the platform refused a write (constraint violation and similar)
	ErrRejected = errors.New(CodeRejected)
)

// Error carries a classification code plus detail
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes both the sentinel for the code and the underlying cause
func (e *Error) Unwrap() []error {
	errs := []error{sentinel(e.Code)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Errorf builds a classified error
func Errorf(code string, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: cause}
}

// CodeOf returns the classification code of err, or "" when unclassified
func CodeOf(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	for _, s := range []error{ErrUnknownCollection, ErrUnknownColumn, ErrInvalidQuery, ErrUnavailable, ErrRejected} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return ""
}

func sentinel(code string) error {
	switch code {
	case CodeUnknownCollection:
		return ErrUnknownCollection
	case CodeUnknownColumn:
		return ErrUnknownColumn
	case CodeInvalidQuery:
		return ErrInvalidQuery
	case CodeUnavailable:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}
