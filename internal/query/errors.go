package query

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindUnexpected ErrorKind = iota
	KindInvalidQuery
	KindNotFound
	KindPermissionDenied
	KindConflict
	KindResultRetrieval
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidQuery:
		return "invalid_query"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindConflict:
		return "conflict"
	case KindResultRetrieval:
		return "result_retrieval"
	default:
		return "unexpected"
	}
}

func (k ErrorKind) label() string {
	switch k {
	case KindInvalidQuery:
		return "Invalid query"
	case KindNotFound:
		return "Resource not found"
	case KindPermissionDenied:
		return "Insufficient permissions"
	case KindConflict:
		return "Concurrent modification"
	case KindResultRetrieval:
		return "Failed to retrieve query results"
	default:
		return "An unexpected error occurred"
	}
}

// ExecError is a classified engine failure. Its message is the single
// user-facing line shown in place of an answer.
type ExecError struct {
	Kind ErrorKind
	Err  error
}

func NewExecError(kind ErrorKind, err error) *ExecError {
	return &ExecError{Kind: kind, Err: err}
}

func (e *ExecError) Error() string {
	detail := "unknown error"
	if e.Err != nil {
		detail = e.Err.Error()
	}
	return fmt.Sprintf("ERROR: %s - %s", e.Kind.label(), detail)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// KindOf reports the classification of err, KindUnexpected for errors that
// did not come from an engine.
func KindOf(err error) ErrorKind {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	return KindUnexpected
}

// Retryable reports whether running the same query again may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindUnexpected, KindResultRetrieval:
		return true
	default:
		return false
	}
}
