package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind partitions errors into the categories the HTTP layer knows how
// to map to status codes.
type Kind int

const (
	KindInternal Kind = iota
	KindParamValidation
	KindNoContent
	KindDownstream
)

// Error is the error type used across pipelines so that handlers can
// map failures to status codes without string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// ParamValidation reports a malformed or unacceptable request parameter.
func ParamValidation(format string, args ...any) error {
	return &Error{Kind: KindParamValidation, Msg: fmt.Sprintf(format, args...)}
}

// NoContent reports that a pipeline completed without producing anything
// usable.
func NoContent(format string, args ...any) error {
	return &Error{Kind: KindNoContent, Msg: fmt.Sprintf(format, args...)}
}

// Downstream wraps an upstream search or scrape failure.
func Downstream(msg string, err error) error {
	return &Error{Kind: KindDownstream, Msg: msg, Err: err}
}

// KindOf extracts the Kind from an error chain, defaulting to
// KindInternal for unrecognized errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given Kind.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// HTTPStatus maps an error to the status code the surface should reply
// with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindParamValidation:
		return http.StatusBadRequest
	case KindNoContent:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
