// Package apperr is the error taxonomy shared by the chat services, the
// realtime gateway and the REST handlers.
package apperr

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

type Kind int

const (
	Internal Kind = iota
	Unauthorized
	InvalidArgument
	NotFound
	Forbidden
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Unauthorized:
		return "unauthorized"
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// HTTPStatus and Code map a kind onto the REST envelope.
func (k Kind) HTTPStatus() int {
	switch k {
	case Unauthorized:
		return http.StatusUnauthorized
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) Code() int {
	switch k {
	case Unauthorized:
		return 40101
	case InvalidArgument:
		return 40001
	case NotFound:
		return 40401
	case Forbidden:
		return 40301
	case Conflict:
		return 40901
	default:
		return 50001
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrNotFound)
// works regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrUnauthorized    = &Error{Kind: Unauthorized, Msg: "unauthorized"}
	ErrInvalidArgument = &Error{Kind: InvalidArgument, Msg: "invalid argument"}
	ErrNotFound        = &Error{Kind: NotFound, Msg: "not found"}
	ErrForbidden       = &Error{Kind: Forbidden, Msg: "forbidden"}
	ErrConflict        = &Error{Kind: Conflict, Msg: "conflict"}
)

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an infrastructure error. The cause keeps a stack trace for logs.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: errors.WithStack(err)}
}

// Internalf wraps err as Internal with a formatted context message.
func Internalf(err error, format string, args ...interface{}) error {
	return Wrap(Internal, err, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the outermost *Error in the chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message is the client-safe text for err. Internal failures never leak details.
func Message(err error) string {
	var e *Error
	if stderrors.As(err, &e) && e.Kind != Internal {
		return e.Msg
	}
	return "internal error"
}
