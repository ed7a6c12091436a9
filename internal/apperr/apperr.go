// Package apperr defines the error kinds shared by the pipeline core and its
// outer surfaces (HTTP, MCP, CLI).
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindPointNotFound       Kind = "PointNotFound"
	KindTopicNotFound       Kind = "TopicNotFound"
	KindMainTopicNotFound   Kind = "MainTopicNotFound"
	KindTaskNotFound        Kind = "TaskNotFound"
	KindPrerequisiteMissing Kind = "PrerequisiteMissing"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindEmptyCompletion     Kind = "EmptyCompletion"
	KindParseAmbiguous      Kind = "ParseAmbiguous"
	KindPersistenceFailure  Kind = "PersistenceFailure"
	KindInvalidRequest      Kind = "InvalidRequest"
	KindInternal            Kind = "Internal"
)

// Error is a classified error. Err may be nil.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so
// errors.Is(err, &Error{Kind: KindPointNotFound}) works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Status maps the kind to an HTTP status code.
func (e *Error) Status() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	return StatusOf(e.Kind)
}

// New builds an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf builds an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when err is unclassified. A nil err yields "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusOf maps a kind to an HTTP status code.
func StatusOf(kind Kind) int {
	switch kind {
	case KindPointNotFound, KindTopicNotFound, KindMainTopicNotFound, KindTaskNotFound:
		return http.StatusNotFound
	case KindPrerequisiteMissing:
		return http.StatusConflict
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUpstreamUnavailable, KindEmptyCompletion:
		return http.StatusBadGateway
	case KindParseAmbiguous:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
