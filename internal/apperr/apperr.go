// Package apperr defines the error taxonomy shared by the scheduling components.
// Handlers translate each Kind into a conversational reply; none of them are
// allowed to escape the orchestrator boundary.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the conversation should recover from it.
type Kind string

const (
	KindUnknown        Kind = "unknown"
	KindConfiguration  Kind = "configuration"
	KindNotFound       Kind = "not_found"
	KindAmbiguousMatch Kind = "ambiguous_match"
	KindSlotConflict   Kind = "slot_conflict"
	KindHoldExpired    Kind = "hold_expired"
	KindUpstream       Kind = "upstream"
	KindValidation     Kind = "validation"
)

// Error carries a Kind alongside an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same Kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrAmbiguousMatch = &Error{Kind: KindAmbiguousMatch}
	ErrSlotConflict   = &Error{Kind: KindSlotConflict}
	ErrHoldExpired    = &Error{Kind: KindHoldExpired}
	ErrUpstream       = &Error{Kind: KindUpstream}
	ErrValidation     = &Error{Kind: KindValidation}
)

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Configuration(format string, args ...any) *Error {
	return New(KindConfiguration, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Ambiguous(format string, args ...any) *Error {
	return New(KindAmbiguousMatch, format, args...)
}

func SlotConflict(err error, format string, args ...any) *Error {
	return Wrap(KindSlotConflict, err, format, args...)
}

func Upstream(err error, format string, args ...any) *Error {
	return Wrap(KindUpstream, err, format, args...)
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether the caller can recover within the same call.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindSlotConflict, KindHoldExpired, KindUpstream, KindValidation:
		return true
	default:
		return false
	}
}
