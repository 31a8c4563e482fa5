package idempotency

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes failures surfaced by the coordinator.
type ErrorKind string

const (
	// KindKeyExtraction means the idempotency key path resolved to nothing (strict mode only).
	KindKeyExtraction ErrorKind = "KEY_EXTRACTION"
	// KindAlreadyInProgress means another attempt holds a live lock on the key.
	KindAlreadyInProgress ErrorKind = "ALREADY_IN_PROGRESS"
	// KindInconsistentState means put and get disagreed about the record.
	KindInconsistentState ErrorKind = "INCONSISTENT_STATE"
	// KindValidationMismatch means the stored payload hash differs from the current request.
	KindValidationMismatch ErrorKind = "VALIDATION_MISMATCH"
	// KindPersistence wraps backend transport or encoding failures.
	KindPersistence ErrorKind = "PERSISTENCE"
	// KindConfiguration means the coordinator was built with invalid settings.
	KindConfiguration ErrorKind = "CONFIGURATION"
)

// Error is the error type returned for every idempotency failure.
type Error struct {
	Kind    ErrorKind
	Key     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Key != "" {
		msg += fmt.Sprintf(" (key=%s)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Key == "" && t.Message == ""
}

// Sentinels for errors.Is.
var (
	ErrKeyExtraction      = &Error{Kind: KindKeyExtraction}
	ErrAlreadyInProgress  = &Error{Kind: KindAlreadyInProgress}
	ErrInconsistentState  = &Error{Kind: KindInconsistentState}
	ErrValidationMismatch = &Error{Kind: KindValidationMismatch}
	ErrPersistence        = &Error{Kind: KindPersistence}
	ErrConfiguration      = &Error{Kind: KindConfiguration}
)

func newError(kind ErrorKind, key, msg string, err error) *Error {
	return &Error{Kind: kind, Key: key, Message: msg, Err: err}
}

// KindOf returns the kind of an idempotency error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
