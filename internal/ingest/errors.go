package ingest

import (
	"errors"
	"fmt"
)

// Rejection reasons reported to boundaries and listeners.
const (
	ReasonAccepted       = "accepted"
	ReasonEmptyPayload   = "empty_payload"
	ReasonMalformedInput = "malformed_input"
	ReasonStorageFailure = "storage_failure"
)

// InputError means the caller sent something that can never be accepted.
type InputError struct {
	Kind string
	Err  error
}

func (e *InputError) Error() string {
	if e.Err == nil {
		return "ingest: " + e.Kind
	}
	return fmt.Sprintf("ingest: %s: %v", e.Kind, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// Is matches any InputError of the same kind, so a detailed error still
// satisfies errors.Is(err, ErrMalformedInput).
func (e *InputError) Is(target error) bool {
	t, ok := target.(*InputError)
	return ok && t.Kind == e.Kind
}

var (
	// ErrEmptyPayload is returned for a zero-length body.
	ErrEmptyPayload = &InputError{Kind: ReasonEmptyPayload}

	// ErrMalformedInput is returned when the body is not a JSON object.
	ErrMalformedInput = &InputError{Kind: ReasonMalformedInput}
)

// StorageFailure means the reading was valid but could not be committed.
// Err joins the failures of the latest slot and the history append.
type StorageFailure struct {
	Err error
}

func (e *StorageFailure) Error() string {
	return fmt.Sprintf("ingest: storage failure: %v", e.Err)
}

func (e *StorageFailure) Unwrap() error { return e.Err }

// Reason maps the result of Ingest to a short machine-readable reason.
func Reason(err error) string {
	var sf *StorageFailure
	switch {
	case err == nil:
		return ReasonAccepted
	case errors.Is(err, ErrEmptyPayload):
		return ReasonEmptyPayload
	case errors.Is(err, ErrMalformedInput):
		return ReasonMalformedInput
	case errors.As(err, &sf):
		return ReasonStorageFailure
	}
	return ReasonStorageFailure
}
