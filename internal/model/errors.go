package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures for presentation.
type ErrorKind string

const (
	KindResolution ErrorKind = "resolution"
	KindFetch      ErrorKind = "fetch"
	KindValidation ErrorKind = "validation"
	KindInternal   ErrorKind = "internal"
)

// ResolutionError reports that an option list could not be resolved.
// StatusCode is zero when the failure happened before a response arrived
// or while decoding it.
type ResolutionError struct {
	Field      Field
	StatusCode int
	Err        error
}

func (e *ResolutionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("resolve %s options: status %d: %v", e.Field, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("resolve %s options: %v", e.Field, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// FetchErrorKind says which stage of a forecast retrieval failed.
type FetchErrorKind string

const (
	FetchStatus  FetchErrorKind = "status"
	FetchNetwork FetchErrorKind = "network"
	FetchDecode  FetchErrorKind = "decode"
)

// FetchError reports a failed forecast retrieval. StatusCode is set for
// FetchStatus; Line is the 1-based NDJSON line for FetchDecode.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Line       int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchStatus:
		return fmt.Sprintf("fetch forecasts: status %d: %v", e.StatusCode, e.Err)
	case FetchDecode:
		return fmt.Sprintf("fetch forecasts: decode line %d: %v", e.Line, e.Err)
	default:
		return fmt.Sprintf("fetch forecasts: %v", e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError reports a selection or descriptor that cannot be used.
type ValidationError struct {
	Field  Field
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid selection: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Kind maps an error onto the presentation taxonomy.
func Kind(err error) ErrorKind {
	var (
		re *ResolutionError
		fe *FetchError
		ve *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &re):
		return KindResolution
	case errors.As(err, &fe):
		return KindFetch
	default:
		return KindInternal
	}
}

// IsValidation returns true if err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
