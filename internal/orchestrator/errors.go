// Package orchestrator implements the Stream Orchestrator: the top-level
// composition root that opens the Presentation Surface, fetches and
// refreshes the manifest, spawns per-track Adaptation Buffers across
// period transitions, and merges every component's output into a single
// StreamEvent stream — a session registry plus config composition driving
// stage-sequence execution with structured logging and guaranteed cleanup.
package orchestrator

import (
	"errors"
	"fmt"
)

// Code identifies a member of the error taxonomy: MediaError, NetworkError,
// EncryptedMediaError, OtherError, each tagged with a Code and a Fatal flag
// rather than distinguished by Go type alone.
type Code string

// Error codes referenced by name elsewhere in this package.
const (
	CodeStartingTimeNotFound Code = "MEDIA_STARTING_TIME_NOT_FOUND"
	CodeSourceOpenFailed     Code = "MEDIA_SOURCE_OPEN_FAILED"
	CodeManifestFetchFailed  Code = "NETWORK_MANIFEST_FETCH_FAILED"
	CodeInvalidKeySystem     Code = "ENCRYPTED_MEDIA_INVALID_KEY_SYSTEM"
	CodeProtectionFailed     Code = "ENCRYPTED_MEDIA_SESSION_FAILED"
	CodeAlreadyActive        Code = "OTHER_ORCHESTRATOR_ALREADY_ACTIVE"
	CodeUnknown              Code = "OTHER_UNKNOWN"
)

// MediaError reports a Presentation Surface / element failure.
type MediaError struct {
	Code  Code
	Cause error
	Fatal bool
}

func (e *MediaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("media error %s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("media error %s", e.Code)
}

func (e *MediaError) Unwrap() error { return e.Cause }

// NetworkError reports a manifest or segment transport failure.
type NetworkError struct {
	Code  Code
	Cause error
	Fatal bool
}

func (e *NetworkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("network error %s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("network error %s", e.Code)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// EncryptedMediaError reports a Protection Driver failure.
type EncryptedMediaError struct {
	Code  Code
	Cause error
	Fatal bool
}

func (e *EncryptedMediaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("encrypted media error %s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("encrypted media error %s", e.Code)
}

func (e *EncryptedMediaError) Unwrap() error { return e.Cause }

// OtherError wraps any error not recognized as one of the above; unknown
// errors are made fatal once the retry budget is exhausted.
type OtherError struct {
	Code  Code
	Cause error
	Fatal bool
}

func (e *OtherError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("other error %s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("other error %s", e.Code)
}

func (e *OtherError) Unwrap() error { return e.Cause }

// fatalError reports whether err is a taxonomy member with Fatal set.
type fatalError interface {
	error
	isFatal() bool
}

func (e *MediaError) isFatal() bool          { return e.Fatal }
func (e *NetworkError) isFatal() bool        { return e.Fatal }
func (e *EncryptedMediaError) isFatal() bool { return e.Fatal }
func (e *OtherError) isFatal() bool          { return e.Fatal }

// IsFatal reports whether err is a taxonomy member marked fatal.
func IsFatal(err error) bool {
	var fe fatalError
	if errors.As(err, &fe) {
		return fe.isFatal()
	}
	return false
}

// ErrMediaStartingTimeNotFound is returned during startup when no period in
// the manifest contains the resolved initial time.
var ErrMediaStartingTimeNotFound = &MediaError{Code: CodeStartingTimeNotFound, Fatal: true}

// asOtherError wraps an unrecognized error as OtherError, fatal, matching
// the Retry Harness's ErrorSelector contract.
func asOtherError(err error) error {
	if err == nil {
		return nil
	}
	var me *MediaError
	var ne *NetworkError
	var ee *EncryptedMediaError
	var oe *OtherError
	if errors.As(err, &me) || errors.As(err, &ne) || errors.As(err, &ee) || errors.As(err, &oe) {
		return err
	}
	return &OtherError{Code: CodeUnknown, Cause: err, Fatal: true}
}

// shouldRetryStartup is the Retry Harness's ShouldRetry predicate for
// orchestrator startup steps: a taxonomy member's own Fatal flag
// short-circuits retry; anything else is treated as transient.
func shouldRetryStartup(err error) bool {
	var fe fatalError
	if errors.As(err, &fe) {
		return !fe.isFatal()
	}
	return true
}
