// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

// Package runerr defines the failure taxonomy shared by every stage of a
// backup run. Network and protocol errors are converted into an *Error at
// the boundary that observed them, so the orchestrator only ever sees one
// of the Kinds below.
package runerr

import (
	"errors"
	"fmt"
)

// Kind classifies a run failure.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors outside the taxonomy.
	KindUnknown Kind = iota

	// KindConfiguration is a missing or invalid setting; fatal at startup.
	KindConfiguration

	// KindUpstreamRejected means the create call failed, answered with
	// neither a slug nor a job, or the backend refused to open an upload.
	KindUpstreamRejected

	// KindJobFailed is an upstream job that reached its failed state.
	KindJobFailed

	// KindLocatorTimeout means the async and fallback budgets both ran out.
	KindLocatorTimeout

	// KindSizeUndeterminable means neither the download nor the snapshot
	// info reported a positive size. No byte has moved.
	KindSizeUndeterminable

	// KindChunkTransfer aborts the upload. A fail notification was attempted.
	KindChunkTransfer

	// KindAmbiguousCompletion means every byte was sent but complete failed.
	// The remote copy may or may not be usable.
	KindAmbiguousCompletion

	// KindSideEffect is a config-sync failure. Logged, never fatal.
	KindSideEffect
)

// String returns the snake_case label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration_error"
	case KindUpstreamRejected:
		return "upstream_rejected"
	case KindJobFailed:
		return "job_failed"
	case KindLocatorTimeout:
		return "locator_timeout"
	case KindSizeUndeterminable:
		return "size_undeterminable"
	case KindChunkTransfer:
		return "chunk_transfer_error"
	case KindAmbiguousCompletion:
		return "ambiguous_completion"
	case KindSideEffect:
		return "side_effect_error"
	default:
		return "unknown"
	}
}

// Error is a classified run failure.
type Error struct {
	Kind    Kind
	Phase   string
	Message string
	Cause   error
}

// New creates a classified error.
func New(kind Kind, phase, message string, cause error) *Error {
	return &Error{Kind: kind, Phase: phase, Message: message, Cause: cause}
}

// Newf creates a classified error with a formatted message and no cause.
func Newf(kind Kind, phase, format string, args ...any) *Error {
	return &Error{Kind: kind, Phase: phase, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Phase != "" {
		msg += " (" + e.Phase + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
