// Package errors provides error handling for the media clustering service.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Sentinel errors for failure routing in the worker
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Route on the error kind
//	if errors.Is(err, errors.ErrEmptyEmbeddings) {
//	    // skip the job
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is     = crdb.Is
	IsAny  = crdb.IsAny
	As     = crdb.As
	Unwrap = crdb.Unwrap
)

// Sentinel errors shared across the service.
// Use these with errors.Is() for type-safe error checking.
// Wrap them with errors.Wrap() to add context while preserving the kind.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrUnauthorized indicates the request lacks a valid internal token
	ErrUnauthorized = New("unauthorized")

	// ErrServiceUnavailable indicates a required backend is not reachable
	ErrServiceUnavailable = New("service unavailable")

	// ErrInvalidInput indicates a programmer error in the clustering
	// engine's inputs (e.g. mismatched id/embedding lengths)
	ErrInvalidInput = New("invalid input")

	// ErrMalformedEnvelope indicates a stream entry whose payload cannot
	// be decoded. Terminal: the worker acks and drops it.
	ErrMalformedEnvelope = New("malformed job envelope")

	// ErrUpstreamUnavailable indicates a transient insights-service or
	// stream failure. Retried up to the attempt budget.
	ErrUpstreamUnavailable = New("upstream unavailable")

	// ErrEmptyEmbeddings indicates the subject has image IDs but none of
	// them carry a usable embedding vector.
	ErrEmptyEmbeddings = New("no usable embeddings")

	// ErrPersistFailure indicates the cluster state could not be written
	// to the state store. Retried; clustering is deterministic so a
	// re-run from scratch is safe.
	ErrPersistFailure = New("failed to persist cluster state")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsRetryable reports whether the worker should route the error through
// the retry/dead-letter path rather than dropping the entry outright.
// Malformed envelopes are the only terminal kind: re-queueing an
// unparseable payload would loop forever.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !Is(err, ErrMalformedEnvelope)
}

// WrapUpstream wraps an error as an upstream-unavailable error with context.
func WrapUpstream(err error, context string) error {
	return Wrap(Wrap(ErrUpstreamUnavailable, err.Error()), context)
}

// WrapPersist wraps an error as a persist failure with context.
func WrapPersist(err error, context string) error {
	return Wrap(Wrap(ErrPersistFailure, err.Error()), context)
}
