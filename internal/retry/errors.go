// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package retry classifies NVR/Transfer failures at the stage boundary and
// tracks per-event attempt counts so a persistently failing event is
// eventually banned rather than retried forever.
package retry

import "errors"

// ErrorCategory buckets a failure for logging and notifier dispatch.
type ErrorCategory int

const (
	ErrorCategoryUnknown ErrorCategory = iota
	ErrorCategoryConnection
	ErrorCategoryTimeout
	ErrorCategoryNotReady
	ErrorCategoryNotFound
	ErrorCategoryStorage
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryConnection:
		return "connection"
	case ErrorCategoryTimeout:
		return "timeout"
	case ErrorCategoryNotReady:
		return "not_ready"
	case ErrorCategoryNotFound:
		return "not_found"
	case ErrorCategoryStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// RetryableError wraps a transient NVR/Transfer failure: network error,
// timeout, 5xx, or "not ready". It is safe to retry the event later.
type RetryableError struct {
	Message  string
	Cause    error
	Category ErrorCategory
}

// NewRetryableError wraps cause as a RetryableError in the given category.
func NewRetryableError(message string, cause error, category ErrorCategory) *RetryableError {
	return &RetryableError{Message: message, Cause: cause, Category: category}
}

func (e *RetryableError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error { return e.Cause }

// PermanentError wraps a failure that retrying cannot fix: NotFound after
// exhausting MAX_ATTEMPTS, or a non-video event that slipped past
// eligibility filtering. The event is banned rather than retried.
type PermanentError struct {
	Message  string
	Cause    error
	Category ErrorCategory
}

// NewPermanentError wraps cause as a PermanentError in the given category.
func NewPermanentError(message string, cause error, category ErrorCategory) *PermanentError {
	return &PermanentError{Message: message, Cause: cause, Category: category}
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// IsRetryable reports whether err (or a wrapped cause) is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsPermanent reports whether err (or a wrapped cause) is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
