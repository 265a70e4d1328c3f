// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"context"
	stderrors "errors"
	"net"
	"strings"
	"syscall"
)

// WrapConnError classifies an error seen on a client connection so the
// server can decide whether it is a quiet broken-pipe/reset (log and
// drop) or something worth escalating. The queue mutation that produced
// the response has already been committed by the time this is called, so
// classification only affects logging and whether the connection is kept
// open.
func WrapConnError(err error) *WQError {
	if err == nil {
		return nil
	}

	var wqErr *WQError
	if stderrors.As(err, &wqErr) {
		return wqErr
	}

	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrorCodeIO, "client connection context ended", err)
	}

	if isBrokenPipeOrReset(err) {
		return Wrap(ErrorCodeIO, "client connection reset or closed", err)
	}

	return Wrap(ErrorCodeIO, "client connection error", err)
}

// isBrokenPipeOrReset reports whether err represents the client dropping
// the connection mid-request: EPIPE, ECONNRESET, or their string forms
// surfaced through net.OpError on platforms where the syscall errno
// doesn't survive unwrapping.
func isBrokenPipeOrReset(err error) bool {
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		var errno syscall.Errno
		if stderrors.As(opErr.Err, &errno) {
			switch errno {
			case syscall.EPIPE, syscall.ECONNRESET:
				return true
			}
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "use of closed network connection")
}

// NewValidationError builds a request-validation error (missing field,
// unknown verb, unknown host, bad priority/mode).
func NewValidationError(message string) *WQError {
	return New(ErrorCodeValidation, message)
}

// NewNevermatchError builds the error surfaced when a submission is
// structurally impossible against the current cluster.
func NewNevermatchError(reason string) *WQError {
	return New(ErrorCodeNevermatch, reason)
}

// NewMalformedError builds the error returned when a wire payload could
// not be parsed at all.
func NewMalformedError(cause error) *WQError {
	return Wrap(ErrorCodeMalformed, "could not parse request", cause)
}

// NewSpoolReadError builds the error logged (and skipped, never fatal)
// when a single spool file can't be read or deserialized at startup.
func NewSpoolReadError(path string, cause error) *WQError {
	e := Wrap(ErrorCodeSpool, "could not read spool file", cause)
	e.Details = path
	return e
}

// NewInvariantError builds a fatal invariant violation: reserve past
// capacity or unreserve below zero. The caller is expected to exit the
// process immediately after logging this, relying on spool replay at
// restart to recover state.
func NewInvariantError(message string) *WQError {
	return New(ErrorCodeInvariant, message)
}
