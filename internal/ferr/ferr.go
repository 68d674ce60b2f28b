/*
Copyright 2026 The FlakeGuard Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ferr defines the sum-typed error kinds shared across FlakeGuard's
// components, replacing the exception hierarchies of the source system with
// wrap-and-inspect Go errors (see spec.md §7).
package ferr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind enumerates the error classes raised by FlakeGuard's components, per
// the table in spec.md §7.
type Kind string

const (
	RateLimited               Kind = "RateLimited"
	CircuitOpen               Kind = "CircuitOpen"
	QueueFull                 Kind = "QueueFull"
	QueueTimeout              Kind = "QueueTimeout"
	Unavailable               Kind = "Unavailable"
	RequestTimeout            Kind = "RequestTimeout"
	ArtifactTooLarge          Kind = "ArtifactTooLarge"
	ArtifactExpired           Kind = "ArtifactExpired"
	InvalidZip                Kind = "InvalidZip"
	ParseFailed               Kind = "ParseFailed"
	UnsupportedFormat         Kind = "UnsupportedFormat"
	ValidationFailed          Kind = "ValidationFailed"
	AuthenticationFailed      Kind = "AuthenticationFailed"
	WebhookVerificationFailed Kind = "WebhookVerificationFailed"
	PermissionDenied          Kind = "PermissionDenied"
)

// retryableKinds mirrors the "Retryable" column of spec.md §7. RateLimited is
// retryable only after its delay elapses; callers that already waited out
// the delay should treat exhaustion separately (see internal/retry).
var retryableKinds = map[Kind]bool{
	RateLimited:      true,
	CircuitOpen:      true,
	QueueFull:        true,
	QueueTimeout:     true,
	Unavailable:      true,
	RequestTimeout:   true,
	ArtifactExpired:  true,
	ArtifactTooLarge: false,
	InvalidZip:       false,
}

// Error is a FlakeGuard error value: a Kind plus a wrapped cause.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.kind, e.msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Retryable reports whether the policy in spec.md §7 treats this class of
// error as retryable. Unlisted kinds default to non-retryable.
func (e *Error) Retryable() bool { return retryableKinds[e.kind] }

// New builds an Error of the given kind with a plain message.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap builds an Error of the given kind wrapping cause, capturing a stack
// via github.com/pkg/errors at this boundary so job-failure audit records
// can report a trace (spec.md §7's "last error message" persistence point).
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{kind: kind, msg: msg, cause: pkgerrors.WithStack(cause)}
}

// KindOf extracts the Kind from err, if err (or something it wraps) is a
// *Error. The boolean result reports whether a Kind was found.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind, true
	}
	return "", false
}

// IsRetryable reports whether err is a *Error whose Kind is retryable. A nil
// or unrecognised error is treated as non-retryable.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}

// Is reports whether err's Kind equals kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
