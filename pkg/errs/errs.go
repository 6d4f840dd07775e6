// Package errs defines the fatal-error taxonomy the grace-hash merging
// aggregator surfaces to its driving scheduler. It mirrors the shape of the
// teacher's moerr package (a numbered kind plus formatted constructors)
// without moerr's protobuf-backed error-code registry, which belongs to the
// host engine this module does not reimplement.
// Copyright 2026 The GraceHash Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errs

import (
	"errors"
	"fmt"
)

// Kind identifies which of the four fatal-error categories an error belongs
// to. None of them is locally recoverable; the operator always surfaces them
// unchanged to its caller.
type Kind int

const (
	// KindResourceExhausted means extendBuckets() would exceed max_buckets.
	KindResourceExhausted Kind = iota
	// KindInternalInvariant means a bucket-tag or lifecycle invariant was violated.
	KindInternalInvariant
	// KindIO means a SpillStore write or read failed.
	KindIO
	// KindUpstreamError means the input port itself reported an error.
	KindUpstreamError
)

func (k Kind) String() string {
	switch k {
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindInternalInvariant:
		return "InternalInvariant"
	case KindIO:
		return "IO"
	case KindUpstreamError:
		return "UpstreamError"
	default:
		return "Unknown"
	}
}

// Error is a fatal operator error tagged with its Kind, wrapping an
// underlying cause where one exists.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, errs.ResourceExhausted("")) style checks, or more
// commonly errors.As to recover the Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

func newf(k Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: k, msg: fmt.Sprintf(format, args...), cause: cause}
}

// ResourceExhausted reports that max_buckets would be exceeded by a further
// doubling of the bucket count.
func ResourceExhausted(format string, args ...any) *Error {
	return newf(KindResourceExhausted, nil, format, args...)
}

// InternalInvariant reports a detected violation of a bucket-tag or
// lifecycle invariant.
func InternalInvariant(format string, args ...any) *Error {
	return newf(KindInternalInvariant, nil, format, args...)
}

// IO wraps a SpillStore read/write failure, preserving the cause unchanged.
func IO(cause error, format string, args ...any) *Error {
	return newf(KindIO, cause, format, args...)
}

// Upstream wraps an error propagated as-is from the input port.
func Upstream(cause error) *Error {
	return newf(KindUpstreamError, cause, "upstream input error")
}

// KindOf extracts the Kind of err if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
