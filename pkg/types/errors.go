// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so the router and failover manager can
// decide whether a fallback attempt is worthwhile.
type ErrorKind string

const (
	// KindInvalidInput rejects empty or oversized arguments synchronously.
	// Never retried, never counted as a provider failure.
	KindInvalidInput ErrorKind = "invalid_input"

	// KindTimeout is a per-call deadline breach.
	KindTimeout ErrorKind = "timeout"

	// KindProviderUnavailable covers transport errors, 5xx responses, and
	// failed health checks.
	KindProviderUnavailable ErrorKind = "provider_unavailable"

	// KindModelLoadFailed is a lifecycle transition to ERROR.
	KindModelLoadFailed ErrorKind = "model_load_failed"

	// KindResourceExhausted means a new model cannot be admitted under the
	// concurrency or memory thresholds.
	KindResourceExhausted ErrorKind = "resource_exhausted"

	// KindBackendUnavailable is a durable context-backend failure. Handled
	// internally by the in-process fallback; not surfaced to callers.
	KindBackendUnavailable ErrorKind = "backend_unavailable"

	// KindAllProvidersFailed is the terminal chain failure.
	KindAllProvidersFailed ErrorKind = "all_providers_failed"
)

// Error pairs an ErrorKind with a message and optional cause. It is the
// result-type surface of the core: fallback logic matches on Kind rather
// than on error strings.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with no underlying cause.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates an Error wrapping an underlying cause.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from err, walking the unwrap chain.
// Unclassified errors report KindProviderUnavailable, the conservative
// retryable default.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProviderUnavailable
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether a fallback tier or provider should be attempted
// after err. Timeouts are deliberately indistinguishable from other
// retryable failures here.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindProviderUnavailable, KindModelLoadFailed, KindResourceExhausted:
		return true
	default:
		return false
	}
}
