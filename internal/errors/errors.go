/*
Copyright 2025.

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

// Package errors defines the failure taxonomy shared by every external call
// the orchestrator makes.
//
// The taxonomy drives propagation policy: Unreachable and Timeout are retried
// locally by the retry executor up to its cap and then surfaced as a stage
// failure; Rejected is surfaced immediately because retrying a malformed
// request wastes time and risks partial side effects; AlreadyDone and Drift
// are not failures at all.
package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrUnreachable indicates the target endpoint is not answering at all.
// Transient; retryable.
var ErrUnreachable = errors.New("target unreachable")

// ErrRejected indicates the target answered with a semantic error. This is
// usually a configuration mistake and is not retried the same way.
var ErrRejected = errors.New("request rejected")

// ErrTimeout indicates a bounded wait elapsed without the predicate holding.
var ErrTimeout = errors.New("bounded wait exceeded")

// ErrAlreadyDone is the idempotency short-circuit: the desired state was
// already in place, so no mutation was issued. Not an error for callers.
var ErrAlreadyDone = errors.New("already done")

// ErrDrift indicates two mirrored credential destinations disagree. It must
// trigger a corrective write, never a failure.
var ErrDrift = errors.New("credential drift detected")

// IsUnreachable reports whether err represents a connection-level failure.
// Beyond the sentinel, common transport error patterns and net.Error
// timeouts are classified as unreachable so that raw client errors retry
// without every call site wrapping them first.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrUnreachable) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	unreachablePatterns := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"dial tcp",
		"broken pipe",
		"connection closed",
		"temporary failure",
	}
	for _, pattern := range unreachablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// IsRejected reports whether err is a semantic rejection by the target.
func IsRejected(err error) bool {
	return err != nil && errors.Is(err, ErrRejected)
}

// IsTimeout reports whether err is a bounded-wait expiry.
func IsTimeout(err error) bool {
	return err != nil && errors.Is(err, ErrTimeout)
}

// IsAlreadyDone reports whether err is the idempotency short-circuit.
func IsAlreadyDone(err error) bool {
	return err != nil && errors.Is(err, ErrAlreadyDone)
}

// IsDrift reports whether err marks mirrored credentials that disagree.
func IsDrift(err error) bool {
	return err != nil && errors.Is(err, ErrDrift)
}

// IsRetryable reports whether the retry executor should keep attempting.
// Unreachable and Timeout retry; Rejected and everything else do not.
func IsRetryable(err error) bool {
	return IsUnreachable(err) || IsTimeout(err)
}

// WrapUnreachable wraps err as unreachable unless it already classifies.
func WrapUnreachable(err error) error {
	if err == nil {
		return nil
	}
	if IsUnreachable(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

// WrapRejected wraps err as a semantic rejection.
func WrapRejected(err error) error {
	if err == nil {
		return nil
	}
	if IsRejected(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

// WrapTimeout wraps err as a bounded-wait expiry.
func WrapTimeout(err error) error {
	if err == nil {
		return nil
	}
	if IsTimeout(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTimeout, err)
}

// Rejectedf builds a rejection from a format string.
func Rejectedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// Timeoutf builds a bounded-wait expiry from a format string.
func Timeoutf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTimeout, fmt.Sprintf(format, args...))
}

// ClassifyHTTPStatus maps an HTTP status code to the taxonomy. 2xx maps to
// nil. 429 and 5xx are treated as unreachable (the target is overloaded or
// mid-restart, so the call is retryable); everything else is a rejection.
func ClassifyHTTPStatus(status int, detail string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 429 || status >= 500:
		return WrapUnreachable(fmt.Errorf("status %d: %s", status, detail))
	default:
		return Rejectedf("status %d: %s", status, detail)
	}
}
