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

package errors

import (
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestIsUnreachablePatterns(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "sentinel", err: ErrUnreachable, want: true},
		{name: "wrapped sentinel", err: fmt.Errorf("dial: %w", ErrUnreachable), want: true},
		{name: "connection refused", err: errors.New("dial tcp 10.0.0.1:8200: connection refused"), want: true},
		{name: "dns failure", err: &net.DNSError{Err: "no such host", Name: "vault.hashicorp.lab"}, want: true},
		{name: "semantic error", err: errors.New("permission denied"), want: false},
		{name: "rejected is not unreachable", err: Rejectedf("bad request"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnreachable(tt.err); got != tt.want {
				t.Fatalf("IsUnreachable(%v) = %t, want %t", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryPolicyClassification(t *testing.T) {
	if !IsRetryable(WrapUnreachable(errors.New("connection refused"))) {
		t.Fatal("unreachable errors must be retryable")
	}
	if !IsRetryable(Timeoutf("waited 30s")) {
		t.Fatal("timeouts must be retryable")
	}
	if IsRetryable(Rejectedf("invalid payload")) {
		t.Fatal("rejections must not be retryable")
	}
	if IsRetryable(ErrAlreadyDone) {
		t.Fatal("already-done must not be retryable")
	}
}

func TestWrapIsIdempotent(t *testing.T) {
	base := errors.New("connection reset by peer")
	once := WrapUnreachable(base)
	twice := WrapUnreachable(once)
	if once != twice {
		t.Fatalf("WrapUnreachable re-wrapped an already classified error: %v", twice)
	}

	rej := WrapRejected(errors.New("boom"))
	if WrapRejected(rej) != rej {
		t.Fatal("WrapRejected re-wrapped an already classified error")
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
		wantOK bool
	}{
		{status: 200, wantOK: true},
		{status: 204, wantOK: true},
		{status: 400, check: IsRejected},
		{status: 401, check: IsRejected},
		{status: 404, check: IsRejected},
		{status: 409, check: IsRejected},
		{status: 429, check: IsUnreachable},
		{status: 500, check: IsUnreachable},
		{status: 503, check: IsUnreachable},
	}

	for _, tt := range tests {
		err := ClassifyHTTPStatus(tt.status, "detail")
		if tt.wantOK {
			if err != nil {
				t.Fatalf("status %d: unexpected error %v", tt.status, err)
			}
			continue
		}
		if err == nil || !tt.check(err) {
			t.Fatalf("status %d: misclassified as %v", tt.status, err)
		}
	}
}

func TestDriftIsNotFailure(t *testing.T) {
	err := fmt.Errorf("%w: keycloak secret differs from boundary copy", ErrDrift)
	if !IsDrift(err) {
		t.Fatal("expected drift classification")
	}
	if IsRetryable(err) {
		t.Fatal("drift must be corrected, not retried")
	}
}
