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

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"

	booterrors "github.com/dc-tec/platform-bootstrap/internal/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Shape:       Fixed,
	}
}

func TestExecuteSucceedsAfterKFailures(t *testing.T) {
	const k = 3
	e := NewExecutor(logr.Discard())

	calls := 0
	out, err := e.Execute(context.Background(), "flaky", fastPolicy(k+2), func(context.Context) error {
		calls++
		if calls <= k {
			return booterrors.WrapUnreachable(errors.New("connection refused"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v, want success", err)
	}
	if out.Attempts != k+1 {
		t.Fatalf("Attempts = %d, want %d", out.Attempts, k+1)
	}
}

func TestExecuteStopsAtAttemptCap(t *testing.T) {
	e := NewExecutor(logr.Discard())

	calls := 0
	out, err := e.Execute(context.Background(), "dead", fastPolicy(4), func(context.Context) error {
		calls++
		return booterrors.WrapUnreachable(errors.New("connection refused"))
	})
	if err == nil {
		t.Fatal("Execute() succeeded, want failure")
	}
	if calls != 4 || out.Attempts != 4 {
		t.Fatalf("calls = %d, Attempts = %d, want 4", calls, out.Attempts)
	}
	if !booterrors.IsUnreachable(err) {
		t.Fatalf("error lost its classification: %v", err)
	}
}

func TestExecuteRejectedIsNotRetried(t *testing.T) {
	e := NewExecutor(logr.Discard())

	calls := 0
	_, err := e.Execute(context.Background(), "misconfigured", fastPolicy(5), func(context.Context) error {
		calls++
		return booterrors.Rejectedf("invalid auth method configuration")
	})
	if !booterrors.IsRejected(err) {
		t.Fatalf("error = %v, want rejection", err)
	}
	if calls != 1 {
		t.Fatalf("rejected operation ran %d times, want 1", calls)
	}
}

func TestExecuteAlreadyDoneIsSuccess(t *testing.T) {
	e := NewExecutor(logr.Discard())

	out, err := e.Execute(context.Background(), "idempotent", fastPolicy(3), func(context.Context) error {
		return booterrors.ErrAlreadyDone
	})
	if err != nil {
		t.Fatalf("Execute() error = %v, want already-done treated as success", err)
	}
	if out.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", out.Attempts)
	}
}

func TestExecuteOverallTimeoutBeatsLastError(t *testing.T) {
	e := NewExecutor(logr.Discard())

	p := Policy{
		MaxAttempts:    100,
		BaseDelay:      10 * time.Millisecond,
		MaxDelay:       10 * time.Millisecond,
		Shape:          Fixed,
		OverallTimeout: 50 * time.Millisecond,
	}
	_, err := e.Execute(context.Background(), "slow", p, func(context.Context) error {
		return booterrors.WrapUnreachable(errors.New("connection refused"))
	})
	if !booterrors.IsTimeout(err) {
		t.Fatalf("error = %v, want timeout classification", err)
	}
}

func TestExecuteValueAcceptPredicate(t *testing.T) {
	e := NewExecutor(logr.Discard())

	// The call itself never errors; success requires the body to match.
	calls := 0
	val, out, err := ExecuteValue(context.Background(), e, "status-poll", fastPolicy(5),
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "sealed", nil
			}
			return "unsealed", nil
		},
		func(v string) bool { return v == "unsealed" },
	)
	if err != nil {
		t.Fatalf("ExecuteValue() error = %v", err)
	}
	if val != "unsealed" || out.Attempts != 3 {
		t.Fatalf("val = %q, Attempts = %d, want unsealed after 3", val, out.Attempts)
	}
}

func TestExecuteContextCancellation(t *testing.T) {
	e := NewExecutor(logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := e.Execute(ctx, "cancelled", Policy{
			MaxAttempts: 1000,
			BaseDelay:   5 * time.Millisecond,
			Shape:       Fixed,
		}, func(context.Context) error {
			calls++
			return booterrors.WrapUnreachable(errors.New("connection refused"))
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	settled := calls
	time.Sleep(20 * time.Millisecond)
	if calls != settled {
		t.Fatal("operation kept running after cancellation")
	}
}

func TestFibonacciBackOffSequence(t *testing.T) {
	b := newFibonacciBackOff(time.Second, 5*time.Second)

	want := []time.Duration{
		1 * time.Second,
		1 * time.Second,
		2 * time.Second,
		3 * time.Second,
		5 * time.Second,
		5 * time.Second, // capped
		5 * time.Second, // capped
	}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Fatalf("NextBackOff()[%d] = %s, want %s", i, got, w)
		}
	}

	b.Reset()
	if got := b.NextBackOff(); got != time.Second {
		t.Fatalf("after Reset, NextBackOff() = %s, want 1s", got)
	}
}
