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

// Package retry is the single resilience point for every external call the
// orchestrator makes. Call sites declare a Policy; ad hoc sleep loops are not
// permitted anywhere else in the codebase.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"

	booterrors "github.com/dc-tec/platform-bootstrap/internal/errors"
)

// Shape selects how the delay between attempts grows.
type Shape int

const (
	// Fixed repeats the base delay unchanged. Used where the target's
	// latency is known and uniform.
	Fixed Shape = iota
	// Exponential doubles the delay up to MaxDelay. Used for cold-start
	// waits such as an API server still booting.
	Exponential
	// Fibonacci grows the delay along a capped Fibonacci sequence. The
	// first retry stays cheap while later retries stop hammering the
	// target; used for background-poll-style convergence waits.
	Fibonacci
)

// Policy bounds a retried operation.
type Policy struct {
	// MaxAttempts caps the total number of attempts (not retries).
	MaxAttempts int
	// BaseDelay is the first retry delay.
	BaseDelay time.Duration
	// MaxDelay is the ceiling for Exponential and Fibonacci shapes.
	MaxDelay time.Duration
	// Shape selects the backoff curve.
	Shape Shape
	// OverallTimeout bounds the whole operation including delays. When it
	// elapses the executor returns a Timeout failure regardless of what
	// the last attempt reported. Zero means no overall bound.
	OverallTimeout time.Duration
}

// Outcome reports how an execution went, independent of its error.
type Outcome struct {
	// Attempts is the number of times the operation ran.
	Attempts int
	// Elapsed is the wall time spent inside Execute.
	Elapsed time.Duration
}

// Executor runs operations under a Policy. The zero value is usable; a
// logger enables per-retry visibility.
type Executor struct {
	log logr.Logger
}

// NewExecutor returns an Executor logging retries through the given logger.
func NewExecutor(log logr.Logger) *Executor {
	return &Executor{log: log}
}

// Execute runs op until it succeeds, a non-retryable error occurs, the
// attempt cap is reached, or the overall timeout elapses.
//
// Classification follows the shared taxonomy: Rejected errors abort
// immediately, Unreachable and Timeout errors retry, and AlreadyDone is a
// success. Unclassified errors retry, on the grounds that a client that
// wanted fail-fast behavior would have wrapped its error as Rejected.
func (e *Executor) Execute(ctx context.Context, name string, p Policy, op func(context.Context) error) (Outcome, error) {
	val, out, err := ExecuteValue(ctx, e, name, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, nil)
	_ = val
	return out, err
}

// ExecuteValue is Execute for operations that produce a value. The optional
// accept predicate is a success condition distinct from "call did not
// error": a response that arrives but does not satisfy accept is retried.
func ExecuteValue[T any](
	ctx context.Context,
	e *Executor,
	name string,
	p Policy,
	op func(context.Context) (T, error),
	accept func(T) bool,
) (T, Outcome, error) {
	start := time.Now()

	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if p.OverallTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.OverallTimeout)
		defer cancel()
	}

	attempts := 0
	operation := func() (T, error) {
		attempts++
		v, err := op(runCtx)
		if err != nil {
			if booterrors.IsAlreadyDone(err) {
				return v, nil
			}
			if booterrors.IsRejected(err) {
				return v, backoff.Permanent(err)
			}
			return v, err
		}
		// The accept predicate is a success condition distinct from "no
		// error"; a response that fails it is retried, not rejected.
		if accept != nil && !accept(v) {
			return v, fmt.Errorf("%s: response did not satisfy success predicate", name)
		}
		return v, nil
	}

	notify := func(err error, d time.Duration) {
		if e != nil {
			e.log.V(1).Info("retrying operation", "operation", name, "delay", d.String(), "error", err.Error())
		}
	}

	val, err := backoff.Retry(runCtx, operation,
		backoff.WithBackOff(newBackOff(p)),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithNotify(notify),
	)

	out := Outcome{Attempts: attempts, Elapsed: time.Since(start)}
	if err == nil {
		return val, out, nil
	}

	// Deadline expiry beats whatever the last attempt reported: callers
	// react to Timeout differently than to Rejected or Unreachable.
	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return val, out, booterrors.WrapTimeout(fmt.Errorf("%s: overall timeout %s exceeded after %d attempts: %w", name, p.OverallTimeout, attempts, err))
	}
	if ctx.Err() != nil {
		return val, out, ctx.Err()
	}

	if booterrors.IsRejected(err) {
		return val, out, err
	}
	if booterrors.IsUnreachable(err) || booterrors.IsTimeout(err) {
		return val, out, fmt.Errorf("%s: gave up after %d attempts: %w", name, attempts, err)
	}
	return val, out, fmt.Errorf("%s: gave up after %d attempts: %w", name, attempts, err)
}

func newBackOff(p Policy) backoff.BackOff {
	switch p.Shape {
	case Exponential:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.BaseDelay
		b.MaxInterval = p.MaxDelay
		return b
	case Fibonacci:
		return newFibonacciBackOff(p.BaseDelay, p.MaxDelay)
	default:
		return backoff.NewConstantBackOff(p.BaseDelay)
	}
}
