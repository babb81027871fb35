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
	"time"

	"github.com/cenkalti/backoff/v5"
)

// fibonacciBackOff walks delays along base*F(n) for F = 1, 1, 2, 3, 5, ...
// capped at max. The early retries stay cheap, which suits targets that
// converge on their own background poll cycle.
type fibonacciBackOff struct {
	base time.Duration
	max  time.Duration

	prev time.Duration
	curr time.Duration
}

var _ backoff.BackOff = (*fibonacciBackOff)(nil)

func newFibonacciBackOff(base, max time.Duration) *fibonacciBackOff {
	b := &fibonacciBackOff{base: base, max: max}
	b.Reset()
	return b
}

// NextBackOff returns the next delay in the sequence, saturating at max.
func (b *fibonacciBackOff) NextBackOff() time.Duration {
	d := b.curr
	if d > b.max {
		d = b.max
	}

	next := b.prev + b.curr
	b.prev = b.curr
	b.curr = next
	return d
}

// Reset rewinds the sequence to its start.
func (b *fibonacciBackOff) Reset() {
	b.prev = 0
	b.curr = b.base
}
