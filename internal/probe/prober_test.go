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

package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"

	booterrors "github.com/dc-tec/platform-bootstrap/internal/errors"
)

type countingCheck struct {
	polls     atomic.Int32
	readyAt   int32
	neverPass bool
}

func (c *countingCheck) Name() string { return "counting" }

func (c *countingCheck) Probe(context.Context) error {
	n := c.polls.Add(1)
	if c.neverPass || n < c.readyAt {
		return errors.New("not yet")
	}
	return nil
}

func TestAwaitReturnsReadyAtExactPoll(t *testing.T) {
	// Predicate becomes true at the Nth poll; Await must report ready on
	// that poll and never earlier.
	const n = 4
	check := &countingCheck{readyAt: n}

	err := Await(context.Background(), logr.Discard(), check, time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if got := check.polls.Load(); got != n {
		t.Fatalf("check polled %d times, want %d", got, n)
	}
}

func TestAwaitTimesOutNotEarlier(t *testing.T) {
	check := &countingCheck{neverPass: true}

	start := time.Now()
	err := Await(context.Background(), logr.Discard(), check, 5*time.Millisecond, 60*time.Millisecond)
	elapsed := time.Since(start)

	if !booterrors.IsTimeout(err) {
		t.Fatalf("error = %v, want timeout classification", err)
	}
	if elapsed < 60*time.Millisecond {
		t.Fatalf("Await returned after %s, before the configured timeout", elapsed)
	}
}

func TestAwaitCarriesLastObservedState(t *testing.T) {
	check := &countingCheck{neverPass: true}
	err := Await(context.Background(), logr.Discard(), check, time.Millisecond, 20*time.Millisecond)
	if err == nil || !booterrors.IsTimeout(err) {
		t.Fatalf("error = %v, want timeout", err)
	}
	if want := "not yet"; !strings.Contains(err.Error(), want) {
		t.Fatalf("error %q does not carry last observed state %q", err, want)
	}
}

func TestTCPCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()

	check := &TCPCheck{Addr: ln.Addr().String()}
	if err := check.Probe(context.Background()); err != nil {
		t.Fatalf("Probe() against listening socket = %v", err)
	}

	_ = ln.Close()
	if err := check.Probe(context.Background()); err == nil {
		t.Fatal("Probe() against closed socket succeeded")
	}
}

func TestHTTPCheckStatusMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	anyOK := &HTTPCheck{URL: srv.URL}
	if err := anyOK.Probe(context.Background()); err == nil {
		t.Fatal("expected failure for 503 with default expectation")
	}

	sealedOK := &HTTPCheck{URL: srv.URL, ExpectStatus: []int{200, 503}}
	if err := sealedOK.Probe(context.Background()); err != nil {
		t.Fatalf("Probe() = %v, want 503 accepted", err)
	}
}

func TestJSONFieldCheckSealedPredicate(t *testing.T) {
	sealed := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"initialized": true, "sealed": %t}`, sealed)
	}))
	defer srv.Close()

	check := &JSONFieldCheck{
		Desc: "engine unsealed",
		URL:  srv.URL,
		Predicate: func(body map[string]any) bool {
			v, ok := body["sealed"].(bool)
			return ok && !v
		},
	}

	if err := check.Probe(context.Background()); err == nil {
		t.Fatal("predicate passed while sealed")
	}

	sealed = false
	if err := check.Probe(context.Background()); err != nil {
		t.Fatalf("Probe() = %v, want pass once unsealed", err)
	}
}

func TestConjunctionOrderAndGating(t *testing.T) {
	var order []string

	mk := func(name string, fail bool) Check {
		return checkFunc{name: name, fn: func(context.Context) error {
			order = append(order, name)
			if fail {
				return errors.New(name + " failed")
			}
			return nil
		}}
	}

	conj := &Conjunction{
		Desc:   "coarse gates fine",
		Checks: []Check{mk("coarse", true), mk("fine", false)},
	}
	if err := conj.Probe(context.Background()); err == nil {
		t.Fatal("conjunction passed with failing member")
	}
	if len(order) != 1 || order[0] != "coarse" {
		t.Fatalf("fine check ran despite coarse failure: %v", order)
	}

	order = nil
	conj.Checks = []Check{mk("coarse", false), mk("fine", false)}
	if err := conj.Probe(context.Background()); err != nil {
		t.Fatalf("Probe() = %v", err)
	}
	if len(order) != 2 || order[0] != "coarse" || order[1] != "fine" {
		t.Fatalf("unexpected evaluation order: %v", order)
	}
}

type checkFunc struct {
	name string
	fn   func(context.Context) error
}

func (c checkFunc) Name() string                    { return c.name }
func (c checkFunc) Probe(ctx context.Context) error { return c.fn(ctx) }
