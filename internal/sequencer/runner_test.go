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

package sequencer

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/dc-tec/platform-bootstrap/internal/logging"
	"github.com/dc-tec/platform-bootstrap/internal/probe"
)

func newTestRunContext(t *testing.T) *RunContext {
	t.Helper()
	dir := t.TempDir()
	runLog, err := logging.OpenRunLog(filepath.Join(dir, "run.log"), "test-run")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = runLog.Close() })

	rc := NewRunContext("hashicorp.lab", dir, nil, logr.Discard(), runLog)
	t.Cleanup(func() { _ = rc.Cleanup() })
	return rc
}

func noop(ctx context.Context, rc *RunContext) error { return nil }

func TestRunExecutesInDependencyOrder(t *testing.T) {
	rc := newTestRunContext(t)
	var executed []string
	record := func(name string) func(ctx context.Context, rc *RunContext) error {
		return func(ctx context.Context, rc *RunContext) error {
			executed = append(executed, name)
			return nil
		}
	}

	// Declared deliberately out of order.
	stages := []Stage{
		{Name: "secret-engine", Requires: []string{"namespaces", "object-storage"}, Action: record("secret-engine")},
		{Name: "namespaces", Action: record("namespaces")},
		{Name: "object-storage", Requires: []string{"namespaces"}, Action: record("object-storage")},
	}

	report, err := NewRunner(logr.Discard()).Run(context.Background(), rc, stages)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Failed() {
		t.Fatal("report shows failure on a clean run")
	}

	want := []string{"namespaces", "object-storage", "secret-engine"}
	if len(executed) != len(want) {
		t.Fatalf("executed %v, want %v", executed, want)
	}
	for i := range want {
		if executed[i] != want[i] {
			t.Fatalf("executed %v, want %v", executed, want)
		}
	}
}

func TestRunHaltsOnFailureAndReportsPendingDependents(t *testing.T) {
	rc := newTestRunContext(t)
	boom := errors.New("engine unreachable")
	var laterRan bool

	stages := []Stage{
		{Name: "namespaces", Action: noop},
		{Name: "secret-engine", Requires: []string{"namespaces"}, Action: func(ctx context.Context, rc *RunContext) error {
			return boom
		}},
		{Name: "identity-provider", Requires: []string{"secret-engine"}, Action: func(ctx context.Context, rc *RunContext) error {
			laterRan = true
			return nil
		}},
	}

	report, err := NewRunner(logr.Discard()).Run(context.Background(), rc, stages)
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want the stage failure", err)
	}
	if laterRan {
		t.Error("dependent stage ran after its prerequisite failed")
	}

	if result, _ := report.Result("secret-engine"); result.Status != StatusFailed {
		t.Errorf("secret-engine status = %v, want Failed", result.Status)
	}
	if result, _ := report.Result("identity-provider"); result.Status != StatusPending {
		t.Errorf("identity-provider status = %v, want Pending", result.Status)
	}
	if result, _ := report.Result("namespaces"); result.Status != StatusSucceeded {
		t.Errorf("namespaces status = %v, want Succeeded", result.Status)
	}
}

func TestRunRejectsUnknownRequirement(t *testing.T) {
	rc := newTestRunContext(t)
	stages := []Stage{
		{Name: "workloads", Requires: []string{"no-such-stage"}, Action: noop},
	}
	if _, err := NewRunner(logr.Discard()).Run(context.Background(), rc, stages); err == nil {
		t.Fatal("unknown requirement accepted")
	}
}

func TestRunRejectsCycle(t *testing.T) {
	rc := newTestRunContext(t)
	stages := []Stage{
		{Name: "a", Requires: []string{"b"}, Action: noop},
		{Name: "b", Requires: []string{"a"}, Action: noop},
	}
	if _, err := NewRunner(logr.Discard()).Run(context.Background(), rc, stages); err == nil {
		t.Fatal("dependency cycle accepted")
	}
}

func TestRunWaitsForReadiness(t *testing.T) {
	rc := newTestRunContext(t)
	var polls atomic.Int32

	stages := []Stage{
		{
			Name:   "identity-provider",
			Action: noop,
			Ready: func(rc *RunContext) probe.Check {
				return probe.CheckFunc("idp ready", func(ctx context.Context) error {
					if polls.Add(1) < 3 {
						return errors.New("still starting")
					}
					return nil
				})
			},
			ReadyInterval: 10 * time.Millisecond,
			ReadyTimeout:  2 * time.Second,
		},
	}

	report, err := NewRunner(logr.Discard()).Run(context.Background(), rc, stages)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result, _ := report.Result("identity-provider"); result.Status != StatusSucceeded {
		t.Errorf("status = %v, want Succeeded", result.Status)
	}
	if polls.Load() < 3 {
		t.Errorf("readiness polled %d times, want at least 3", polls.Load())
	}
}

func TestRunReadinessTimeoutFailsStage(t *testing.T) {
	rc := newTestRunContext(t)
	stages := []Stage{
		{
			Name:   "session-broker",
			Action: noop,
			Ready: func(rc *RunContext) probe.Check {
				return probe.CheckFunc("broker ready", func(ctx context.Context) error {
					return errors.New("connection refused")
				})
			},
			ReadyInterval: 10 * time.Millisecond,
			ReadyTimeout:  100 * time.Millisecond,
		},
	}

	report, err := NewRunner(logr.Discard()).Run(context.Background(), rc, stages)
	if err == nil {
		t.Fatal("readiness timeout did not fail the run")
	}
	if result, _ := report.Result("session-broker"); result.Status != StatusFailed {
		t.Errorf("status = %v, want Failed", result.Status)
	}
}

func TestParallelJoinsErrors(t *testing.T) {
	boom := errors.New("task failed")
	err := Parallel(context.Background(),
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
	)
	if !errors.Is(err, boom) {
		t.Errorf("Parallel() error = %v, want the task failure", err)
	}
}

func TestRunContextValues(t *testing.T) {
	rc := newTestRunContext(t)

	rc.Set("auth-method-id", "amoidc_1")
	if v, ok := rc.Get("auth-method-id"); !ok || v != "amoidc_1" {
		t.Errorf("Get() = %q, %t", v, ok)
	}
	if _, err := rc.MustGet("never-set"); err == nil {
		t.Error("MustGet() of unset key succeeded")
	}
}

func TestScratchDirLifecycle(t *testing.T) {
	rc := newTestRunContext(t)

	dir, err := rc.ScratchDir()
	if err != nil {
		t.Fatalf("ScratchDir() error = %v", err)
	}
	again, err := rc.ScratchDir()
	if err != nil || again != dir {
		t.Errorf("second ScratchDir() = %q, %v; want same dir", again, err)
	}
	if err := rc.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
}
