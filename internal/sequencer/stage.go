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

// Package sequencer runs the bootstrap stages in dependency order.
package sequencer

import (
	"context"
	"fmt"
	"time"

	"github.com/dc-tec/platform-bootstrap/internal/probe"
)

// Status is the lifecycle state of a stage within a run.
type Status string

const (
	// StatusPending means the stage has not started. Stages downstream of a
	// failure stay Pending in the final report.
	StatusPending Status = "Pending"
	// StatusRunning means the action is executing.
	StatusRunning Status = "Running"
	// StatusWaitingReady means the action finished and the readiness gate is
	// being polled.
	StatusWaitingReady Status = "WaitingReady"
	// StatusSucceeded means action and readiness both passed.
	StatusSucceeded Status = "Succeeded"
	// StatusFailed means the action or readiness gate failed terminally.
	StatusFailed Status = "Failed"
)

// Stage is one unit of bring-up. Action performs the work; Ready, when
// set, gates completion on observed service state.
type Stage struct {
	Name     string
	Requires []string

	Action func(ctx context.Context, rc *RunContext) error

	// Ready is polled after Action until it passes or ReadyTimeout elapses.
	Ready         func(rc *RunContext) probe.Check
	ReadyInterval time.Duration
	ReadyTimeout  time.Duration
}

// Result records how one stage ended.
type Result struct {
	Name     string
	Status   Status
	Err      error
	Duration time.Duration
}

// Report is the per-stage outcome of a whole run.
type Report struct {
	Results []Result
}

// Failed reports whether any stage failed.
func (r Report) Failed() bool {
	for _, result := range r.Results {
		if result.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Result returns the outcome for a named stage.
func (r Report) Result(name string) (Result, bool) {
	for _, result := range r.Results {
		if result.Name == name {
			return result, true
		}
	}
	return Result{}, false
}

// order returns the stages in a dependency-respecting order, rejecting
// unknown requirements and cycles. Declaration order breaks ties so runs
// are reproducible.
func order(stages []Stage) ([]Stage, error) {
	byName := make(map[string]*Stage, len(stages))
	for i := range stages {
		if _, dup := byName[stages[i].Name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", stages[i].Name)
		}
		byName[stages[i].Name] = &stages[i]
	}
	for _, stage := range stages {
		for _, req := range stage.Requires {
			if _, ok := byName[req]; !ok {
				return nil, fmt.Errorf("stage %q requires unknown stage %q", stage.Name, req)
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(stages))
	ordered := make([]Stage, 0, len(stages))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle through stage %q", name)
		}
		state[name] = visiting
		for _, req := range byName[name].Requires {
			if err := visit(req); err != nil {
				return err
			}
		}
		state[name] = done
		ordered = append(ordered, *byName[name])
		return nil
	}

	for _, stage := range stages {
		if err := visit(stage.Name); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// blockedBy computes the set of stages transitively downstream of failed.
func blockedBy(stages []Stage, failed string) map[string]bool {
	blocked := map[string]bool{failed: true}
	for changed := true; changed; {
		changed = false
		for _, stage := range stages {
			if blocked[stage.Name] {
				continue
			}
			for _, req := range stage.Requires {
				if blocked[req] {
					blocked[stage.Name] = true
					changed = true
					break
				}
			}
		}
	}
	delete(blocked, failed)
	return blocked
}
