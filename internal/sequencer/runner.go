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
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
	"github.com/dc-tec/platform-bootstrap/internal/probe"
)

// Runner executes stages in dependency order, halting at the first failure
// and reporting every stage's final status.
type Runner struct {
	log logr.Logger
}

// NewRunner builds a Runner.
func NewRunner(log logr.Logger) *Runner {
	return &Runner{log: log}
}

// Run executes the stages. The returned Report always covers every stage;
// the error is the first stage failure (or a plan validation error).
func (r *Runner) Run(ctx context.Context, rc *RunContext, stages []Stage) (Report, error) {
	ordered, err := order(stages)
	if err != nil {
		return Report{}, err
	}

	statuses := make(map[string]*Result, len(ordered))
	for i := range ordered {
		statuses[ordered[i].Name] = &Result{Name: ordered[i].Name, Status: StatusPending}
	}

	var firstErr error
	for i := range ordered {
		stage := &ordered[i]
		result := statuses[stage.Name]

		if firstErr != nil {
			// A prerequisite chain already failed; everything downstream of
			// the failure stays Pending, independent stages are skipped too
			// because partial bring-up past a failure hides the real break.
			break
		}

		if err := r.runStage(ctx, rc, stage, result); err != nil {
			firstErr = fmt.Errorf("stage %s: %w", stage.Name, err)
			blocked := blockedBy(ordered, stage.Name)
			for name := range blocked {
				rc.RunLog.Record(name, string(StatusPending), "blocked by "+stage.Name)
			}
		}
	}

	report := Report{Results: make([]Result, 0, len(ordered))}
	for i := range ordered {
		report.Results = append(report.Results, *statuses[ordered[i].Name])
	}
	return report, firstErr
}

func (r *Runner) runStage(ctx context.Context, rc *RunContext, stage *Stage, result *Result) error {
	start := time.Now()
	result.Status = StatusRunning
	r.log.Info("Stage starting", "stage", stage.Name, "run_id", rc.RunID)

	finish := func(status Status, err error) error {
		result.Status = status
		result.Err = err
		result.Duration = time.Since(start)
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		rc.RunLog.Record(stage.Name, string(status), detail)
		observeStage(stage.Name, status, result.Duration)
		if err != nil {
			r.log.Error(err, "Stage failed", "stage", stage.Name, "duration", result.Duration)
		} else {
			r.log.Info("Stage succeeded", "stage", stage.Name, "duration", result.Duration)
		}
		return err
	}

	if stage.Action != nil {
		if err := stage.Action(ctx, rc); err != nil {
			return finish(StatusFailed, err)
		}
	}

	if stage.Ready != nil {
		result.Status = StatusWaitingReady
		interval := stage.ReadyInterval
		if interval <= 0 {
			interval = constants.ProbeIntervalStandard
		}
		timeout := stage.ReadyTimeout
		if timeout <= 0 {
			timeout = constants.ReadyTimeoutStandard
		}
		if err := probe.Await(ctx, r.log, stage.Ready(rc), interval, timeout); err != nil {
			return finish(StatusFailed, err)
		}
	}

	return finish(StatusSucceeded, nil)
}

// Parallel runs independent sub-tasks of a stage concurrently and joins
// their errors. The first failure cancels the rest.
func Parallel(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		group.Go(func() error { return task(groupCtx) })
	}
	return group.Wait()
}
