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

// Package guard implements the check-before-write discipline every mutating
// bootstrap operation follows.
package guard

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
)

// State classifies how much of a target's desired state already exists.
type State string

const (
	// StateAbsent means nothing exists; a full create is needed.
	StateAbsent State = "Absent"
	// StatePartial means some of the desired state exists, typically from an
	// interrupted earlier run; only the missing pieces are written.
	StatePartial State = "Partial"
	// StateFull means the desired state is already in place.
	StateFull State = "Full"
)

// Action reports what Reconcile did.
type Action string

const (
	ActionCreated  Action = "Created"
	ActionRepaired Action = "Repaired"
	ActionSkipped  Action = "Skipped"
)

// Target is a unit of desired state that can be classified and converged.
type Target interface {
	// Name identifies the target in logs.
	Name() string
	// Classify inspects the live system without mutating it.
	Classify(ctx context.Context) (State, error)
	// Create writes the full desired state; called only when Absent.
	Create(ctx context.Context) error
	// Repair completes partial state; called only when Partial. Repair must
	// itself be idempotent since a crash can interrupt it too.
	Repair(ctx context.Context) error
}

// Reconcile converges the target: classify, then write only what the
// classification demands. A Full target produces no writes at all.
func Reconcile(ctx context.Context, log logr.Logger, target Target) (Action, error) {
	state, err := target.Classify(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to classify %s: %w", target.Name(), err)
	}

	switch state {
	case StateFull:
		log.V(1).Info("Target already converged", "target", target.Name())
		return ActionSkipped, nil
	case StateAbsent:
		if err := target.Create(ctx); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", target.Name(), err)
		}
		log.Info("Target created", "target", target.Name())
		return ActionCreated, nil
	case StatePartial:
		if err := target.Repair(ctx); err != nil {
			return "", fmt.Errorf("failed to repair %s: %w", target.Name(), err)
		}
		log.Info("Target repaired", "target", target.Name())
		return ActionRepaired, nil
	default:
		return "", fmt.Errorf("target %s returned unknown state %q", target.Name(), state)
	}
}

// Func adapts plain functions into a Target.
type Func struct {
	TargetName string
	ClassifyFn func(ctx context.Context) (State, error)
	CreateFn   func(ctx context.Context) error
	RepairFn   func(ctx context.Context) error
}

func (f Func) Name() string { return f.TargetName }

func (f Func) Classify(ctx context.Context) (State, error) { return f.ClassifyFn(ctx) }

func (f Func) Create(ctx context.Context) error { return f.CreateFn(ctx) }

// Repair falls back to Create when no dedicated repair is given: for
// targets whose Create is a pure upsert, completing partial state is the
// same write.
func (f Func) Repair(ctx context.Context) error {
	if f.RepairFn != nil {
		return f.RepairFn(ctx)
	}
	return f.CreateFn(ctx)
}
