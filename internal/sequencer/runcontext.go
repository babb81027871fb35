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
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/dc-tec/platform-bootstrap/internal/kube"
	"github.com/dc-tec/platform-bootstrap/internal/logging"
)

// RunContext carries everything stages share within one run: identity,
// clients, the run log, and values produced by earlier stages for later
// ones.
type RunContext struct {
	RunID    string
	Domain   string
	StateDir string

	Kube   *kube.Client
	Log    logr.Logger
	RunLog *logging.RunLog

	scratchDir string

	mu     sync.RWMutex
	values map[string]string
}

// NewRunContext builds a RunContext with a fresh run ID and an empty value
// store.
func NewRunContext(domain, stateDir string, kubeClient *kube.Client, log logr.Logger, runLog *logging.RunLog) *RunContext {
	return &RunContext{
		RunID:    uuid.NewString(),
		Domain:   domain,
		StateDir: stateDir,
		Kube:     kubeClient,
		Log:      log,
		RunLog:   runLog,
		values:   map[string]string{},
	}
}

// Set stores a value produced by a stage, e.g. a created resource ID.
func (rc *RunContext) Set(key, value string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.values[key] = value
}

// Get reads a value set by an earlier stage.
func (rc *RunContext) Get(key string) (string, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.values[key]
	return v, ok
}

// MustGet reads a value an earlier stage was required to set.
func (rc *RunContext) MustGet(key string) (string, error) {
	if v, ok := rc.Get(key); ok {
		return v, nil
	}
	return "", fmt.Errorf("required value %q was not produced by any earlier stage", key)
}

// ScratchDir returns (creating on first use) a per-run directory for
// rendered configs and other intermediates.
func (rc *RunContext) ScratchDir() (string, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.scratchDir != "" {
		return rc.scratchDir, nil
	}
	dir := filepath.Join(rc.StateDir, "scratch", rc.RunID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	rc.scratchDir = dir
	return dir, nil
}

// Cleanup removes the scratch directory. Safe to call when none was
// created.
func (rc *RunContext) Cleanup() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.scratchDir == "" {
		return nil
	}
	err := os.RemoveAll(rc.scratchDir)
	rc.scratchDir = ""
	return err
}
