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

package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunLog appends human-readable stage outcomes to a file. Together with the
// initialization record it is the only file-based state the orchestrator
// owns; the cluster and the services remain the system of record for
// everything else.
type RunLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenRunLog opens (creating if needed) the run log at path and writes a
// run header carrying the run ID.
func OpenRunLog(path, runID string) (*RunLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create run log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log %s: %w", path, err)
	}

	rl := &RunLog{file: f}
	rl.writeLine("=== run %s started %s", runID, time.Now().UTC().Format(time.RFC3339))
	return rl, nil
}

// Record appends a stage outcome line.
func (r *RunLog) Record(stage, status, detail string) {
	if detail == "" {
		r.writeLine("%s  stage=%s status=%s", time.Now().UTC().Format(time.RFC3339), stage, status)
		return
	}
	r.writeLine("%s  stage=%s status=%s detail=%q", time.Now().UTC().Format(time.RFC3339), stage, status, detail)
}

// Close flushes and closes the underlying file.
func (r *RunLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *RunLog) writeLine(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	_, _ = fmt.Fprintf(r.file, format+"\n", args...)
}
