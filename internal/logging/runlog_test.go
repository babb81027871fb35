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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunLogAppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "run.log")

	first, err := OpenRunLog(path, "run-1")
	if err != nil {
		t.Fatalf("OpenRunLog() error = %v", err)
	}
	first.Record("namespaces", "Succeeded", "")
	first.Record("secret-engine", "Failed", "dial tcp: connection refused")
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := OpenRunLog(path, "run-2")
	if err != nil {
		t.Fatalf("OpenRunLog() second run error = %v", err)
	}
	second.Record("namespaces", "Succeeded", "")
	_ = second.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	for _, want := range []string{"run run-1", "run run-2", "stage=secret-engine status=Failed", "connection refused"} {
		if !strings.Contains(content, want) {
			t.Fatalf("run log missing %q:\n%s", want, content)
		}
	}
}

func TestRunLogRecordAfterCloseIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	rl, err := OpenRunLog(path, "run")
	if err != nil {
		t.Fatal(err)
	}
	_ = rl.Close()
	rl.Record("stage", "Succeeded", "") // must not panic
	if err := rl.Close(); err != nil {
		t.Fatalf("double Close() error = %v", err)
	}
}
