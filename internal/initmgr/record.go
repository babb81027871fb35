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

// Package initmgr performs the one-time initialization of the secret
// engine and owns the local record of its quorum material.
package initmgr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
)

const recordFileName = "init-record.json"

// Record is the persisted output of engine initialization. It is the only
// copy of the unseal quorum; losing it while the engine remains initialized
// is unrecoverable without manual rekey.
type Record struct {
	RunID         string    `json:"run_id"`
	InitializedAt time.Time `json:"initialized_at"`
	Shares        int       `json:"shares"`
	Threshold     int       `json:"threshold"`
	RootToken     string    `json:"root_token"`
	UnsealKeys    []string  `json:"unseal_keys"`
}

// LoadRecord reads the record from dir; returns (nil, nil) when none
// exists.
func LoadRecord(dir string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, recordFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read initialization record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse initialization record: %w", err)
	}
	if record.RootToken == "" || len(record.UnsealKeys) == 0 {
		return nil, platformerrors.Rejectedf("initialization record is incomplete")
	}
	if record.Threshold <= 0 || record.Threshold > len(record.UnsealKeys) {
		return nil, platformerrors.Rejectedf("initialization record is incomplete: threshold %d with %d unseal keys",
			record.Threshold, len(record.UnsealKeys))
	}
	return &record, nil
}

// SaveRecord writes the record atomically with owner-only permissions. The
// temp-file-then-rename dance makes sure a crash mid-write never leaves a
// truncated record behind.
func SaveRecord(dir string, record *Record) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode initialization record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, recordFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp record file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set record permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write initialization record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync initialization record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close initialization record: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, recordFileName)); err != nil {
		return fmt.Errorf("failed to install initialization record: %w", err)
	}
	return nil
}

// DeleteRecord removes the record; absent is success.
func DeleteRecord(dir string) error {
	err := os.Remove(filepath.Join(dir, recordFileName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete initialization record: %w", err)
	}
	return nil
}
