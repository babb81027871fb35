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

package initmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
	"github.com/dc-tec/platform-bootstrap/internal/kube"
	"github.com/dc-tec/platform-bootstrap/internal/logging"
	"github.com/dc-tec/platform-bootstrap/internal/vault"
)

// ErrRecordLost marks the unrecoverable state: the engine reports
// initialized but no local record exists, so the quorum material is gone.
var ErrRecordLost = fmt.Errorf("engine initialized but no local record exists: %w", platformerrors.ErrRejected)

// Engine is the slice of the secret engine client the manager drives.
type Engine interface {
	Initialized(ctx context.Context) (bool, error)
	Init(ctx context.Context, shares, threshold int) (*vault.InitResult, error)
	Unseal(ctx context.Context, keys []string) error
	SetToken(token string)
}

// Manager performs exactly-once initialization and unsealing.
type Manager struct {
	engine   Engine
	kube     *kube.Client
	stateDir string
	log      logr.Logger
}

// NewManager builds a Manager persisting its record under stateDir.
func NewManager(engine Engine, kubeClient *kube.Client, stateDir string, log logr.Logger) *Manager {
	return &Manager{engine: engine, kube: kubeClient, stateDir: stateDir, log: log}
}

// EnsureInitialized drives the engine to initialized-and-unsealed, running
// the destructive init call at most once across all runs.
//
// The record is consulted before the engine: a present record means a prior
// run initialized, so this run only re-unseals. An initialized engine with
// no record is surfaced as ErrRecordLost rather than guessed around.
func (m *Manager) EnsureInitialized(ctx context.Context, runID string) (*Record, error) {
	record, err := LoadRecord(m.stateDir)
	if err != nil {
		return nil, err
	}

	if record != nil {
		m.engine.SetToken(record.RootToken)
		if err := m.engine.Unseal(ctx, record.UnsealKeys[:record.Threshold]); err != nil {
			return nil, fmt.Errorf("failed to unseal with recorded quorum: %w", err)
		}
		return record, nil
	}

	initialized, err := m.engine.Initialized(ctx)
	if err != nil {
		return nil, err
	}
	if initialized {
		return nil, ErrRecordLost
	}

	result, err := m.engine.Init(ctx, constants.InitSecretShares, constants.InitSecretThreshold)
	if err != nil {
		if platformerrors.IsAlreadyDone(err) {
			// Another actor initialized between our check and the call.
			return nil, ErrRecordLost
		}
		return nil, err
	}

	record = &Record{
		RunID:         runID,
		InitializedAt: time.Now().UTC(),
		Shares:        constants.InitSecretShares,
		Threshold:     constants.InitSecretThreshold,
		RootToken:     result.RootToken,
		UnsealKeys:    result.KeysB64,
	}

	// Persist before unsealing: if the process dies here, the next run finds
	// the record and resumes; the reverse order would strand the quorum.
	if err := SaveRecord(m.stateDir, record); err != nil {
		return nil, err
	}

	logging.LogAuditEvent(m.log, "InitRecordPersisted", map[string]string{
		"run_id":    runID,
		"state_dir": m.stateDir,
	})

	m.engine.SetToken(record.RootToken)
	if err := m.engine.Unseal(ctx, record.UnsealKeys[:record.Threshold]); err != nil {
		return nil, fmt.Errorf("failed to unseal after init: %w", err)
	}

	if err := m.mirrorRootToken(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// PurgeCredentials removes the local record. Used by teardown only when
// explicitly asked; the default teardown keeps the record so a later
// bring-up can reach the same engine data.
func (m *Manager) PurgeCredentials(ctx context.Context) error {
	if err := DeleteRecord(m.stateDir); err != nil {
		return err
	}
	if err := m.kube.DeleteSecret(ctx, constants.NamespaceVault, constants.SecretEngineInit); err != nil {
		return err
	}
	logging.LogAuditEvent(m.log, "InitRecordPurged", map[string]string{"state_dir": m.stateDir})
	return nil
}

// mirrorRootToken keeps the root token in a cluster secret for in-cluster
// jobs that cannot read the state directory.
func (m *Manager) mirrorRootToken(ctx context.Context, record *Record) error {
	_, err := m.kube.UpsertSecret(ctx, constants.NamespaceVault, constants.SecretEngineInit,
		corev1.SecretTypeOpaque, map[string][]byte{
			constants.SecretKeyRootToken: []byte(record.RootToken),
		})
	return err
}
