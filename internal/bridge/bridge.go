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

// Package bridge moves credentials between the systems that own them: the
// secret engine, the cluster secret store, the identity provider, and the
// session broker.
package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
	"github.com/dc-tec/platform-bootstrap/internal/kube"
	"github.com/dc-tec/platform-bootstrap/internal/logging"
)

// SyncOutcome reports what a bridge pass did to the destination.
type SyncOutcome string

const (
	// OutcomeUnchanged means source and destination already agreed.
	OutcomeUnchanged SyncOutcome = "Unchanged"
	// OutcomeUpdated means the destination was corrected to match the source.
	OutcomeUpdated SyncOutcome = "Updated"
	// OutcomeConflict means a concurrent writer moved the destination between
	// the compare and the write. The mirror keeps the old value, so the next
	// pass re-reads and retries.
	OutcomeConflict SyncOutcome = "Conflict"
)

// Broker is the slice of the session broker client the bridge drives.
type Broker interface {
	UpdateAuthMethodSecret(ctx context.Context, id, clientSecret string) error
}

// IdentityProvider is the slice of the identity provider client the bridge
// reads from.
type IdentityProvider interface {
	ClientSecret(ctx context.Context, realm, internalID string) (string, error)
}

// CredentialBridge mirrors the identity provider's OIDC client secret into
// the session broker.
//
// The broker stores only an HMAC of the secret, so equality against the
// live broker state cannot be checked directly. The bridge keeps its own
// mirror secret recording the hash of the value it last wrote; the mirror
// is the comparison basis.
type CredentialBridge struct {
	idp    IdentityProvider
	broker Broker
	kube   *kube.Client
	log    logr.Logger
}

// NewCredentialBridge builds a CredentialBridge.
func NewCredentialBridge(idp IdentityProvider, broker Broker, kubeClient *kube.Client, log logr.Logger) *CredentialBridge {
	return &CredentialBridge{idp: idp, broker: broker, kube: kubeClient, log: log}
}

// SyncOIDCSecret makes the broker's auth method carry the identity
// provider's current client secret. Equal values produce zero writes.
func (b *CredentialBridge) SyncOIDCSecret(ctx context.Context, realm, clientInternalID, authMethodID string) (SyncOutcome, error) {
	current, err := b.idp.ClientSecret(ctx, realm, clientInternalID)
	if err != nil {
		return "", err
	}
	currentHash := hashSecret(current)

	mirror, err := b.kube.GetSecret(ctx, constants.NamespaceBoundary, constants.SecretBoundaryOIDC)
	if err != nil {
		return "", err
	}
	if mirror != nil && string(mirror.Data[constants.SecretKeySHA256]) == currentHash {
		return OutcomeUnchanged, nil
	}

	var driftErr error
	if mirror != nil {
		driftErr = fmt.Errorf("auth method %s lags the identity provider: %w",
			authMethodID, platformerrors.ErrDrift)
	}

	// Broker first, mirror second: if the broker write fails the mirror
	// still names the old value and the next pass retries; the reverse
	// order could record a value the broker never received.
	if err := b.broker.UpdateAuthMethodSecret(ctx, authMethodID, current); err != nil {
		if platformerrors.IsDrift(err) {
			logging.LogAuditEvent(b.log, "CredentialSyncConflict", map[string]string{
				"destination": "session-broker",
				"auth_method": authMethodID,
				"cause":       err.Error(),
			})
			return OutcomeConflict, nil
		}
		return "", err
	}

	_, err = b.kube.UpsertSecret(ctx, constants.NamespaceBoundary, constants.SecretBoundaryOIDC,
		corev1.SecretTypeOpaque, map[string][]byte{
			constants.SecretKeyClientID:  []byte(constants.KeycloakBoundaryClient),
			constants.SecretKeyClientSec: []byte(current),
			constants.SecretKeySHA256:    []byte(currentHash),
		})
	if err != nil {
		return "", err
	}

	if driftErr != nil {
		logging.LogAuditEvent(b.log, "CredentialDriftCorrected", map[string]string{
			"source":      "identity-provider",
			"destination": "session-broker",
			"auth_method": authMethodID,
			"cause":       driftErr.Error(),
		})
	}
	return OutcomeUpdated, nil
}

func hashSecret(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
