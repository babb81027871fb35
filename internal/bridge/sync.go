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

package bridge

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
	"github.com/dc-tec/platform-bootstrap/internal/kube"
	"github.com/dc-tec/platform-bootstrap/internal/retry"
)

// SyncManager drives the secret-sync operator: it owns the connection and
// auth CRs plus the per-secret sync CRs, and waits for the operator to
// converge each destination.
type SyncManager struct {
	kube  *kube.Client
	retry *retry.Executor
	log   logr.Logger
}

// NewSyncManager builds a SyncManager.
func NewSyncManager(kubeClient *kube.Client, executor *retry.Executor, log logr.Logger) *SyncManager {
	return &SyncManager{kube: kubeClient, retry: executor, log: log}
}

// OperatorReady reports whether all sync-operator CRDs are established.
func (s *SyncManager) OperatorReady(ctx context.Context) (bool, error) {
	for _, name := range []string{
		constants.SyncCRDConnections,
		constants.SyncCRDAuths,
		constants.SyncCRDStaticSecrets,
		constants.SyncCRDDynamicSecrets,
	} {
		established, err := s.kube.CRDEstablished(ctx, name)
		if err != nil {
			return false, err
		}
		if !established {
			return false, nil
		}
	}
	return true, nil
}

// EnsureConnection applies the VaultConnection CR pointing the operator at
// the secret engine.
func (s *SyncManager) EnsureConnection(ctx context.Context, namespace, address string, caCert []byte) error {
	obj := newSyncObject(constants.SyncKindConnection, namespace, constants.SyncConnectionName)
	spec := map[string]any{
		"address":    address,
		"skipVerify": false,
	}
	if len(caCert) > 0 {
		spec["caCertSecretRef"] = constants.SecretPlatformCA
	}
	obj.Object["spec"] = spec
	return s.kube.ApplyUnstructured(ctx, obj)
}

// EnsureAuth applies the VaultAuth CR binding the operator's service
// account to the Kubernetes auth role.
func (s *SyncManager) EnsureAuth(ctx context.Context, namespace, mount, role, serviceAccount string) error {
	obj := newSyncObject(constants.SyncKindAuth, namespace, constants.SyncAuthName)
	obj.Object["spec"] = map[string]any{
		"vaultConnectionRef": constants.SyncConnectionName,
		"method":             "kubernetes",
		"mount":              mount,
		"kubernetes": map[string]any{
			"role":           role,
			"serviceAccount": serviceAccount,
		},
	}
	return s.kube.ApplyUnstructured(ctx, obj)
}

// StaticSecretSpec names a KV path and its cluster destination.
type StaticSecretSpec struct {
	Namespace       string
	Name            string
	Mount           string
	Path            string
	DestinationName string
}

// EnsureStaticSecret applies the VaultStaticSecret CR and waits until the
// operator has materialized the destination secret. The operator mirrors on
// its own poll cycle, so the wait uses a Fibonacci schedule rather than
// hammering the API server.
func (s *SyncManager) EnsureStaticSecret(ctx context.Context, spec StaticSecretSpec) error {
	obj := newSyncObject(constants.SyncKindStaticSecret, spec.Namespace, spec.Name)
	obj.Object["spec"] = map[string]any{
		"vaultAuthRef": constants.SyncAuthName,
		"mount":        spec.Mount,
		"type":         "kv-v2",
		"path":         spec.Path,
		"destination": map[string]any{
			"name":   spec.DestinationName,
			"create": true,
		},
		"refreshAfter": "30s",
	}
	if err := s.kube.ApplyUnstructured(ctx, obj); err != nil {
		return err
	}

	return s.awaitDestination(ctx, spec.Namespace, spec.DestinationName)
}

// DynamicSecretSpec names a dynamic (leased) engine path and its cluster
// destination.
type DynamicSecretSpec struct {
	Namespace       string
	Name            string
	Mount           string
	Path            string
	DestinationName string
}

// EnsureDynamicSecret applies the VaultDynamicSecret CR with lease renewal
// at the default percentage and waits for the destination.
func (s *SyncManager) EnsureDynamicSecret(ctx context.Context, spec DynamicSecretSpec) error {
	obj := newSyncObject(constants.SyncKindDynamicSecret, spec.Namespace, spec.Name)
	obj.Object["spec"] = map[string]any{
		"vaultAuthRef":     constants.SyncAuthName,
		"mount":            spec.Mount,
		"path":             spec.Path,
		"renewalPercent":   constants.SyncDefaultRenewalPct,
		"allowStaticCreds": false,
		"destination": map[string]any{
			"name":   spec.DestinationName,
			"create": true,
		},
	}
	if err := s.kube.ApplyUnstructured(ctx, obj); err != nil {
		return err
	}

	return s.awaitDestination(ctx, spec.Namespace, spec.DestinationName)
}

// awaitDestination polls until the destination secret exists and carries
// data.
func (s *SyncManager) awaitDestination(ctx context.Context, namespace, name string) error {
	policy := retry.Policy{
		MaxAttempts: constants.SyncConvergeAttempts,
		BaseDelay:   constants.SyncConvergeBaseDelay,
		Shape:       retry.Fibonacci,
	}

	_, _, err := retry.ExecuteValue(ctx, s.retry, fmt.Sprintf("sync %s/%s", namespace, name), policy,
		func(ctx context.Context) (*corev1.Secret, error) {
			secret, err := s.kube.GetSecret(ctx, namespace, name)
			if err != nil {
				return nil, err
			}
			if secret == nil {
				return nil, platformerrors.Timeoutf("destination secret %s/%s not yet materialized", namespace, name)
			}
			return secret, nil
		},
		func(secret *corev1.Secret) bool { return len(secret.Data) > 0 },
	)
	if err != nil {
		return fmt.Errorf("sync destination %s/%s did not converge: %w", namespace, name, err)
	}
	return nil
}

func newSyncObject(kind, namespace, name string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(schema.GroupVersionKind{
		Group:   constants.SyncOperatorGroup,
		Version: constants.SyncOperatorVersion,
		Kind:    kind,
	})
	obj.SetNamespace(namespace)
	obj.SetName(name)
	obj.SetLabels(map[string]string{
		constants.LabelAppManagedBy: constants.LabelValueManagedBy,
	})
	return obj
}
