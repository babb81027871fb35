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

package kube

import (
	"bytes"
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
)

// SecretOp describes what UpsertSecret actually did. The secret bridge uses
// it to distinguish a no-op sync from a corrective write.
type SecretOp string

const (
	SecretCreated   SecretOp = "Created"
	SecretUpdated   SecretOp = "Updated"
	SecretUnchanged SecretOp = "Unchanged"
)

// GetSecret reads a secret; returns (nil, nil) when it does not exist.
func (c *Client) GetSecret(ctx context.Context, namespace, name string) (*corev1.Secret, error) {
	var secret corev1.Secret
	err := c.ctrl.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, &secret)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get secret %s/%s: %w", namespace, name, err)
	}
	return &secret, nil
}

// UpsertSecret writes the desired secret only when the stored data differs.
// The compare-then-write keeps repeated bridge runs from generating watch
// events on every pass.
func (c *Client) UpsertSecret(ctx context.Context, namespace, name string, secretType corev1.SecretType, data map[string][]byte) (SecretOp, error) {
	existing, err := c.GetSecret(ctx, namespace, name)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.Type == secretType && secretDataEqual(existing.Data, data) {
		return SecretUnchanged, nil
	}

	desired := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels: map[string]string{
				constants.LabelAppManagedBy: constants.LabelValueManagedBy,
			},
		},
		Type: secretType,
		Data: data,
	}

	if existing == nil {
		if err := c.ctrl.Create(ctx, desired); err != nil {
			return "", fmt.Errorf("failed to create secret %s/%s: %w", namespace, name, err)
		}
		return SecretCreated, nil
	}

	// Secret type is immutable; replace the object when it differs.
	if existing.Type != secretType {
		if err := c.ctrl.Delete(ctx, existing); err != nil {
			return "", fmt.Errorf("failed to delete secret %s/%s for type change: %w", namespace, name, err)
		}
		if err := c.ctrl.Create(ctx, desired); err != nil {
			return "", fmt.Errorf("failed to recreate secret %s/%s: %w", namespace, name, err)
		}
		return SecretUpdated, nil
	}

	existing.Data = data
	if existing.Labels == nil {
		existing.Labels = map[string]string{}
	}
	existing.Labels[constants.LabelAppManagedBy] = constants.LabelValueManagedBy
	if err := c.ctrl.Update(ctx, existing); err != nil {
		return "", fmt.Errorf("failed to update secret %s/%s: %w", namespace, name, err)
	}
	return SecretUpdated, nil
}

// DeleteSecret removes a secret; not-found is treated as success.
func (c *Client) DeleteSecret(ctx context.Context, namespace, name string) error {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
	if err := c.ctrl.Delete(ctx, secret); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete secret %s/%s: %w", namespace, name, err)
	}
	return nil
}

func secretDataEqual(a, b map[string][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !bytes.Equal(b[k], v) {
			return false
		}
	}
	return true
}
