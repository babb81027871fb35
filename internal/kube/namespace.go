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
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
)

// EnsureNamespace creates the namespace if it is absent. An existing
// namespace, labeled or not, satisfies the call.
func (c *Client) EnsureNamespace(ctx context.Context, name string) error {
	var existing corev1.Namespace
	err := c.ctrl.Get(ctx, types.NamespacedName{Name: name}, &existing)
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to get namespace %s: %w", name, err)
	}

	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				constants.LabelAppManagedBy: constants.LabelValueManagedBy,
			},
		},
	}
	if err := c.ctrl.Create(ctx, ns); err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create namespace %s: %w", name, err)
	}
	return nil
}

// DeleteNamespace removes a namespace; not-found is treated as success so
// teardown can be re-run after a partial failure.
func (c *Client) DeleteNamespace(ctx context.Context, name string) error {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	if err := c.ctrl.Delete(ctx, ns); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete namespace %s: %w", name, err)
	}
	return nil
}

// NamespaceGone reports whether the namespace no longer exists, including
// termination having finished.
func (c *Client) NamespaceGone(ctx context.Context, name string) (bool, error) {
	var ns corev1.Namespace
	err := c.ctrl.Get(ctx, types.NamespacedName{Name: name}, &ns)
	if err == nil {
		return false, nil
	}
	if apierrors.IsNotFound(err) {
		return true, nil
	}
	return false, fmt.Errorf("failed to get namespace %s: %w", name, err)
}
