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

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
)

// Apply upserts obj using Server-Side Apply. Applying the same desired
// state twice yields the same observable outcome as applying it once, which
// is the contract every mutating primitive in the orchestrator must honor.
func (c *Client) Apply(ctx context.Context, obj client.Object) error {
	gvk, err := c.ctrl.GroupVersionKindFor(obj)
	if err != nil {
		return fmt.Errorf("failed to resolve GVK for %T: %w", obj, err)
	}
	obj.GetObjectKind().SetGroupVersionKind(gvk)

	if err := c.ctrl.Patch(ctx, obj, client.Apply,
		client.FieldOwner(constants.FieldOwner),
		client.ForceOwnership,
	); err != nil {
		return fmt.Errorf("failed to apply %s %s/%s: %w", gvk.Kind, obj.GetNamespace(), obj.GetName(), err)
	}
	return nil
}

// ApplyUnstructured upserts a custom resource (e.g. a secret-sync operator
// CR) with the same apply semantics as Apply.
func (c *Client) ApplyUnstructured(ctx context.Context, obj *unstructured.Unstructured) error {
	if err := c.ctrl.Patch(ctx, obj, client.Apply,
		client.FieldOwner(constants.FieldOwner),
		client.ForceOwnership,
	); err != nil {
		return fmt.Errorf("failed to apply %s %s/%s: %w",
			obj.GetKind(), obj.GetNamespace(), obj.GetName(), err)
	}
	return nil
}

// GetUnstructured reads a custom resource into obj; returns (false, nil)
// when it does not exist.
func (c *Client) GetUnstructured(ctx context.Context, obj *unstructured.Unstructured, namespace, name string) (bool, error) {
	err := c.ctrl.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, obj)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s %s/%s: %w", obj.GetKind(), namespace, name, err)
	}
	return true, nil
}

// CRDEstablished reports whether the named CustomResourceDefinition exists
// and has reached the Established condition.
func (c *Client) CRDEstablished(ctx context.Context, name string) (bool, error) {
	var crd apiextensionsv1.CustomResourceDefinition
	if err := c.ctrl.Get(ctx, types.NamespacedName{Name: name}, &crd); err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get CRD %s: %w", name, err)
	}

	for _, cond := range crd.Status.Conditions {
		if cond.Type == apiextensionsv1.Established {
			return cond.Status == apiextensionsv1.ConditionTrue, nil
		}
	}
	return false, nil
}
