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

package vault

import (
	"context"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"
)

// EnsureKVv2 mounts a KV version 2 secrets engine at path if one is not
// already there. An existing KV mount at the path satisfies the call.
func (c *Client) EnsureKVv2(ctx context.Context, path string) error {
	mounts, err := c.api.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return classify(err)
	}
	if _, ok := mounts[path+"/"]; ok {
		return nil
	}

	err = c.api.Sys().MountWithContext(ctx, path, &vaultapi.MountInput{
		Type:        "kv",
		Description: "platform credential store",
		Options:     map[string]string{"version": "2"},
	})
	if err != nil && !isPathInUse(err) {
		return classify(err)
	}
	return nil
}

// EnsurePKI mounts a PKI secrets engine at path with the given max lease
// TTL.
func (c *Client) EnsurePKI(ctx context.Context, path, maxTTL string) error {
	mounts, err := c.api.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return classify(err)
	}
	if _, ok := mounts[path+"/"]; ok {
		return nil
	}

	err = c.api.Sys().MountWithContext(ctx, path, &vaultapi.MountInput{
		Type:        "pki",
		Description: "platform internal PKI",
		Config: vaultapi.MountConfigInput{
			MaxLeaseTTL: maxTTL,
		},
	})
	if err != nil && !isPathInUse(err) {
		return classify(err)
	}
	return nil
}

// EnsureKubernetesAuth enables the Kubernetes auth method at path and points
// it at the cluster API server. Re-running updates the config in place.
func (c *Client) EnsureKubernetesAuth(ctx context.Context, path, host string, caCert []byte) error {
	err := c.api.Sys().EnableAuthWithOptionsWithContext(ctx, path, &vaultapi.EnableAuthOptions{
		Type:        "kubernetes",
		Description: "cluster workload auth",
	})
	if err != nil && !isPathInUse(err) {
		return classify(err)
	}

	_, err = c.api.Logical().WriteWithContext(ctx, "auth/"+path+"/config", map[string]any{
		"kubernetes_host":    host,
		"kubernetes_ca_cert": string(caCert),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// WriteAuthRole writes a role under the Kubernetes auth mount binding
// service accounts to policies.
func (c *Client) WriteAuthRole(ctx context.Context, mount, role string, data map[string]any) error {
	_, err := c.api.Logical().WriteWithContext(ctx, "auth/"+mount+"/role/"+role, data)
	if err != nil {
		return classify(err)
	}
	return nil
}

// WritePolicy installs (or replaces) a named ACL policy.
func (c *Client) WritePolicy(ctx context.Context, name, rules string) error {
	if err := c.api.Sys().PutPolicyWithContext(ctx, name, rules); err != nil {
		return classify(err)
	}
	return nil
}

// isPathInUse matches the engine's "already mounted" rejection so ensure
// operations stay idempotent across runs.
func isPathInUse(err error) bool {
	return err != nil && strings.Contains(err.Error(), "path is already in use")
}
