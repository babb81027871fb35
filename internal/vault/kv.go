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

	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
)

// WriteKVSecret writes data to a KV v2 path under mount.
func (c *Client) WriteKVSecret(ctx context.Context, mount, path string, data map[string]any) error {
	_, err := c.api.Logical().WriteWithContext(ctx, mount+"/data/"+path, map[string]any{
		"data": data,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// ReadKVSecret reads a KV v2 path under mount; returns (nil, nil) when the
// path does not exist.
func (c *Client) ReadKVSecret(ctx context.Context, mount, path string) (map[string]any, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, mount+"/data/"+path)
	if err != nil {
		return nil, classify(err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	inner, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, platformerrors.Rejectedf("unexpected KV response shape at %s/%s", mount, path)
	}
	return inner, nil
}
