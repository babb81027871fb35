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

package stages

import (
	"context"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
	"github.com/dc-tec/platform-bootstrap/internal/retry"
	"github.com/dc-tec/platform-bootstrap/internal/storage"
)

// ensureRecordingsBucket creates the session recording bucket. Bucket
// creation races the MinIO process finishing its startup sequence even
// after the listener accepts connections, so the ensure is retried.
func (p *Platform) ensureRecordingsBucket(ctx context.Context, creds map[string][]byte) error {
	store, err := storage.Open(ctx, storage.ClientConfig{
		Endpoint:        p.cfg.MinioEndpoint,
		AccessKeyID:     string(creds[constants.SecretKeyAccessKey]),
		SecretAccessKey: string(creds[constants.SecretKeySecretKey]),
		CACert:          p.ca(),
	}, constants.BoundaryRecordsBucket)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	policy := retry.Policy{
		MaxAttempts:    constants.RetryDefaultCap,
		BaseDelay:      constants.RetryBaseDelay,
		MaxDelay:       constants.RetryMaxDelay,
		Shape:          retry.Exponential,
		OverallTimeout: constants.RetryOverallTimeout,
	}
	_, err = p.retry.Execute(ctx, "ensure recordings bucket", policy, func(ctx context.Context) error {
		return store.EnsureBucket(ctx)
	})
	return err
}
