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
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"

	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
	"github.com/dc-tec/platform-bootstrap/internal/logging"
)

// InitResult carries the one-time output of engine initialization. The
// unseal keys and root token in here exist nowhere else until the caller
// persists them.
type InitResult struct {
	RootToken string
	KeysB64   []string
}

// Init initializes the engine with a shares/threshold quorum. Returns
// ErrAlreadyDone when the engine reports it is already initialized, so the
// caller can distinguish "did it" from "found it done".
func (c *Client) Init(ctx context.Context, shares, threshold int) (*InitResult, error) {
	if threshold > shares || threshold < 1 {
		return nil, platformerrors.Rejectedf("invalid quorum: threshold %d of %d shares", threshold, shares)
	}

	initialized, err := c.Initialized(ctx)
	if err != nil {
		return nil, err
	}
	if initialized {
		return nil, fmt.Errorf("engine already initialized: %w", platformerrors.ErrAlreadyDone)
	}

	resp, err := c.api.Sys().InitWithContext(ctx, &vaultapi.InitRequest{
		SecretShares:    shares,
		SecretThreshold: threshold,
	})
	if err != nil {
		return nil, classify(err)
	}
	if resp.RootToken == "" || len(resp.KeysB64) != shares {
		return nil, platformerrors.Rejectedf("init response incomplete: %d keys, token present=%t",
			len(resp.KeysB64), resp.RootToken != "")
	}

	logging.LogAuditEvent(c.log, "EngineInitialized", map[string]string{
		"shares":    fmt.Sprintf("%d", shares),
		"threshold": fmt.Sprintf("%d", threshold),
	})
	return &InitResult{RootToken: resp.RootToken, KeysB64: resp.KeysB64}, nil
}

// SealState describes the unseal progress of the engine.
type SealState struct {
	Sealed    bool
	Threshold int
	Progress  int
}

// SealStatus reads the current seal state.
func (c *Client) SealStatus(ctx context.Context) (SealState, error) {
	resp, err := c.api.Sys().SealStatusWithContext(ctx)
	if err != nil {
		return SealState{}, classify(err)
	}
	return SealState{Sealed: resp.Sealed, Threshold: resp.T, Progress: resp.Progress}, nil
}

// Unseal submits key shares until the engine reports unsealed. Already
// unsealed is success without submitting anything. Fewer shares than the
// threshold demands is a rejection, not a retry candidate, because retrying
// cannot conjure the missing shares.
func (c *Client) Unseal(ctx context.Context, keys []string) error {
	state, err := c.SealStatus(ctx)
	if err != nil {
		return err
	}
	if !state.Sealed {
		return nil
	}
	if len(keys) < state.Threshold {
		return platformerrors.Rejectedf("have %d unseal keys, threshold is %d", len(keys), state.Threshold)
	}

	for i, key := range keys {
		resp, err := c.api.Sys().UnsealWithContext(ctx, key)
		if err != nil {
			return classify(err)
		}
		if !resp.Sealed {
			logging.LogAuditEvent(c.log, "EngineUnsealed", map[string]string{
				"shares_submitted": fmt.Sprintf("%d", i+1),
			})
			return nil
		}
	}
	return platformerrors.Rejectedf("engine still sealed after submitting %d keys", len(keys))
}
