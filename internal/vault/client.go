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

// Package vault wraps the secret engine API surface the orchestrator
// drives: health, initialization, unsealing, mount and auth management, and
// KV reads/writes.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	vaultapi "github.com/hashicorp/vault/api"

	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
)

// Config carries what the orchestrator needs to talk to a secret engine
// endpoint.
type Config struct {
	// Addr is the full base URL, e.g. https://vault.hashicorp.lab:8200.
	Addr string
	// CACert pins the TLS trust anchor. Empty means system roots.
	CACert []byte
	// Token authenticates requests; empty for pre-init calls.
	Token string
	// Timeout bounds each individual HTTP request.
	Timeout time.Duration
}

// Client is a thin wrapper over the upstream API client that maps transport
// and status errors onto the orchestrator failure taxonomy.
type Client struct {
	api *vaultapi.Client
	log logr.Logger
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config, log logr.Logger) (*Client, error) {
	apiConfig := vaultapi.DefaultConfig()
	apiConfig.Address = cfg.Addr
	if cfg.Timeout > 0 {
		apiConfig.Timeout = cfg.Timeout
	}
	if len(cfg.CACert) > 0 {
		if err := apiConfig.ConfigureTLS(&vaultapi.TLSConfig{CACertBytes: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	apiClient, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret engine client: %w", err)
	}
	if cfg.Token != "" {
		apiClient.SetToken(cfg.Token)
	}

	return &Client{api: apiClient, log: log}, nil
}

// SetToken swaps the auth token, typically after initialization produced the
// root token.
func (c *Client) SetToken(token string) {
	c.api.SetToken(token)
}

// HealthStatus summarizes the engine health endpoint.
type HealthStatus struct {
	Initialized bool
	Sealed      bool
	Standby     bool
	Version     string
}

// Health reads the health endpoint. The endpoint answers regardless of seal
// state, so this is usable as a readiness signal during bring-up.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	resp, err := c.api.Sys().HealthWithContext(ctx)
	if err != nil {
		return HealthStatus{}, classify(err)
	}
	return HealthStatus{
		Initialized: resp.Initialized,
		Sealed:      resp.Sealed,
		Standby:     resp.Standby,
		Version:     resp.Version,
	}, nil
}

// Initialized reports whether the engine has ever been initialized.
func (c *Client) Initialized(ctx context.Context) (bool, error) {
	status, err := c.Health(ctx)
	if err != nil {
		return false, err
	}
	return status.Initialized, nil
}

// classify maps upstream client errors onto the shared taxonomy. API-level
// errors carry an HTTP status; anything else is a transport failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) {
		return platformerrors.ClassifyHTTPStatus(respErr.StatusCode, strings.Join(respErr.Errors, "; "))
	}
	return platformerrors.WrapUnreachable(err)
}
