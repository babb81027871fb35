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

// Package boundary implements a typed client for the session broker:
// scopes, OIDC auth methods, managed groups, roles, and SSH targets.
package boundary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
)

// Config carries connection settings for the session broker controller API.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Client is the controller API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logr.Logger
}

// NewClient builds a Client. Token may be empty for the health endpoint and
// initial authentication.
func NewClient(cfg Config, log logr.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("session broker base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		log:        log,
	}, nil
}

// SetToken swaps the auth token after authentication.
func (c *Client) SetToken(token string) { c.token = token }

// Health probes the controller health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, constants.BoundaryPathHealth, nil)
	if err != nil {
		return err
	}
	resp, body, err := c.doAndReadAll(req, "health")
	if err != nil {
		return err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}

// Authenticate logs in against a password auth method and installs the
// resulting token on the client.
func (c *Client) Authenticate(ctx context.Context, authMethodID, loginName, password string) error {
	payload := map[string]any{
		"attributes": map[string]any{
			"login_name": loginName,
			"password":   password,
		},
	}
	req, err := c.newRequest(ctx, http.MethodPost,
		fmt.Sprintf(constants.BoundaryPathAuthMethodFmt, authMethodID)+":authenticate", payload)
	if err != nil {
		return err
	}
	resp, body, err := c.doAndReadAll(req, "authenticate")
	if err != nil {
		return err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	var parsed struct {
		Attributes struct {
			Token string `json:"token"`
		} `json:"attributes"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return platformerrors.Rejectedf("authenticate: malformed response: %v", err)
	}
	if parsed.Attributes.Token == "" {
		return platformerrors.Rejectedf("authenticate: empty token")
	}
	c.token = parsed.Attributes.Token
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) doAndReadAll(req *http.Request, op string) (*http.Response, []byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, platformerrors.WrapUnreachable(fmt.Errorf("%s: %w", op, err))
	}
	defer drainAndClose(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, platformerrors.WrapUnreachable(fmt.Errorf("%s: failed to read response body: %w", op, err))
	}
	return resp, body, nil
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
