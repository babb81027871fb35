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

// Package keycloak implements a typed admin client for the identity
// provider: realm and client provisioning, protocol mappers, and client
// secret handling.
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
)

// Config carries connection and admin credentials for the identity
// provider.
type Config struct {
	BaseURL       string
	AdminUser     string
	AdminPassword string
	HTTPClient    *http.Client
}

// Client is the admin API client. A short-lived admin token is fetched
// lazily and refreshed before expiry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logr.Logger

	adminUser     string
	adminPassword string

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient builds a Client. The HTTP client should carry the platform CA
// when the endpoint serves internal TLS.
func NewClient(cfg Config, log logr.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("identity provider base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    httpClient,
		limiter:       rate.NewLimiter(rate.Limit(10), 20),
		log:           log,
		adminUser:     cfg.AdminUser,
		adminPassword: cfg.AdminPassword,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// adminToken returns a cached admin access token, fetching a fresh one when
// the cache is empty or within 10 seconds of expiry.
func (c *Client) adminToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" && time.Until(c.tokenExpiry) > 10*time.Second {
		return c.token, nil
	}

	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {constants.KeycloakAdminClientID},
		"username":   {c.adminUser},
		"password":   {c.adminPassword},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+constants.KeycloakPathToken, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, body, err := c.doAndReadAll(req, "admin token grant")
	if err != nil {
		return "", err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return "", fmt.Errorf("admin token grant: %w", err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", platformerrors.Rejectedf("admin token grant: malformed response: %v", err)
	}
	if tok.AccessToken == "" {
		return "", platformerrors.Rejectedf("admin token grant: empty access token")
	}

	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.token, nil
}

// WellKnownIssuer returns the issuer URL for a realm, used when wiring the
// session broker OIDC auth method.
func (c *Client) WellKnownIssuer(realm string) string {
	return c.baseURL + "/realms/" + realm
}
