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

package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
	"github.com/dc-tec/platform-bootstrap/internal/logging"
)

// OIDCAttributes is the attribute block of an OIDC auth method.
type OIDCAttributes struct {
	Issuer        string   `json:"issuer"`
	ClientID      string   `json:"client_id"`
	ClientSecret  string   `json:"client_secret,omitempty"`
	SigningAlgs   []string `json:"signing_algorithms,omitempty"`
	APIURLPrefix  string   `json:"api_url_prefix,omitempty"`
	IdpCACerts    []string `json:"idp_ca_certs,omitempty"`
	ClaimsScopes  []string `json:"claims_scopes,omitempty"`
	State         string   `json:"state,omitempty"`
	ClientSecHmac string   `json:"client_secret_hmac,omitempty"`
}

// AuthMethod is the subset of the auth method resource the orchestrator
// manages.
type AuthMethod struct {
	ID         string         `json:"id,omitempty"`
	ScopeID    string         `json:"scope_id,omitempty"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Version    int            `json:"version,omitempty"`
	Attributes OIDCAttributes `json:"attributes"`
}

type authMethodListResponse struct {
	Items []AuthMethod `json:"items"`
}

// LookupAuthMethod finds an auth method in scope by name; returns
// (nil, nil) when absent.
func (c *Client) LookupAuthMethod(ctx context.Context, scopeID, name string) (*AuthMethod, error) {
	path := constants.BoundaryPathAuthMethods + "?scope_id=" + url.QueryEscape(scopeID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, body, err := c.doAndReadAll(req, "list auth methods")
	if err != nil {
		return nil, err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return nil, fmt.Errorf("list auth methods in %s: %w", scopeID, err)
	}

	var list authMethodListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, platformerrors.Rejectedf("list auth methods: malformed response: %v", err)
	}
	for i := range list.Items {
		if list.Items[i].Name == name {
			return &list.Items[i], nil
		}
	}
	return nil, nil
}

// EnsureOIDCAuthMethod creates or updates the OIDC auth method trusting the
// identity provider. The broker stores only an HMAC of the client secret,
// so secret drift is detected by the bridge against its own mirror, not
// here; issuer and client ID drift are corrected in place.
func (c *Client) EnsureOIDCAuthMethod(ctx context.Context, scopeID, name string, attrs OIDCAttributes) (string, error) {
	existing, err := c.LookupAuthMethod(ctx, scopeID, name)
	if err != nil {
		return "", err
	}

	if existing == nil {
		req, err := c.newRequest(ctx, http.MethodPost, constants.BoundaryPathAuthMethods, AuthMethod{
			ScopeID:    scopeID,
			Name:       name,
			Type:       "oidc",
			Attributes: attrs,
		})
		if err != nil {
			return "", err
		}
		resp, body, err := c.doAndReadAll(req, "create auth method")
		if err != nil {
			return "", err
		}
		if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
			return "", fmt.Errorf("create auth method %s: %w", name, err)
		}

		var created AuthMethod
		if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
			return "", platformerrors.Rejectedf("create auth method %s: malformed response", name)
		}
		logging.LogAuditEvent(c.log, "OIDCAuthMethodCreated", map[string]string{
			"auth_method": name,
			"scope":       scopeID,
		})
		return created.ID, nil
	}

	if existing.Attributes.Issuer == attrs.Issuer && existing.Attributes.ClientID == attrs.ClientID {
		return existing.ID, nil
	}

	update := map[string]any{
		"version":    existing.Version,
		"attributes": attrs,
	}
	req, err := c.newRequest(ctx, http.MethodPatch,
		fmt.Sprintf(constants.BoundaryPathAuthMethodFmt, existing.ID), update)
	if err != nil {
		return "", err
	}
	resp, body, err := c.doAndReadAll(req, "update auth method")
	if err != nil {
		return "", err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return "", fmt.Errorf("update auth method %s: %w", name, err)
	}

	logging.LogAuditEvent(c.log, "OIDCAuthMethodUpdated", map[string]string{"auth_method": name})
	return existing.ID, nil
}

// UpdateAuthMethodSecret writes a fresh client secret into the auth method.
// Called by the bridge when its mirror says the identity provider rotated.
func (c *Client) UpdateAuthMethodSecret(ctx context.Context, id, clientSecret string) error {
	existing, err := c.getAuthMethod(ctx, id)
	if err != nil {
		return err
	}

	update := map[string]any{
		"version": existing.Version,
		"attributes": map[string]any{
			"issuer":        existing.Attributes.Issuer,
			"client_id":     existing.Attributes.ClientID,
			"client_secret": clientSecret,
		},
	}
	req, err := c.newRequest(ctx, http.MethodPatch,
		fmt.Sprintf(constants.BoundaryPathAuthMethodFmt, id), update)
	if err != nil {
		return err
	}
	resp, body, err := c.doAndReadAll(req, "update auth method secret")
	if err != nil {
		return err
	}
	// 409 means the auth method moved between our read and this write; the
	// caller re-reads and retries on its next pass rather than failing.
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("update auth method secret: version %d superseded: %w",
			existing.Version, platformerrors.ErrDrift)
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return fmt.Errorf("update auth method secret: %w", err)
	}
	return nil
}

// ActivateAuthMethod transitions the auth method to active-public so logins
// are accepted. Already active is success.
func (c *Client) ActivateAuthMethod(ctx context.Context, id string) error {
	existing, err := c.getAuthMethod(ctx, id)
	if err != nil {
		return err
	}
	if existing.Attributes.State == "active-public" {
		return nil
	}

	payload := map[string]any{
		"version": existing.Version,
		"attributes": map[string]any{
			"state": "active-public",
		},
	}
	req, err := c.newRequest(ctx, http.MethodPost,
		fmt.Sprintf(constants.BoundaryPathAuthChangeState, id), payload)
	if err != nil {
		return err
	}
	resp, body, err := c.doAndReadAll(req, "activate auth method")
	if err != nil {
		return err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return fmt.Errorf("activate auth method %s: %w", id, err)
	}
	return nil
}

func (c *Client) getAuthMethod(ctx context.Context, id string) (*AuthMethod, error) {
	req, err := c.newRequest(ctx, http.MethodGet,
		fmt.Sprintf(constants.BoundaryPathAuthMethodFmt, id), nil)
	if err != nil {
		return nil, err
	}
	resp, body, err := c.doAndReadAll(req, "get auth method")
	if err != nil {
		return nil, err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return nil, fmt.Errorf("get auth method %s: %w", id, err)
	}

	var method AuthMethod
	if err := json.Unmarshal(body, &method); err != nil {
		return nil, platformerrors.Rejectedf("get auth method %s: malformed response: %v", id, err)
	}
	return &method, nil
}
