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

package keycloak

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

// ClientRepresentation is the subset of the OIDC client resource the
// orchestrator manages.
type ClientRepresentation struct {
	ID                        string   `json:"id,omitempty"`
	ClientID                  string   `json:"clientId"`
	Enabled                   bool     `json:"enabled"`
	Protocol                  string   `json:"protocol,omitempty"`
	PublicClient              bool     `json:"publicClient"`
	ServiceAccountsEnabled    bool     `json:"serviceAccountsEnabled,omitempty"`
	StandardFlowEnabled       bool     `json:"standardFlowEnabled"`
	DirectAccessGrantsEnabled bool     `json:"directAccessGrantsEnabled,omitempty"`
	RedirectURIs              []string `json:"redirectUris,omitempty"`
}

// ProtocolMapper is a claim mapper attached to an OIDC client.
type ProtocolMapper struct {
	ID             string            `json:"id,omitempty"`
	Name           string            `json:"name"`
	Protocol       string            `json:"protocol"`
	ProtocolMapper string            `json:"protocolMapper"`
	Config         map[string]string `json:"config"`
}

// LookupClient finds a client by its clientId; returns (nil, nil) when it
// does not exist.
func (c *Client) LookupClient(ctx context.Context, realm, clientID string) (*ClientRepresentation, error) {
	path := fmt.Sprintf(constants.KeycloakPathClientsFmt, realm) + "?clientId=" + url.QueryEscape(clientID)
	req, err := c.newAdminRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, body, err := c.doAndReadAll(req, "lookup client")
	if err != nil {
		return nil, err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return nil, fmt.Errorf("lookup client %s: %w", clientID, err)
	}

	var clients []ClientRepresentation
	if err := json.Unmarshal(body, &clients); err != nil {
		return nil, platformerrors.Rejectedf("lookup client %s: malformed response: %v", clientID, err)
	}
	for i := range clients {
		if clients[i].ClientID == clientID {
			return &clients[i], nil
		}
	}
	return nil, nil
}

// EnsureClient creates the client if it is absent and returns its internal
// ID either way.
func (c *Client) EnsureClient(ctx context.Context, realm string, client ClientRepresentation) (string, error) {
	existing, err := c.LookupClient(ctx, realm, client.ClientID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}

	req, err := c.newAdminRequest(ctx, http.MethodPost,
		fmt.Sprintf(constants.KeycloakPathClientsFmt, realm), client)
	if err != nil {
		return "", err
	}
	resp, body, err := c.doAndReadAll(req, "create client")
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusConflict {
		if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
			return "", fmt.Errorf("create client %s: %w", client.ClientID, err)
		}
	}

	created, err := c.LookupClient(ctx, realm, client.ClientID)
	if err != nil {
		return "", err
	}
	if created == nil {
		return "", platformerrors.Rejectedf("client %s missing after create", client.ClientID)
	}

	logging.LogAuditEvent(c.log, "OIDCClientCreated", map[string]string{
		"realm":  realm,
		"client": client.ClientID,
	})
	return created.ID, nil
}

type clientSecretResponse struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ClientSecret reads the current confidential client secret.
func (c *Client) ClientSecret(ctx context.Context, realm, internalID string) (string, error) {
	req, err := c.newAdminRequest(ctx, http.MethodGet,
		fmt.Sprintf(constants.KeycloakPathSecretFmt, realm, internalID), nil)
	if err != nil {
		return "", err
	}
	resp, body, err := c.doAndReadAll(req, "read client secret")
	if err != nil {
		return "", err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return "", fmt.Errorf("read client secret: %w", err)
	}

	var secret clientSecretResponse
	if err := json.Unmarshal(body, &secret); err != nil {
		return "", platformerrors.Rejectedf("read client secret: malformed response: %v", err)
	}
	if secret.Value == "" {
		return "", platformerrors.Rejectedf("client secret is empty")
	}
	return secret.Value, nil
}

// RotateClientSecret regenerates the client secret and returns the new
// value.
func (c *Client) RotateClientSecret(ctx context.Context, realm, internalID string) (string, error) {
	req, err := c.newAdminRequest(ctx, http.MethodPost,
		fmt.Sprintf(constants.KeycloakPathSecretFmt, realm, internalID), nil)
	if err != nil {
		return "", err
	}
	resp, body, err := c.doAndReadAll(req, "rotate client secret")
	if err != nil {
		return "", err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return "", fmt.Errorf("rotate client secret: %w", err)
	}

	var secret clientSecretResponse
	if err := json.Unmarshal(body, &secret); err != nil {
		return "", platformerrors.Rejectedf("rotate client secret: malformed response: %v", err)
	}

	logging.LogAuditEvent(c.log, "ClientSecretRotated", map[string]string{"realm": realm})
	return secret.Value, nil
}

// EnsureProtocolMapper attaches a claim mapper to the client if one with the
// same name is not already attached.
func (c *Client) EnsureProtocolMapper(ctx context.Context, realm, internalID string, mapper ProtocolMapper) error {
	path := fmt.Sprintf(constants.KeycloakPathMappersFmt, realm, internalID)

	req, err := c.newAdminRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, body, err := c.doAndReadAll(req, "list protocol mappers")
	if err != nil {
		return err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return fmt.Errorf("list protocol mappers: %w", err)
	}

	var existing []ProtocolMapper
	if err := json.Unmarshal(body, &existing); err != nil {
		return platformerrors.Rejectedf("list protocol mappers: malformed response: %v", err)
	}
	for _, m := range existing {
		if m.Name == mapper.Name {
			return nil
		}
	}

	req, err = c.newAdminRequest(ctx, http.MethodPost, path, mapper)
	if err != nil {
		return err
	}
	resp, body, err = c.doAndReadAll(req, "create protocol mapper")
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return fmt.Errorf("create protocol mapper %s: %w", mapper.Name, err)
	}
	return nil
}
