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

// Scope is the subset of the scope resource the orchestrator manages.
type Scope struct {
	ID          string `json:"id,omitempty"`
	ScopeID     string `json:"scope_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type scopeListResponse struct {
	Items []Scope `json:"items"`
}

// LookupScope finds a child scope of parent by name; returns (nil, nil)
// when it does not exist.
func (c *Client) LookupScope(ctx context.Context, parentID, name string) (*Scope, error) {
	path := constants.BoundaryPathScopes + "?scope_id=" + url.QueryEscape(parentID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, body, err := c.doAndReadAll(req, "list scopes")
	if err != nil {
		return nil, err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return nil, fmt.Errorf("list scopes under %s: %w", parentID, err)
	}

	var list scopeListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, platformerrors.Rejectedf("list scopes: malformed response: %v", err)
	}
	for i := range list.Items {
		if list.Items[i].Name == name {
			return &list.Items[i], nil
		}
	}
	return nil, nil
}

// EnsureScope creates a child scope of parent if one with the name is
// absent, returning its ID either way.
func (c *Client) EnsureScope(ctx context.Context, parentID, name, description string) (string, error) {
	existing, err := c.LookupScope(ctx, parentID, name)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}

	req, err := c.newRequest(ctx, http.MethodPost, constants.BoundaryPathScopes, Scope{
		ScopeID:     parentID,
		Name:        name,
		Description: description,
	})
	if err != nil {
		return "", err
	}
	resp, body, err := c.doAndReadAll(req, "create scope")
	if err != nil {
		return "", err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return "", fmt.Errorf("create scope %s: %w", name, err)
	}

	var created Scope
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		return "", platformerrors.Rejectedf("create scope %s: malformed response", name)
	}

	logging.LogAuditEvent(c.log, "ScopeCreated", map[string]string{
		"scope":  name,
		"parent": parentID,
	})
	return created.ID, nil
}
