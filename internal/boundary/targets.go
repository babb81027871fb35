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

// Target is the subset of the target resource the orchestrator manages.
type Target struct {
	ID         string `json:"id,omitempty"`
	ScopeID    string `json:"scope_id,omitempty"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Address    string `json:"address,omitempty"`
	Attributes struct {
		DefaultPort int `json:"default_port,omitempty"`
	} `json:"attributes"`
}

// EnsureTarget creates an SSH/TCP target in the project scope if absent,
// returning its ID.
func (c *Client) EnsureTarget(ctx context.Context, scopeID string, target Target) (string, error) {
	path := constants.BoundaryPathTargets + "?scope_id=" + url.QueryEscape(scopeID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	resp, body, err := c.doAndReadAll(req, "list targets")
	if err != nil {
		return "", err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return "", fmt.Errorf("list targets: %w", err)
	}

	var list struct {
		Items []Target `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return "", platformerrors.Rejectedf("list targets: malformed response: %v", err)
	}
	for _, existing := range list.Items {
		if existing.Name == target.Name {
			return existing.ID, nil
		}
	}

	target.ScopeID = scopeID
	req, err = c.newRequest(ctx, http.MethodPost, constants.BoundaryPathTargets, target)
	if err != nil {
		return "", err
	}
	resp, body, err = c.doAndReadAll(req, "create target")
	if err != nil {
		return "", err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return "", fmt.Errorf("create target %s: %w", target.Name, err)
	}

	var created Target
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		return "", platformerrors.Rejectedf("create target %s: malformed response", target.Name)
	}

	logging.LogAuditEvent(c.log, "TargetCreated", map[string]string{
		"target": target.Name,
		"scope":  scopeID,
	})
	return created.ID, nil
}
