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

// ManagedGroup maps an identity provider group claim onto broker
// membership.
type ManagedGroup struct {
	ID           string `json:"id,omitempty"`
	AuthMethodID string `json:"auth_method_id,omitempty"`
	Name         string `json:"name"`
	Attributes   struct {
		Filter string `json:"filter"`
	} `json:"attributes"`
}

// EnsureManagedGroup creates a managed group under the auth method matching
// the given claim filter, returning its ID.
func (c *Client) EnsureManagedGroup(ctx context.Context, authMethodID, name, filter string) (string, error) {
	path := constants.BoundaryPathManagedGroups + "?auth_method_id=" + url.QueryEscape(authMethodID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	resp, body, err := c.doAndReadAll(req, "list managed groups")
	if err != nil {
		return "", err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return "", fmt.Errorf("list managed groups: %w", err)
	}

	var list struct {
		Items []ManagedGroup `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return "", platformerrors.Rejectedf("list managed groups: malformed response: %v", err)
	}
	for _, group := range list.Items {
		if group.Name == name {
			return group.ID, nil
		}
	}

	group := ManagedGroup{AuthMethodID: authMethodID, Name: name}
	group.Attributes.Filter = filter
	req, err = c.newRequest(ctx, http.MethodPost, constants.BoundaryPathManagedGroups, group)
	if err != nil {
		return "", err
	}
	resp, body, err = c.doAndReadAll(req, "create managed group")
	if err != nil {
		return "", err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return "", fmt.Errorf("create managed group %s: %w", name, err)
	}

	var created ManagedGroup
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		return "", platformerrors.Rejectedf("create managed group %s: malformed response", name)
	}
	return created.ID, nil
}

// Role is the subset of the role resource the orchestrator manages.
type Role struct {
	ID           string   `json:"id,omitempty"`
	ScopeID      string   `json:"scope_id,omitempty"`
	Name         string   `json:"name"`
	GrantScopeID string   `json:"grant_scope_id,omitempty"`
	GrantStrings []string `json:"grant_strings,omitempty"`
	Version      int      `json:"version,omitempty"`
}

// EnsureRole creates a role in scope and attaches the grants. Existing
// roles get any missing grants added.
func (c *Client) EnsureRole(ctx context.Context, scopeID, name string, grants []string) (string, error) {
	path := constants.BoundaryPathRoles + "?scope_id=" + url.QueryEscape(scopeID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	resp, body, err := c.doAndReadAll(req, "list roles")
	if err != nil {
		return "", err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return "", fmt.Errorf("list roles: %w", err)
	}

	var list struct {
		Items []Role `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return "", platformerrors.Rejectedf("list roles: malformed response: %v", err)
	}

	var role *Role
	for i := range list.Items {
		if list.Items[i].Name == name {
			role = &list.Items[i]
			break
		}
	}

	if role == nil {
		req, err = c.newRequest(ctx, http.MethodPost, constants.BoundaryPathRoles, Role{
			ScopeID: scopeID,
			Name:    name,
		})
		if err != nil {
			return "", err
		}
		resp, body, err = c.doAndReadAll(req, "create role")
		if err != nil {
			return "", err
		}
		if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
			return "", fmt.Errorf("create role %s: %w", name, err)
		}

		var created Role
		if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
			return "", platformerrors.Rejectedf("create role %s: malformed response", name)
		}
		role = &created
		logging.LogAuditEvent(c.log, "RoleCreated", map[string]string{"role": name, "scope": scopeID})
	}

	missing := missingGrants(role.GrantStrings, grants)
	if len(missing) == 0 {
		return role.ID, nil
	}

	payload := map[string]any{
		"version":       role.Version,
		"grant_strings": missing,
	}
	req, err = c.newRequest(ctx, http.MethodPost,
		fmt.Sprintf(constants.BoundaryPathRoleGrantsFmt, role.ID), payload)
	if err != nil {
		return "", err
	}
	resp, body, err = c.doAndReadAll(req, "add role grants")
	if err != nil {
		return "", err
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return "", fmt.Errorf("add grants to role %s: %w", name, err)
	}
	return role.ID, nil
}

func missingGrants(have, want []string) []string {
	existing := make(map[string]bool, len(have))
	for _, g := range have {
		existing[g] = true
	}
	var out []string
	for _, g := range want {
		if !existing[g] {
			out = append(out, g)
		}
	}
	return out
}
