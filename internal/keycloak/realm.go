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
	"fmt"
	"net/http"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
	"github.com/dc-tec/platform-bootstrap/internal/logging"
)

// RealmRepresentation is the subset of the realm resource the orchestrator
// manages.
type RealmRepresentation struct {
	Realm       string `json:"realm"`
	Enabled     bool   `json:"enabled"`
	DisplayName string `json:"displayName,omitempty"`
}

// EnsureRealm creates the realm if it is absent. An existing realm is left
// untouched.
func (c *Client) EnsureRealm(ctx context.Context, realm RealmRepresentation) error {
	req, err := c.newAdminRequest(ctx, http.MethodGet,
		fmt.Sprintf(constants.KeycloakPathRealmFmt, realm.Realm), nil)
	if err != nil {
		return err
	}
	resp, body, err := c.doAndReadAll(req, "get realm")
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode != http.StatusNotFound:
		return fmt.Errorf("get realm %s: %w", realm.Realm,
			platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)))
	}

	req, err = c.newAdminRequest(ctx, http.MethodPost, constants.KeycloakPathRealms, realm)
	if err != nil {
		return err
	}
	resp, body, err = c.doAndReadAll(req, "create realm")
	if err != nil {
		return err
	}
	// 409 means another actor created it between our check and write.
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if err := platformerrors.ClassifyHTTPStatus(resp.StatusCode, string(body)); err != nil {
		return fmt.Errorf("create realm %s: %w", realm.Realm, err)
	}

	logging.LogAuditEvent(c.log, "RealmCreated", map[string]string{"realm": realm.Realm})
	return nil
}
