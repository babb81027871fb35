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

package stages

import (
	"context"

	"github.com/dc-tec/platform-bootstrap/internal/bridge"
	"github.com/dc-tec/platform-bootstrap/internal/constants"
	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
)

// ResyncCredentials re-runs the IdP-to-broker secret bridge against a
// deployed platform. Unlike the bring-up path it holds no run context, so
// the client and auth method are looked up by their well-known names.
func (p *Platform) ResyncCredentials(ctx context.Context) (bridge.SyncOutcome, error) {
	if err := p.ensurePlatformCA(ctx); err != nil {
		return bridge.OutcomeUnchanged, err
	}

	idp, err := p.idpClient()
	if err != nil {
		return bridge.OutcomeUnchanged, err
	}
	idpClient, err := idp.LookupClient(ctx, constants.KeycloakRealm, constants.KeycloakBoundaryClient)
	if err != nil {
		return bridge.OutcomeUnchanged, err
	}
	if idpClient == nil {
		return bridge.OutcomeUnchanged, platformerrors.Rejectedf("identity provider has no %s client in realm %s",
			constants.KeycloakBoundaryClient, constants.KeycloakRealm)
	}

	admin, err := p.kube.GetSecret(ctx, constants.NamespaceBoundary, secretBrokerAdmin)
	if err != nil {
		return bridge.OutcomeUnchanged, err
	}
	if admin == nil {
		return bridge.OutcomeUnchanged, platformerrors.Rejectedf("broker admin credential secret %s/%s is missing",
			constants.NamespaceBoundary, secretBrokerAdmin)
	}

	broker, err := p.brokerClient()
	if err != nil {
		return bridge.OutcomeUnchanged, err
	}
	if err := broker.Authenticate(ctx,
		string(admin.Data[brokerAdminKeyAuthMethod]),
		string(admin.Data[brokerAdminKeyLoginName]),
		string(admin.Data[brokerAdminKeyPassword])); err != nil {
		return bridge.OutcomeUnchanged, err
	}

	org, err := broker.LookupScope(ctx, "global", constants.BoundaryOrgScope)
	if err != nil {
		return bridge.OutcomeUnchanged, err
	}
	if org == nil {
		return bridge.OutcomeUnchanged, platformerrors.Rejectedf("broker org scope %s does not exist", constants.BoundaryOrgScope)
	}
	authMethod, err := broker.LookupAuthMethod(ctx, org.ID, constants.BoundaryOIDCName)
	if err != nil {
		return bridge.OutcomeUnchanged, err
	}
	if authMethod == nil {
		return bridge.OutcomeUnchanged, platformerrors.Rejectedf("broker auth method %s does not exist", constants.BoundaryOIDCName)
	}

	credBridge := bridge.NewCredentialBridge(idp, broker, p.kube, p.log.WithName("bridge"))
	return credBridge.SyncOIDCSecret(ctx, constants.KeycloakRealm, idpClient.ID, authMethod.ID)
}
