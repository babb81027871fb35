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

package constants

// Keycloak admin and token endpoints, relative to the base URL.
const (
	KeycloakPathToken        = "/realms/master/protocol/openid-connect/token"
	KeycloakPathRealms       = "/admin/realms"
	KeycloakPathRealmFmt     = "/admin/realms/%s"
	KeycloakPathClientsFmt   = "/admin/realms/%s/clients"
	KeycloakPathClientFmt    = "/admin/realms/%s/clients/%s"
	KeycloakPathSecretFmt    = "/admin/realms/%s/clients/%s/client-secret"
	KeycloakPathMappersFmt   = "/admin/realms/%s/clients/%s/protocol-mappers/models"
	KeycloakPathWellKnownFmt = "/realms/%s/.well-known/openid-configuration"
)

// Boundary API endpoints, relative to the base URL.
const (
	BoundaryPathScopes          = "/v1/scopes"
	BoundaryPathScopeFmt        = "/v1/scopes/%s"
	BoundaryPathAuthMethods     = "/v1/auth-methods"
	BoundaryPathAuthMethodFmt   = "/v1/auth-methods/%s"
	BoundaryPathAuthChangeState = "/v1/auth-methods/%s:change-state"
	BoundaryPathManagedGroups   = "/v1/managed-groups"
	BoundaryPathRoles           = "/v1/roles"
	BoundaryPathRoleGrantsFmt   = "/v1/roles/%s:add-grants"
	BoundaryPathTargets         = "/v1/targets"
	BoundaryPathHealth          = "/health"
)

// Vault health endpoint path used by raw HTTP readiness checks before the
// typed client takes over.
const VaultPathSysHealth = "/v1/sys/health"
