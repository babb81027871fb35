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

// Package constants centralizes names, API paths, and timing values shared
// across the bootstrap orchestrator.
package constants

// FieldOwner is the field manager name used for Server-Side Apply.
const FieldOwner = "platform-bootstrap"

// DefaultDomain is the lab DNS zone the platform services are published under.
const DefaultDomain = "hashicorp.lab"

// Namespaces owned by the deployment profile, in bring-up order.
const (
	NamespaceVault     = "vault"
	NamespaceKeycloak  = "keycloak"
	NamespaceBoundary  = "boundary"
	NamespaceMinio     = "minio"
	NamespaceWorkloads = "workloads"
)

// Service names within their namespaces.
const (
	ServiceVault          = "vault"
	ServiceKeycloak       = "keycloak"
	ServiceBoundary       = "boundary"
	ServiceBoundaryWorker = "boundary-worker"
	ServiceMinio          = "minio"
)

// Secret names managed by the orchestrator.
const (
	SecretVaultTLS          = "vault-tls"
	SecretKeycloakTLS       = "keycloak-tls"
	SecretBoundaryTLS       = "boundary-tls"
	SecretBoundaryWorkerTLS = "boundary-worker-tls"
	SecretPlatformCA        = "platform-ca"
	SecretBoundaryOIDC      = "boundary-oidc-client"
	SecretMinioTLS          = "minio-tls"
	SecretMinioCredentials  = "minio-credentials"
	SecretEngineInit        = "vault-init"
)

// Keys inside managed Secrets.
const (
	SecretKeyTLSCert    = "tls.crt"
	SecretKeyTLSKey     = "tls.key"
	SecretKeyCACert     = "ca.crt"
	SecretKeyCAKey      = "ca.key"
	SecretKeyClientID   = "client-id"
	SecretKeyClientSec  = "client-secret"
	SecretKeyAccessKey  = "accessKeyId"
	SecretKeySecretKey  = "secretAccessKey"
	SecretKeySHA256     = "sha256"
	SecretKeyRootToken  = "token"
	SecretKeySSHHostKey = "ssh-host-key"
)

// Labels applied to orchestrator-managed objects.
const (
	LabelAppName      = "app.kubernetes.io/name"
	LabelAppInstance  = "app.kubernetes.io/instance"
	LabelAppManagedBy = "app.kubernetes.io/managed-by"

	LabelValueManagedBy = "platform-bootstrap"
)

// Keycloak identity model.
const (
	KeycloakRealm          = "platform"
	KeycloakAdminClientID  = "admin-cli"
	KeycloakBoundaryClient = "boundary"
	KeycloakVaultSSHClient = "vault-ssh"
)

// Boundary resource names.
const (
	BoundaryOrgScope      = "platform"
	BoundaryProjectScope  = "workloads"
	BoundaryOIDCName      = "keycloak"
	BoundaryAdminsGroup   = "platform-admins"
	BoundaryRecordsBucket = "boundary-recordings"
)

// Vault mount paths and policy names.
const (
	VaultKVMount      = "secret"
	VaultPKIMount     = "pki"
	VaultK8sAuthMount = "kubernetes"
	VaultSSHRole      = "ssh-host"

	VaultPolicySecretSync = "secret-sync-reader"
)

// Secret-sync operator custom resource identity.
const (
	SyncOperatorGroup      = "secrets.hashicorp.com"
	SyncOperatorVersion    = "v1beta1"
	SyncConnectionName     = "vault-connection"
	SyncAuthName           = "vault-auth"
	SyncKindConnection     = "VaultConnection"
	SyncKindAuth           = "VaultAuth"
	SyncKindStaticSecret   = "VaultStaticSecret"
	SyncKindDynamicSecret  = "VaultDynamicSecret"
	SyncCRDStaticSecrets   = "vaultstaticsecrets.secrets.hashicorp.com"
	SyncCRDDynamicSecrets  = "vaultdynamicsecrets.secrets.hashicorp.com"
	SyncCRDConnections     = "vaultconnections.secrets.hashicorp.com"
	SyncCRDAuths           = "vaultauths.secrets.hashicorp.com"
	SyncDefaultRenewalPct  = 67
	SyncOperatorDeployment = "vault-secrets-operator-controller-manager"
	SyncOperatorNamespace  = "vault-secrets-operator-system"
)
