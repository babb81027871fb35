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
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	corev1 "k8s.io/api/core/v1"

	"github.com/dc-tec/platform-bootstrap/internal/bridge"
	"github.com/dc-tec/platform-bootstrap/internal/config"
	"github.com/dc-tec/platform-bootstrap/internal/constants"
	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
	"github.com/dc-tec/platform-bootstrap/internal/keycloak"
	"github.com/dc-tec/platform-bootstrap/internal/probe"
	"github.com/dc-tec/platform-bootstrap/internal/sequencer"
)

// Stage names, also the keys used in run logs and metrics.
const (
	StageNamespaces       = "namespaces"
	StageObjectStorage    = "object-storage"
	StageSecretEngine     = "secret-engine"
	StageAuthBridges      = "auth-bridges"
	StageIdentityProvider = "identity-provider"
	StageSessionBroker    = "session-broker"
	StageSecretSync       = "secret-sync"
	StageWorkloads        = "workloads"
)

// Names local to the deployment profile; shared constants stay in the
// constants package, these only appear inside the stages.
const (
	brokerDatabaseService = "postgres"
	brokerInitPodName     = "boundary-db-init"
	brokerRecordingPath   = "/boundary/events"
	sshWorkloadName       = "ssh-target"

	secretIdPAdmin    = "keycloak-admin"
	secretBrokerDB    = "boundary-db"
	secretBrokerAdmin = "boundary-admin"
	secretSSHHostKeys = "ssh-host-keys"

	kvPathPlatformConfig = "workloads/config"
	kvPathSSHHost        = "workloads/ssh-host"

	authRoleSecretSync = "secret-sync"
	pkiMaxTTL          = "87600h"
)

// syncReaderPolicy grants the secret-sync operator read access to the KV
// tree and issue rights on the host-key PKI role, nothing else.
const syncReaderPolicy = `path "secret/data/workloads/*" {
  capabilities = ["read"]
}
path "pki/issue/ssh-host" {
  capabilities = ["create", "update"]
}
`

// Stages returns the full bring-up profile in declaration order. The
// sequencer reorders by the declared requirements, so the list documents
// intent rather than dictating execution.
func (p *Platform) Stages() []sequencer.Stage {
	return []sequencer.Stage{
		{
			Name:   StageNamespaces,
			Action: p.runNamespaces,
		},
		{
			Name:     StageObjectStorage,
			Requires: []string{StageNamespaces},
			Action:   p.runObjectStorage,
		},
		{
			Name:     StageSecretEngine,
			Requires: []string{StageNamespaces},
			Action:   p.runSecretEngine,
			Ready:    p.engineReady,
		},
		{
			Name:     StageAuthBridges,
			Requires: []string{StageSecretEngine},
			Action:   p.runAuthBridges,
		},
		{
			Name:         StageIdentityProvider,
			Requires:     []string{StageNamespaces},
			Action:       p.runIdentityProvider,
			Ready:        p.idpReady,
			ReadyTimeout: constants.ReadyTimeoutColdBoot,
		},
		{
			Name:     StageSessionBroker,
			Requires: []string{StageIdentityProvider, StageObjectStorage},
			Action:   p.runSessionBroker,
			Ready:    p.brokerReady,
		},
		{
			Name:     StageSecretSync,
			Requires: []string{StageAuthBridges},
			Action:   p.runSecretSync,
		},
		{
			Name:     StageWorkloads,
			Requires: []string{StageSecretSync, StageSessionBroker},
			Action:   p.runWorkloads,
			Ready:    p.workloadsReady,
		},
	}
}

func (p *Platform) runNamespaces(ctx context.Context, rc *sequencer.RunContext) error {
	namespaces := []string{
		constants.NamespaceVault,
		constants.NamespaceKeycloak,
		constants.NamespaceBoundary,
		constants.NamespaceMinio,
		constants.NamespaceWorkloads,
	}

	tasks := make([]func(ctx context.Context) error, 0, len(namespaces))
	for _, name := range namespaces {
		tasks = append(tasks, func(ctx context.Context) error {
			return p.kube.EnsureNamespace(ctx, name)
		})
	}
	return sequencer.Parallel(ctx, tasks...)
}

func (p *Platform) runObjectStorage(ctx context.Context, rc *sequencer.RunContext) error {
	if err := p.ensurePlatformCA(ctx); err != nil {
		return err
	}
	if err := p.certs.EnsureServiceCert(ctx, constants.NamespaceVault,
		constants.NamespaceMinio, constants.SecretMinioTLS, constants.ServiceMinio); err != nil {
		return err
	}

	creds, err := p.ensureCredentialSecret(ctx, constants.NamespaceMinio, constants.SecretMinioCredentials, map[string]string{
		constants.SecretKeyAccessKey: p.cfg.MinioAccessKey,
		constants.SecretKeySecretKey: p.cfg.MinioSecretKey,
	})
	if err != nil {
		return err
	}

	if err := p.kube.Apply(ctx, minioDeployment()); err != nil {
		return err
	}
	if err := p.kube.Apply(ctx, minioService()); err != nil {
		return err
	}

	check := &probe.TCPCheck{Addr: fmt.Sprintf("minio.%s:9000", p.cfg.Domain)}
	if err := probe.Await(ctx, p.log, check, constants.ProbeIntervalShort, constants.ReadyTimeoutStandard); err != nil {
		return err
	}

	return p.ensureRecordingsBucket(ctx, creds)
}

func (p *Platform) runSecretEngine(ctx context.Context, rc *sequencer.RunContext) error {
	if err := p.ensurePlatformCA(ctx); err != nil {
		return err
	}
	if err := p.certs.EnsureServiceCert(ctx, constants.NamespaceVault,
		constants.NamespaceVault, constants.SecretVaultTLS, constants.ServiceVault); err != nil {
		return err
	}

	hcl, err := config.RenderEngineHCL(config.EngineConfig{
		ClusterName: constants.ServiceVault,
		Domain:      p.cfg.Domain,
		APIPort:     8200,
		ClusterPort: 8201,
		DataPath:    "/vault/data",
	})
	if err != nil {
		return err
	}
	if err := p.stashRendered(rc, "vault.hcl", hcl); err != nil {
		return err
	}
	if err := p.kube.Apply(ctx, configMap(constants.NamespaceVault, "vault-config",
		map[string]string{"vault.hcl": string(hcl)})); err != nil {
		return err
	}

	if err := p.kube.Apply(ctx, engineStatefulSet()); err != nil {
		return err
	}
	if err := p.kube.Apply(ctx, engineService()); err != nil {
		return err
	}

	// The health endpoint answers with non-2xx codes while uninitialized or
	// sealed; any decodable body means the listener is up.
	responding := p.engineHealthCheck("engine responding", func(body map[string]any) bool {
		_, ok := body["initialized"]
		return ok
	})
	if err := probe.Await(ctx, p.log, responding, constants.ProbeIntervalShort, constants.ReadyTimeoutStandard); err != nil {
		return err
	}

	manager, err := p.initManager()
	if err != nil {
		return err
	}
	if _, err := manager.EnsureInitialized(ctx, rc.RunID); err != nil {
		return err
	}

	engine, err := p.engineClient()
	if err != nil {
		return err
	}
	if err := engine.EnsureKVv2(ctx, constants.VaultKVMount); err != nil {
		return err
	}
	return engine.EnsurePKI(ctx, constants.VaultPKIMount, pkiMaxTTL)
}

func (p *Platform) engineReady(rc *sequencer.RunContext) probe.Check {
	return p.engineHealthCheck("engine initialized and unsealed", func(body map[string]any) bool {
		initialized, _ := body["initialized"].(bool)
		sealed, _ := body["sealed"].(bool)
		return initialized && !sealed
	})
}

func (p *Platform) engineHealthCheck(desc string, predicate func(body map[string]any) bool) probe.Check {
	httpClient, err := newPinnedHTTPClient(p.ca())
	if err != nil {
		return probe.CheckFunc(desc, func(ctx context.Context) error { return err })
	}
	return &probe.JSONFieldCheck{
		Desc:      desc,
		URL:       p.cfg.VaultAddr + constants.VaultPathSysHealth,
		Client:    httpClient,
		Predicate: predicate,
	}
}

func (p *Platform) runAuthBridges(ctx context.Context, rc *sequencer.RunContext) error {
	engine, err := p.engineClient()
	if err != nil {
		return err
	}

	if err := engine.EnsureKubernetesAuth(ctx, constants.VaultK8sAuthMount,
		p.kube.APIServerHost(), p.kube.APIServerCA()); err != nil {
		return err
	}
	if err := engine.WritePolicy(ctx, constants.VaultPolicySecretSync, syncReaderPolicy); err != nil {
		return err
	}
	if err := engine.WriteAuthRole(ctx, constants.VaultK8sAuthMount, authRoleSecretSync, map[string]any{
		"bound_service_account_names":      []string{"default", constants.SyncOperatorDeployment},
		"bound_service_account_namespaces": []string{constants.NamespaceWorkloads, constants.SyncOperatorNamespace},
		"token_policies":                   []string{constants.VaultPolicySecretSync},
		"token_ttl":                        "1h",
	}); err != nil {
		return err
	}

	if err := engine.EnsurePKIRoot(ctx, constants.VaultPKIMount,
		"platform root "+p.cfg.Domain, pkiMaxTTL); err != nil && !errors.Is(err, platformerrors.ErrAlreadyDone) {
		return err
	}
	if err := engine.WritePKIRole(ctx, constants.VaultPKIMount, constants.VaultSSHRole, map[string]any{
		"allowed_domains":  []string{p.cfg.Domain, "workloads.svc.cluster.local"},
		"allow_subdomains": true,
		"max_ttl":          "8760h",
	}); err != nil {
		return err
	}

	// Publish the platform CA where workload pods and the sync operator's
	// connection CR can reference it.
	caPEM, err := p.certs.CACert(ctx, constants.NamespaceVault)
	if err != nil {
		return err
	}
	_, err = p.kube.UpsertSecret(ctx, constants.NamespaceWorkloads, constants.SecretPlatformCA,
		corev1.SecretTypeOpaque, map[string][]byte{constants.SecretKeyCACert: caPEM})
	return err
}

func (p *Platform) runIdentityProvider(ctx context.Context, rc *sequencer.RunContext) error {
	if err := p.ensurePlatformCA(ctx); err != nil {
		return err
	}
	if err := p.certs.EnsureServiceCert(ctx, constants.NamespaceVault,
		constants.NamespaceKeycloak, constants.SecretKeycloakTLS, constants.ServiceKeycloak); err != nil {
		return err
	}

	adminCreds, err := p.ensureCredentialSecret(ctx, constants.NamespaceKeycloak, secretIdPAdmin, map[string]string{
		"password": p.cfg.KeycloakAdminPassword,
	})
	if err != nil {
		return err
	}
	p.setIdPAdminPassword(string(adminCreds["password"]))

	if err := p.kube.Apply(ctx, idpDeployment(p.cfg.Domain, p.cfg.KeycloakAdminUser)); err != nil {
		return err
	}
	if err := p.kube.Apply(ctx, idpService()); err != nil {
		return err
	}

	if err := probe.Await(ctx, p.log, p.idpReady(rc),
		constants.ProbeIntervalStandard, constants.ReadyTimeoutColdBoot); err != nil {
		return err
	}

	idp, err := p.idpClient()
	if err != nil {
		return err
	}
	if err := idp.EnsureRealm(ctx, keycloak.RealmRepresentation{
		Realm:       constants.KeycloakRealm,
		Enabled:     true,
		DisplayName: "Platform",
	}); err != nil {
		return err
	}

	boundaryID, err := idp.EnsureClient(ctx, constants.KeycloakRealm, keycloak.ClientRepresentation{
		ClientID:               constants.KeycloakBoundaryClient,
		Enabled:                true,
		Protocol:               "openid-connect",
		PublicClient:           false,
		ServiceAccountsEnabled: true,
		StandardFlowEnabled:    true,
		RedirectURIs: []string{
			p.cfg.BoundaryURL + "/v1/auth-methods/oidc:authenticate:callback",
		},
	})
	if err != nil {
		return err
	}
	rc.Set("idp-client-boundary", boundaryID)

	if err := idp.EnsureProtocolMapper(ctx, constants.KeycloakRealm, boundaryID, keycloak.ProtocolMapper{
		Name:           "groups",
		Protocol:       "openid-connect",
		ProtocolMapper: "oidc-group-membership-mapper",
		Config: map[string]string{
			"claim.name":           "groups",
			"full.path":            "false",
			"id.token.claim":       "true",
			"access.token.claim":   "true",
			"userinfo.token.claim": "true",
		},
	}); err != nil {
		return err
	}

	_, err = idp.EnsureClient(ctx, constants.KeycloakRealm, keycloak.ClientRepresentation{
		ClientID:                  constants.KeycloakVaultSSHClient,
		Enabled:                   true,
		Protocol:                  "openid-connect",
		PublicClient:              false,
		DirectAccessGrantsEnabled: true,
	})
	return err
}

func (p *Platform) idpReady(rc *sequencer.RunContext) probe.Check {
	httpClient, err := newPinnedHTTPClient(p.ca())
	if err != nil {
		return probe.CheckFunc("idp discovery", func(ctx context.Context) error { return err })
	}
	return &probe.HTTPCheck{
		URL:    p.cfg.KeycloakURL + fmt.Sprintf(constants.KeycloakPathWellKnownFmt, constants.KeycloakRealm),
		Client: httpClient,
	}
}

func (p *Platform) brokerReady(rc *sequencer.RunContext) probe.Check {
	return probe.CheckFunc("broker health", func(ctx context.Context) error {
		broker, err := p.brokerClient()
		if err != nil {
			return err
		}
		return broker.Health(ctx)
	})
}

func (p *Platform) workloadsReady(rc *sequencer.RunContext) probe.Check {
	return &probe.PodsRunningCheck{
		Reader:    p.kube.Reader(),
		Namespace: constants.NamespaceWorkloads,
		Selector:  appLabels(sshWorkloadName),
		MinReady:  2,
	}
}

func (p *Platform) runSecretSync(ctx context.Context, rc *sequencer.RunContext) error {
	operatorUp := probe.CheckFunc("sync operator CRDs established", func(ctx context.Context) error {
		ready, err := p.sync.OperatorReady(ctx)
		if err != nil {
			return err
		}
		if !ready {
			return fmt.Errorf("sync operator CRDs not yet established")
		}
		return nil
	})
	if err := probe.Await(ctx, p.log, operatorUp, constants.ProbeIntervalStandard, constants.ReadyTimeoutStandard); err != nil {
		return err
	}

	if err := p.sync.EnsureConnection(ctx, constants.NamespaceWorkloads, p.cfg.VaultAddr, p.ca()); err != nil {
		return err
	}
	if err := p.sync.EnsureAuth(ctx, constants.NamespaceWorkloads,
		constants.VaultK8sAuthMount, authRoleSecretSync, "default"); err != nil {
		return err
	}

	engine, err := p.engineClient()
	if err != nil {
		return err
	}
	if err := engine.WriteKVSecret(ctx, constants.VaultKVMount, kvPathPlatformConfig, map[string]any{
		"domain":   p.cfg.Domain,
		"broker":   p.cfg.BoundaryURL,
		"identity": p.cfg.KeycloakURL,
	}); err != nil {
		return err
	}

	if err := p.sync.EnsureStaticSecret(ctx, bridge.StaticSecretSpec{
		Namespace:       constants.NamespaceWorkloads,
		Name:            "platform-config",
		Mount:           constants.VaultKVMount,
		Path:            kvPathPlatformConfig,
		DestinationName: "platform-config",
	}); err != nil {
		return err
	}

	return p.sync.EnsureDynamicSecret(ctx, bridge.DynamicSecretSpec{
		Namespace:       constants.NamespaceWorkloads,
		Name:            "ssh-client-cert",
		Mount:           constants.VaultPKIMount,
		Path:            "issue/" + constants.VaultSSHRole,
		DestinationName: "ssh-client-cert",
	})
}

func (p *Platform) runWorkloads(ctx context.Context, rc *sequencer.RunContext) error {
	engine, err := p.engineClient()
	if err != nil {
		return err
	}

	hostName := fmt.Sprintf("%s.%s", sshWorkloadName, p.cfg.Domain)
	issued, err := engine.IssueCertificate(ctx, constants.VaultPKIMount, constants.VaultSSHRole, hostName, "8760h")
	if err != nil {
		return err
	}
	if err := engine.WriteKVSecret(ctx, constants.VaultKVMount, kvPathSSHHost, map[string]any{
		constants.SecretKeySSHHostKey: issued.PrivateKeyPEM,
		"certificate":                 issued.CertificatePEM,
		"issuing-ca":                  issued.IssuingCAPEM,
	}); err != nil {
		return err
	}

	if err := p.sync.EnsureStaticSecret(ctx, bridge.StaticSecretSpec{
		Namespace:       constants.NamespaceWorkloads,
		Name:            secretSSHHostKeys,
		Mount:           constants.VaultKVMount,
		Path:            kvPathSSHHost,
		DestinationName: secretSSHHostKeys,
	}); err != nil {
		return err
	}

	if err := p.kube.Apply(ctx, sshWorkloadDeployment()); err != nil {
		return err
	}
	return p.kube.Apply(ctx, sshWorkloadService())
}

// ensurePlatformCA makes the CA exist and caches its PEM for endpoint
// clients. Safe to call from any stage; the first caller pays the write.
func (p *Platform) ensurePlatformCA(ctx context.Context) error {
	caPEM, err := p.certs.EnsureCA(ctx, constants.NamespaceVault)
	if err != nil {
		return err
	}
	p.setCA(caPEM)
	return nil
}

func (p *Platform) setIdPAdminPassword(password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.KeycloakAdminPassword = password
}

// ensureCredentialSecret makes a credential secret exist and returns its
// data. An existing secret always wins so credentials stay stable across
// runs; empty wanted values are filled with random material on first write.
func (p *Platform) ensureCredentialSecret(ctx context.Context, namespace, name string, want map[string]string) (map[string][]byte, error) {
	existing, err := p.kube.GetSecret(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing.Data, nil
	}

	data := make(map[string][]byte, len(want))
	for key, value := range want {
		if value == "" {
			generated, err := randomToken()
			if err != nil {
				return nil, err
			}
			value = generated
		}
		data[key] = []byte(value)
	}
	if _, err := p.kube.UpsertSecret(ctx, namespace, name, corev1.SecretTypeOpaque, data); err != nil {
		return nil, err
	}
	return data, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random credential: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// stashRendered writes a rendered config into the run scratch directory so
// a failed bring-up leaves the exact material behind for inspection.
func (p *Platform) stashRendered(rc *sequencer.RunContext, name string, content []byte) error {
	dir, err := rc.ScratchDir()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), content, 0o600)
}
