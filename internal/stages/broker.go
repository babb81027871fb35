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
	"encoding/json"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/dc-tec/platform-bootstrap/internal/boundary"
	"github.com/dc-tec/platform-bootstrap/internal/bridge"
	"github.com/dc-tec/platform-bootstrap/internal/config"
	"github.com/dc-tec/platform-bootstrap/internal/constants"
	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
	"github.com/dc-tec/platform-bootstrap/internal/guard"
	"github.com/dc-tec/platform-bootstrap/internal/logging"
	"github.com/dc-tec/platform-bootstrap/internal/probe"
	"github.com/dc-tec/platform-bootstrap/internal/sequencer"
)

// Keys inside the broker admin credential secret, written once from the
// database init output and the only copy of the generated admin password.
const (
	brokerAdminKeyAuthMethod = "auth-method-id"
	brokerAdminKeyLoginName  = "login-name"
	brokerAdminKeyPassword   = "password"
)

func (p *Platform) runSessionBroker(ctx context.Context, rc *sequencer.RunContext) error {
	if err := p.deployBrokerDatabase(ctx, rc); err != nil {
		return err
	}
	if err := p.initBrokerDatabase(ctx); err != nil {
		return err
	}
	if err := p.deployBroker(ctx); err != nil {
		return err
	}
	return p.configureBroker(ctx, rc)
}

func (p *Platform) deployBrokerDatabase(ctx context.Context, rc *sequencer.RunContext) error {
	if err := p.ensurePlatformCA(ctx); err != nil {
		return err
	}
	if err := p.certs.EnsureServiceCert(ctx, constants.NamespaceVault,
		constants.NamespaceBoundary, constants.SecretBoundaryTLS, constants.ServiceBoundary); err != nil {
		return err
	}
	// The colocated worker advertises its own host, so it carries its own
	// cert rather than the controller's.
	if err := p.certs.EnsureServiceCert(ctx, constants.NamespaceVault,
		constants.NamespaceBoundary, constants.SecretBoundaryWorkerTLS, constants.ServiceBoundaryWorker); err != nil {
		return err
	}

	dbCreds, err := p.ensureCredentialSecret(ctx, constants.NamespaceBoundary, secretBrokerDB, map[string]string{
		"password": "",
	})
	if err != nil {
		return err
	}

	if err := p.kube.Apply(ctx, databaseDeployment()); err != nil {
		return err
	}
	if err := p.kube.Apply(ctx, databaseService()); err != nil {
		return err
	}

	hcl, err := config.RenderBrokerHCL(config.BrokerConfig{
		Name:        constants.ServiceBoundary,
		Domain:      p.cfg.Domain,
		APIPort:     9200,
		ClusterPort: 9201,
		DatabaseURL: fmt.Sprintf("postgresql://boundary:%s@%s.%s.svc.cluster.local:5432/boundary?sslmode=disable",
			dbCreds["password"], brokerDatabaseService, constants.NamespaceBoundary),
		RecordingPath: brokerRecordingPath,
	})
	if err != nil {
		return err
	}
	if err := p.stashRendered(rc, "boundary.hcl", hcl); err != nil {
		return err
	}
	if err := p.kube.Apply(ctx, configMap(constants.NamespaceBoundary, "boundary-config",
		map[string]string{"boundary.hcl": string(hcl)})); err != nil {
		return err
	}

	dbUp := &probe.PodsRunningCheck{
		Reader:    p.kube.Reader(),
		Namespace: constants.NamespaceBoundary,
		Selector:  appLabels(brokerDatabaseService),
	}
	return probe.Await(ctx, p.log, dbUp, constants.ProbeIntervalShort, constants.ReadyTimeoutStandard)
}

// initBrokerDatabase runs the schema init exactly once. The init command
// generates the first admin credential, which exists nowhere else, so the
// output is captured into a secret before anything can consume it.
func (p *Platform) initBrokerDatabase(ctx context.Context) error {
	if err := p.kube.Apply(ctx, brokerInitPod()); err != nil {
		return err
	}
	podUp := &probe.PodsRunningCheck{
		Reader:    p.kube.Reader(),
		Namespace: constants.NamespaceBoundary,
		Selector:  appLabels(brokerInitPodName),
	}
	if err := probe.Await(ctx, p.log, podUp, constants.ProbeIntervalShort, constants.ReadyTimeoutShort); err != nil {
		return err
	}

	_, err := guard.Reconcile(ctx, p.log, guard.Func{
		TargetName: "broker database schema",
		ClassifyFn: func(ctx context.Context) (guard.State, error) {
			secret, err := p.kube.GetSecret(ctx, constants.NamespaceBoundary, secretBrokerAdmin)
			if err != nil {
				return guard.StateAbsent, err
			}
			if secret != nil {
				return guard.StateFull, nil
			}
			return guard.StateAbsent, nil
		},
		CreateFn: func(ctx context.Context) error {
			return p.execBrokerInit(ctx)
		},
	})
	return err
}

func (p *Platform) execBrokerInit(ctx context.Context) error {
	result, err := p.kube.Exec(ctx, constants.NamespaceBoundary, brokerInitPodName, "init", []string{
		"boundary", "database", "init",
		"-config", "/boundary/config/boundary.hcl",
		"-format", "json",
	})
	if err != nil {
		if platformerrors.IsRejected(err) && strings.Contains(err.Error(), "already initialized") {
			// Schema exists but the admin record was never captured; the
			// generated credential is unrecoverable at this point.
			return platformerrors.Rejectedf("broker schema initialized but admin credential secret %s/%s is missing",
				constants.NamespaceBoundary, secretBrokerAdmin)
		}
		return err
	}

	var output struct {
		AuthMethod struct {
			AuthMethodID string `json:"auth_method_id"`
			LoginName    string `json:"login_name"`
			Password     string `json:"password"`
		} `json:"auth_method"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &output); err != nil {
		return platformerrors.Rejectedf("broker init output is not valid JSON: %v", err)
	}
	if output.AuthMethod.AuthMethodID == "" || output.AuthMethod.Password == "" {
		return platformerrors.Rejectedf("broker init output carries no admin credential")
	}

	if _, err := p.kube.UpsertSecret(ctx, constants.NamespaceBoundary, secretBrokerAdmin,
		corev1.SecretTypeOpaque, map[string][]byte{
			brokerAdminKeyAuthMethod: []byte(output.AuthMethod.AuthMethodID),
			brokerAdminKeyLoginName:  []byte(output.AuthMethod.LoginName),
			brokerAdminKeyPassword:   []byte(output.AuthMethod.Password),
		}); err != nil {
		return err
	}

	logging.LogAuditEvent(p.log, "BrokerDatabaseInitialized", map[string]string{
		"auth_method": output.AuthMethod.AuthMethodID,
	})
	return nil
}

func (p *Platform) deployBroker(ctx context.Context) error {
	if err := p.kube.Apply(ctx, brokerDeployment()); err != nil {
		return err
	}
	if err := p.kube.Apply(ctx, brokerService()); err != nil {
		return err
	}
	if err := p.kube.Apply(ctx, brokerWorkerService()); err != nil {
		return err
	}

	// The pod gate runs first: probing the health endpoint while the pod is
	// still scheduling just burns the timeout on connection errors.
	up := &probe.Conjunction{
		Desc: "broker ready",
		Checks: []probe.Check{
			&probe.PodsRunningCheck{
				Reader:    p.kube.Reader(),
				Namespace: constants.NamespaceBoundary,
				Selector:  appLabels(constants.ServiceBoundary),
			},
			probe.CheckFunc("broker health", func(ctx context.Context) error {
				broker, err := p.brokerClient()
				if err != nil {
					return err
				}
				return broker.Health(ctx)
			}),
		},
	}
	return probe.Await(ctx, p.log, up, constants.ProbeIntervalStandard, constants.ReadyTimeoutColdBoot)
}

func (p *Platform) configureBroker(ctx context.Context, rc *sequencer.RunContext) error {
	admin, err := p.kube.GetSecret(ctx, constants.NamespaceBoundary, secretBrokerAdmin)
	if err != nil {
		return err
	}
	if admin == nil {
		return platformerrors.Rejectedf("broker admin credential secret %s/%s is missing",
			constants.NamespaceBoundary, secretBrokerAdmin)
	}

	broker, err := p.brokerClient()
	if err != nil {
		return err
	}
	if err := broker.Authenticate(ctx,
		string(admin.Data[brokerAdminKeyAuthMethod]),
		string(admin.Data[brokerAdminKeyLoginName]),
		string(admin.Data[brokerAdminKeyPassword])); err != nil {
		return err
	}

	orgID, err := broker.EnsureScope(ctx, "global", constants.BoundaryOrgScope, "Platform organization")
	if err != nil {
		return err
	}
	projID, err := broker.EnsureScope(ctx, orgID, constants.BoundaryProjectScope, "Workload targets")
	if err != nil {
		return err
	}

	idp, err := p.idpClient()
	if err != nil {
		return err
	}
	clientInternalID, err := rc.MustGet("idp-client-boundary")
	if err != nil {
		return err
	}
	clientSecret, err := idp.ClientSecret(ctx, constants.KeycloakRealm, clientInternalID)
	if err != nil {
		return err
	}

	authMethodID, err := broker.EnsureOIDCAuthMethod(ctx, orgID, constants.BoundaryOIDCName, boundary.OIDCAttributes{
		Issuer:       idp.WellKnownIssuer(constants.KeycloakRealm),
		ClientID:     constants.KeycloakBoundaryClient,
		ClientSecret: clientSecret,
		SigningAlgs:  []string{"RS256"},
		APIURLPrefix: p.cfg.BoundaryURL,
		IdpCACerts:   []string{string(p.ca())},
		ClaimsScopes: []string{"groups"},
	})
	if err != nil {
		return err
	}
	if err := broker.ActivateAuthMethod(ctx, authMethodID); err != nil {
		return err
	}
	rc.Set("auth-method-id", authMethodID)

	groupID, err := broker.EnsureManagedGroup(ctx, authMethodID, constants.BoundaryAdminsGroup,
		fmt.Sprintf("%q in %q", "/"+constants.BoundaryAdminsGroup, "/token/groups"))
	if err != nil {
		return err
	}
	if _, err := broker.EnsureRole(ctx, orgID, constants.BoundaryAdminsGroup, []string{
		"ids=*;type=*;actions=*",
	}); err != nil {
		return err
	}
	p.log.V(1).Info("Managed group bound", "group_id", groupID)

	target := boundary.Target{
		Name:    sshWorkloadName,
		Type:    "tcp",
		Address: fmt.Sprintf("%s.%s.svc.cluster.local", sshWorkloadName, constants.NamespaceWorkloads),
	}
	target.Attributes.DefaultPort = sshTargetPort
	if _, err := broker.EnsureTarget(ctx, projID, target); err != nil {
		return err
	}

	credBridge := bridge.NewCredentialBridge(idp, broker, p.kube, p.log.WithName("bridge"))
	_, err = credBridge.SyncOIDCSecret(ctx, constants.KeycloakRealm, clientInternalID, authMethodID)
	return err
}
