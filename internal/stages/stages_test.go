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
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kubernetesfake "k8s.io/client-go/kubernetes/fake"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlfake "sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
	"github.com/dc-tec/platform-bootstrap/internal/kube"
	"github.com/dc-tec/platform-bootstrap/internal/logging"
	"github.com/dc-tec/platform-bootstrap/internal/sequencer"
)

func newTestPlatform(t *testing.T, objs ...client.Object) *Platform {
	t.Helper()
	ctrlClient := ctrlfake.NewClientBuilder().WithScheme(kube.Scheme()).WithObjects(objs...).Build()
	clientset := kubernetesfake.NewSimpleClientset()
	kubeClient := kube.NewClientWith(ctrlClient, clientset, nil)
	return NewPlatform(Config{StateDir: t.TempDir()}, kubeClient, logr.Discard())
}

func newTestRunContext(t *testing.T, p *Platform) *sequencer.RunContext {
	t.Helper()
	dir := t.TempDir()
	runLog, err := logging.OpenRunLog(filepath.Join(dir, "run.log"), "test-run")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = runLog.Close() })

	rc := sequencer.NewRunContext(p.cfg.Domain, dir, p.kube, logr.Discard(), runLog)
	t.Cleanup(func() { _ = rc.Cleanup() })
	return rc
}

func namespaceExists(t *testing.T, p *Platform, name string) bool {
	t.Helper()
	gone, err := p.kube.NamespaceGone(context.Background(), name)
	if err != nil {
		t.Fatalf("NamespaceGone(%s) error = %v", name, err)
	}
	return !gone
}

func TestConfigDerivesEndpointsFromDomain(t *testing.T) {
	cfg := Config{Domain: "corp.example"}
	cfg.applyDefaults()

	if cfg.VaultAddr != "https://vault.corp.example:8200" {
		t.Errorf("VaultAddr = %q", cfg.VaultAddr)
	}
	if cfg.KeycloakURL != "https://keycloak.corp.example:8443" {
		t.Errorf("KeycloakURL = %q", cfg.KeycloakURL)
	}
	if cfg.BoundaryURL != "https://boundary.corp.example:9200" {
		t.Errorf("BoundaryURL = %q", cfg.BoundaryURL)
	}
	if cfg.MinioEndpoint != "https://minio.corp.example:9000" {
		t.Errorf("MinioEndpoint = %q", cfg.MinioEndpoint)
	}
}

func TestConfigKeepsExplicitEndpoints(t *testing.T) {
	cfg := Config{VaultAddr: "https://10.0.0.5:8200"}
	cfg.applyDefaults()

	if cfg.Domain != constants.DefaultDomain {
		t.Errorf("Domain = %q, want default", cfg.Domain)
	}
	if cfg.VaultAddr != "https://10.0.0.5:8200" {
		t.Errorf("VaultAddr = %q, override lost", cfg.VaultAddr)
	}
}

func TestBringUpPlanIsWellFormed(t *testing.T) {
	p := newTestPlatform(t)
	stages := p.Stages()

	declared := make(map[string]bool, len(stages))
	for _, stage := range stages {
		if declared[stage.Name] {
			t.Fatalf("stage %s declared twice", stage.Name)
		}
		declared[stage.Name] = true
	}
	for _, stage := range stages {
		for _, req := range stage.Requires {
			if !declared[req] {
				t.Errorf("stage %s requires undeclared %s", stage.Name, req)
			}
		}
	}

	want := []string{
		StageNamespaces, StageObjectStorage, StageSecretEngine, StageAuthBridges,
		StageIdentityProvider, StageSessionBroker, StageSecretSync, StageWorkloads,
	}
	if len(stages) != len(want) {
		t.Fatalf("got %d stages, want %d", len(stages), len(want))
	}
	for i, name := range want {
		if stages[i].Name != name {
			t.Errorf("stage[%d] = %s, want %s", i, stages[i].Name, name)
		}
	}
}

func TestBringUpPlanOrders(t *testing.T) {
	p := newTestPlatform(t)
	rc := newTestRunContext(t, p)

	// Same graph, inert actions: validates the dependency declarations
	// through the real runner without touching any endpoint.
	stages := p.Stages()
	for i := range stages {
		stages[i].Action = func(ctx context.Context, rc *sequencer.RunContext) error { return nil }
		stages[i].Ready = nil
	}

	report, err := sequencer.NewRunner(logr.Discard()).Run(context.Background(), rc, stages)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Failed() {
		t.Fatal("inert plan reported failure")
	}
}

func TestNamespacesStageCreatesAll(t *testing.T) {
	p := newTestPlatform(t)
	rc := newTestRunContext(t, p)

	if err := p.runNamespaces(context.Background(), rc); err != nil {
		t.Fatalf("runNamespaces() error = %v", err)
	}

	for _, name := range []string{
		constants.NamespaceVault,
		constants.NamespaceKeycloak,
		constants.NamespaceBoundary,
		constants.NamespaceMinio,
		constants.NamespaceWorkloads,
	} {
		if !namespaceExists(t, p, name) {
			t.Errorf("namespace %s not created", name)
		}
	}
}

func TestSecondPassIssuesNoWrites(t *testing.T) {
	var writes int
	counting := interceptor.Funcs{
		Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
			writes++
			return c.Create(ctx, obj, opts...)
		},
		Update: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.UpdateOption) error {
			writes++
			return c.Update(ctx, obj, opts...)
		},
		Patch: func(ctx context.Context, c client.WithWatch, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
			writes++
			return c.Patch(ctx, obj, patch, opts...)
		},
		Delete: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
			writes++
			return c.Delete(ctx, obj, opts...)
		},
	}
	ctrlClient := ctrlfake.NewClientBuilder().
		WithScheme(kube.Scheme()).
		WithInterceptorFuncs(counting).
		Build()
	kubeClient := kube.NewClientWith(ctrlClient, kubernetesfake.NewSimpleClientset(), nil)
	p := NewPlatform(Config{StateDir: t.TempDir()}, kubeClient, logr.Discard())
	ctx := context.Background()

	pass := func(rc *sequencer.RunContext) {
		t.Helper()
		if err := p.runNamespaces(ctx, rc); err != nil {
			t.Fatalf("runNamespaces() error = %v", err)
		}
		for _, cred := range []struct{ namespace, name string }{
			{constants.NamespaceMinio, constants.SecretMinioCredentials},
			{constants.NamespaceKeycloak, secretIdPAdmin},
		} {
			_, err := p.ensureCredentialSecret(ctx, cred.namespace, cred.name, map[string]string{
				"username": "admin",
				"password": "",
			})
			if err != nil {
				t.Fatalf("ensureCredentialSecret(%s/%s) error = %v", cred.namespace, cred.name, err)
			}
		}
	}

	pass(newTestRunContext(t, p))
	if writes == 0 {
		t.Fatal("first pass issued no writes")
	}

	writes = 0
	pass(newTestRunContext(t, p))
	if writes != 0 {
		t.Errorf("second pass issued %d writes, want 0", writes)
	}
}

func TestTeardownDeletesNamespacesInReverseOrder(t *testing.T) {
	p := newTestPlatform(t)
	rc := newTestRunContext(t, p)

	ctx := context.Background()
	if err := p.runNamespaces(ctx, rc); err != nil {
		t.Fatal(err)
	}

	stages := p.TeardownStages(false)
	want := []string{
		"delete-" + constants.NamespaceWorkloads,
		"delete-" + constants.NamespaceMinio,
		"delete-" + constants.NamespaceBoundary,
		"delete-" + constants.NamespaceKeycloak,
		"delete-" + constants.NamespaceVault,
		"scrub-state",
	}
	if len(stages) != len(want) {
		t.Fatalf("got %d teardown stages, want %d", len(stages), len(want))
	}
	for i, name := range want {
		if stages[i].Name != name {
			t.Errorf("teardown[%d] = %s, want %s", i, stages[i].Name, name)
		}
	}

	report, err := sequencer.NewRunner(logr.Discard()).Run(ctx, rc, stages)
	if err != nil {
		t.Fatalf("teardown Run() error = %v", err)
	}
	if report.Failed() {
		t.Fatal("teardown reported failure")
	}
	if namespaceExists(t, p, constants.NamespaceVault) {
		t.Error("vault namespace survived teardown")
	}
}

func TestEnsureCredentialSecretGeneratesAndSticks(t *testing.T) {
	p := newTestPlatform(t)
	ctx := context.Background()

	first, err := p.ensureCredentialSecret(ctx, constants.NamespaceMinio, constants.SecretMinioCredentials, map[string]string{
		constants.SecretKeyAccessKey: "admin",
		constants.SecretKeySecretKey: "",
	})
	if err != nil {
		t.Fatalf("ensureCredentialSecret() error = %v", err)
	}
	if string(first[constants.SecretKeyAccessKey]) != "admin" {
		t.Errorf("provided value not kept: %q", first[constants.SecretKeyAccessKey])
	}
	if len(first[constants.SecretKeySecretKey]) == 0 {
		t.Error("empty value was not generated")
	}

	// A second call must return the stored credential, not regenerate.
	second, err := p.ensureCredentialSecret(ctx, constants.NamespaceMinio, constants.SecretMinioCredentials, map[string]string{
		constants.SecretKeyAccessKey: "other",
		constants.SecretKeySecretKey: "",
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(second[constants.SecretKeyAccessKey]) != "admin" {
		t.Errorf("existing credential overwritten: %q", second[constants.SecretKeyAccessKey])
	}
	if string(second[constants.SecretKeySecretKey]) != string(first[constants.SecretKeySecretKey]) {
		t.Error("generated credential changed between runs")
	}
}

func TestVerifyChecksCoverEveryService(t *testing.T) {
	caSecret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: constants.NamespaceVault,
			Name:      constants.SecretPlatformCA,
		},
		Data: map[string][]byte{
			constants.SecretKeyCACert: []byte(testCAPEM),
			constants.SecretKeyCAKey:  []byte("key material"),
		},
	}
	p := newTestPlatform(t, caSecret)

	checks, err := p.VerifyChecks(context.Background())
	if err != nil {
		t.Fatalf("VerifyChecks() error = %v", err)
	}
	if len(checks) != 5 {
		t.Fatalf("got %d checks, want 5", len(checks))
	}
	for _, check := range checks {
		if check.Name() == "" {
			t.Error("check with empty name")
		}
	}
}

func TestVerifyChecksRequirePlatformCA(t *testing.T) {
	p := newTestPlatform(t)
	if _, err := p.VerifyChecks(context.Background()); err == nil {
		t.Fatal("VerifyChecks succeeded without a platform CA")
	}
}

func TestWorkloadManifestsShape(t *testing.T) {
	sts := engineStatefulSet()
	if sts.Namespace != constants.NamespaceVault || sts.Name != constants.ServiceVault {
		t.Errorf("engine identity = %s/%s", sts.Namespace, sts.Name)
	}
	if got := len(sts.Spec.VolumeClaimTemplates); got != 1 {
		t.Fatalf("engine claim templates = %d, want 1", got)
	}

	minio := minioDeployment()
	var tlsProjection *corev1.SecretVolumeSource
	for _, vol := range minio.Spec.Template.Spec.Volumes {
		if vol.Name == "tls" {
			tlsProjection = vol.Secret
		}
	}
	if tlsProjection == nil {
		t.Fatal("minio tls volume missing")
	}
	paths := map[string]string{}
	for _, item := range tlsProjection.Items {
		paths[item.Key] = item.Path
	}
	if paths[constants.SecretKeyTLSCert] != "public.crt" || paths[constants.SecretKeyTLSKey] != "private.key" {
		t.Errorf("minio tls projection = %v", paths)
	}

	ssh := sshWorkloadDeployment()
	if *ssh.Spec.Replicas != 2 {
		t.Errorf("ssh replicas = %d, want 2", *ssh.Spec.Replicas)
	}
	if ssh.Spec.Template.Spec.Containers[0].Ports[0].ContainerPort != sshTargetPort {
		t.Errorf("ssh port = %d, want %d",
			ssh.Spec.Template.Spec.Containers[0].Ports[0].ContainerPort, sshTargetPort)
	}
}

func TestBrokerWorkerSurface(t *testing.T) {
	broker := brokerDeployment()
	var workerTLS string
	for _, vol := range broker.Spec.Template.Spec.Volumes {
		if vol.Name == "tls-worker" && vol.Secret != nil {
			workerTLS = vol.Secret.SecretName
		}
	}
	if workerTLS != constants.SecretBoundaryWorkerTLS {
		t.Errorf("worker tls volume secret = %q, want %q", workerTLS, constants.SecretBoundaryWorkerTLS)
	}
	var mounted bool
	for _, mount := range broker.Spec.Template.Spec.Containers[0].VolumeMounts {
		if mount.Name == "tls-worker" && mount.MountPath == workerTLSMountPath {
			mounted = true
		}
	}
	if !mounted {
		t.Errorf("worker tls not mounted at %s", workerTLSMountPath)
	}

	svc := brokerWorkerService()
	if svc.Name != constants.ServiceBoundaryWorker || svc.Namespace != constants.NamespaceBoundary {
		t.Errorf("worker service identity = %s/%s", svc.Namespace, svc.Name)
	}
	if got := svc.Spec.Selector[constants.LabelAppName]; got != constants.ServiceBoundary {
		t.Errorf("worker service selects %q, want the broker pods", got)
	}
	if len(svc.Spec.Ports) != 1 || svc.Spec.Ports[0].Port != 9202 {
		t.Errorf("worker service ports = %v, want just the proxy port", svc.Spec.Ports)
	}
}

// A syntactically valid PEM block; VerifyChecks only loads it into a pool.
const testCAPEM = `-----BEGIN CERTIFICATE-----
MIIBhTCCASugAwIBAgIQIRi6zePL6mKjOipn+dNuaTAKBggqhkjOPQQDAjASMRAw
DgYDVQQKEwdBY21lIENvMB4XDTE3MTAyMDE5NDMwNloXDTE4MTAyMDE5NDMwNlow
EjEQMA4GA1UEChMHQWNtZSBDbzBZMBMGByqGSM49AgEGCCqGSM49AwEHA0IABD0d
7VNhbWvZLWPuj/RtHFjvtJBEwOkhbN/BnnE8rnZR8+sbwnc/KhCk3FhnpHZnQz7B
5aETbbIgmuvewdjvSBSjYzBhMA4GA1UdDwEB/wQEAwICpDATBgNVHSUEDDAKBggr
BgEFBQcDATAPBgNVHRMBAf8EBTADAQH/MCkGA1UdEQQiMCCCDmxvY2FsaG9zdDo1
NDUzgg4xMjcuMC4wLjE6NTQ1MzAKBggqhkjOPQQDAgNIADBFAiEA2zpJEPQyz6/l
Wf86aX6PepsntZv2GYlA5UpabfT2EZICICpJ5h/iI+i341gBmLiAFQOyTDT+/wQc
6MF9+Yw1Yy0t
-----END CERTIFICATE-----
`
