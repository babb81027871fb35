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

package certs

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	kubernetesfake "k8s.io/client-go/kubernetes/fake"
	ctrlfake "sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
	"github.com/dc-tec/platform-bootstrap/internal/kube"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	ctrlClient := ctrlfake.NewClientBuilder().WithScheme(kube.Scheme()).Build()
	kubeClient := kube.NewClientWith(ctrlClient, kubernetesfake.NewSimpleClientset(), nil)
	return NewManager(kubeClient, constants.DefaultDomain, logr.Discard())
}

func TestEnsureCAGeneratesOnce(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	first, err := m.EnsureCA(ctx, constants.NamespaceVault)
	if err != nil {
		t.Fatalf("EnsureCA() error = %v", err)
	}
	cert, err := parseCertificate(first)
	if err != nil {
		t.Fatalf("generated CA does not parse: %v", err)
	}
	if !cert.IsCA {
		t.Error("generated certificate is not a CA")
	}

	second, err := m.EnsureCA(ctx, constants.NamespaceVault)
	if err != nil {
		t.Fatalf("second EnsureCA() error = %v", err)
	}
	if string(first) != string(second) {
		t.Error("second EnsureCA() regenerated the CA")
	}
}

func TestEnsureServiceCertIssuesAndKeeps(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.EnsureCA(ctx, constants.NamespaceVault); err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureServiceCert(ctx, constants.NamespaceVault, constants.NamespaceVault,
		constants.SecretVaultTLS, constants.ServiceVault); err != nil {
		t.Fatalf("EnsureServiceCert() error = %v", err)
	}

	secret, err := m.kube.GetSecret(ctx, constants.NamespaceVault, constants.SecretVaultTLS)
	if err != nil || secret == nil {
		t.Fatalf("TLS secret missing: %v", err)
	}
	if secret.Type != corev1.SecretTypeTLS {
		t.Errorf("secret type = %v, want kubernetes.io/tls", secret.Type)
	}

	cert, err := parseCertificate(secret.Data[constants.SecretKeyTLSCert])
	if err != nil {
		t.Fatalf("leaf does not parse: %v", err)
	}
	wantSAN := "vault." + constants.DefaultDomain
	found := false
	for _, name := range cert.DNSNames {
		if name == wantSAN {
			found = true
		}
	}
	if !found {
		t.Errorf("leaf SANs %v missing %q", cert.DNSNames, wantSAN)
	}

	// A matching, fresh certificate is kept as-is.
	before := string(secret.Data[constants.SecretKeyTLSCert])
	if err := m.EnsureServiceCert(ctx, constants.NamespaceVault, constants.NamespaceVault,
		constants.SecretVaultTLS, constants.ServiceVault); err != nil {
		t.Fatalf("second EnsureServiceCert() error = %v", err)
	}
	secret, _ = m.kube.GetSecret(ctx, constants.NamespaceVault, constants.SecretVaultTLS)
	if string(secret.Data[constants.SecretKeyTLSCert]) != before {
		t.Error("fresh certificate was reissued")
	}
}

func TestEnsureServiceCertReissuesNearExpiry(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.EnsureCA(ctx, constants.NamespaceVault); err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureServiceCert(ctx, constants.NamespaceVault, constants.NamespaceVault,
		constants.SecretVaultTLS, constants.ServiceVault); err != nil {
		t.Fatal(err)
	}
	secret, _ := m.kube.GetSecret(ctx, constants.NamespaceVault, constants.SecretVaultTLS)
	before := string(secret.Data[constants.SecretKeyTLSCert])

	// Jump to 10 days before expiry, inside the rotation window.
	m.now = func() time.Time { return time.Now().AddDate(0, 0, leafValidityDays-10) }
	if err := m.EnsureServiceCert(ctx, constants.NamespaceVault, constants.NamespaceVault,
		constants.SecretVaultTLS, constants.ServiceVault); err != nil {
		t.Fatalf("EnsureServiceCert() near expiry error = %v", err)
	}

	secret, _ = m.kube.GetSecret(ctx, constants.NamespaceVault, constants.SecretVaultTLS)
	if string(secret.Data[constants.SecretKeyTLSCert]) == before {
		t.Error("certificate inside the rotation window was not reissued")
	}
}

func TestLeafVerifiesAgainstCA(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	caPEM, err := m.EnsureCA(ctx, constants.NamespaceVault)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureServiceCert(ctx, constants.NamespaceVault, constants.NamespaceKeycloak,
		constants.SecretKeycloakTLS, constants.ServiceKeycloak); err != nil {
		t.Fatal(err)
	}

	secret, _ := m.kube.GetSecret(ctx, constants.NamespaceKeycloak, constants.SecretKeycloakTLS)
	leaf, err := parseCertificate(secret.Data[constants.SecretKeyTLSCert])
	if err != nil {
		t.Fatal(err)
	}
	ca, err := parseCertificate(caPEM)
	if err != nil {
		t.Fatal(err)
	}
	if err := leaf.CheckSignatureFrom(ca); err != nil {
		t.Errorf("leaf not signed by platform CA: %v", err)
	}
}
