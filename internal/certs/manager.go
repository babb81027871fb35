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

// Package certs provisions the platform CA and per-service TLS secrets.
package certs

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"sort"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
	"github.com/dc-tec/platform-bootstrap/internal/kube"
	"github.com/dc-tec/platform-bootstrap/internal/logging"
)

const (
	caValidityYears   = 10
	leafValidityDays  = 365
	rotationWindowPct = 20
)

// Manager issues the platform CA and the per-service leaf certificates, all
// stored as cluster secrets.
type Manager struct {
	kube   *kube.Client
	domain string
	log    logr.Logger
	now    func() time.Time
}

// NewManager builds a Manager issuing certificates under the given DNS
// domain.
func NewManager(kubeClient *kube.Client, domain string, log logr.Logger) *Manager {
	return &Manager{
		kube:   kubeClient,
		domain: domain,
		log:    log,
		now:    time.Now,
	}
}

// EnsureCA makes sure the platform CA secret exists in namespace and
// returns the CA certificate PEM. Generating a second CA would orphan every
// leaf already issued, so an existing secret always wins.
func (m *Manager) EnsureCA(ctx context.Context, namespace string) ([]byte, error) {
	existing, err := m.kube.GetSecret(ctx, namespace, constants.SecretPlatformCA)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		certPEM := existing.Data[constants.SecretKeyCACert]
		if len(certPEM) == 0 {
			return nil, fmt.Errorf("CA secret %s/%s exists but has no certificate", namespace, constants.SecretPlatformCA)
		}
		return certPEM, nil
	}

	certPEM, keyPEM, err := m.generateCA()
	if err != nil {
		return nil, err
	}

	_, err = m.kube.UpsertSecret(ctx, namespace, constants.SecretPlatformCA, corev1.SecretTypeOpaque, map[string][]byte{
		constants.SecretKeyCACert: certPEM,
		constants.SecretKeyCAKey:  keyPEM,
	})
	if err != nil {
		return nil, err
	}

	logging.LogAuditEvent(m.log, "PlatformCACreated", map[string]string{
		"namespace": namespace,
		"secret":    constants.SecretPlatformCA,
	})
	return certPEM, nil
}

// EnsureServiceCert issues (or reissues) the TLS secret for a service. The
// existing certificate is kept when its SANs match and it is outside the
// rotation window.
func (m *Manager) EnsureServiceCert(ctx context.Context, caNamespace, namespace, secretName, service string) error {
	dnsNames, ipAddresses := m.serviceSANs(service, namespace)

	existing, err := m.kube.GetSecret(ctx, namespace, secretName)
	if err != nil {
		return err
	}
	if existing != nil {
		cert, parseErr := parseCertificate(existing.Data[constants.SecretKeyTLSCert])
		if parseErr == nil && certSANsMatch(cert, dnsNames, ipAddresses) && !withinRotationWindow(cert, m.now()) {
			return nil
		}
		m.log.Info("Reissuing service certificate",
			"namespace", namespace, "secret", secretName)
	}

	caCert, caKey, caCertPEM, err := m.loadCA(ctx, caNamespace)
	if err != nil {
		return err
	}

	certPEM, keyPEM, err := m.issueLeaf(service, dnsNames, ipAddresses, caCert, caKey)
	if err != nil {
		return err
	}

	_, err = m.kube.UpsertSecret(ctx, namespace, secretName, corev1.SecretTypeTLS, map[string][]byte{
		constants.SecretKeyTLSCert: certPEM,
		constants.SecretKeyTLSKey:  keyPEM,
		constants.SecretKeyCACert:  caCertPEM,
	})
	if err != nil {
		return err
	}

	logging.LogAuditEvent(m.log, "ServiceCertIssued", map[string]string{
		"namespace": namespace,
		"secret":    secretName,
		"service":   service,
	})
	certsIssuedTotal.WithLabelValues(service).Inc()
	return nil
}

// CACert reads the platform CA certificate PEM.
func (m *Manager) CACert(ctx context.Context, namespace string) ([]byte, error) {
	secret, err := m.kube.GetSecret(ctx, namespace, constants.SecretPlatformCA)
	if err != nil {
		return nil, err
	}
	if secret == nil {
		return nil, fmt.Errorf("CA secret %s/%s not found", namespace, constants.SecretPlatformCA)
	}
	return secret.Data[constants.SecretKeyCACert], nil
}

func (m *Manager) loadCA(ctx context.Context, namespace string) (*x509.Certificate, *ecdsa.PrivateKey, []byte, error) {
	secret, err := m.kube.GetSecret(ctx, namespace, constants.SecretPlatformCA)
	if err != nil {
		return nil, nil, nil, err
	}
	if secret == nil {
		return nil, nil, nil, fmt.Errorf("CA secret %s/%s not found", namespace, constants.SecretPlatformCA)
	}

	cert, err := parseCertificate(secret.Data[constants.SecretKeyCACert])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	key, err := parseECDSAPrivateKey(secret.Data[constants.SecretKeyCAKey])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse CA private key: %w", err)
	}
	return cert, key, secret.Data[constants.SecretKeyCACert], nil
}

func (m *Manager) generateCA() ([]byte, []byte, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate CA private key: %w", err)
	}

	serialNumber, err := randSerialNumber()
	if err != nil {
		return nil, nil, err
	}

	now := m.now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   fmt.Sprintf("Platform Root CA %s", m.domain),
			Organization: []string{"Platform Bootstrap"},
		},
		NotBefore:             now.Add(-1 * time.Hour),
		NotAfter:              now.AddDate(caValidityYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	return encodePEM(certDER, privateKey)
}

func (m *Manager) issueLeaf(service string, dnsNames []string, ipAddresses []net.IP, caCert *x509.Certificate, caKey *ecdsa.PrivateKey) ([]byte, []byte, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate server private key: %w", err)
	}

	serialNumber, err := randSerialNumber()
	if err != nil {
		return nil, nil, err
	}

	now := m.now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   fmt.Sprintf("%s.%s", service, m.domain),
			Organization: []string{"Platform Bootstrap"},
		},
		NotBefore:   now.Add(-1 * time.Hour),
		NotAfter:    now.AddDate(0, 0, leafValidityDays),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:    dnsNames,
		IPAddresses: ipAddresses,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, caCert, &privateKey.PublicKey, caKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create server certificate: %w", err)
	}

	return encodePEM(certDER, privateKey)
}

// serviceSANs lists the stable names a service is reachable under. Pod IPs
// are excluded: they change on every restart and would force reissues.
func (m *Manager) serviceSANs(service, namespace string) ([]string, []net.IP) {
	dnsNames := []string{
		fmt.Sprintf("%s.%s", service, m.domain),
		service,
		fmt.Sprintf("%s.%s.svc", service, namespace),
		fmt.Sprintf("%s.%s.svc.cluster.local", service, namespace),
		"localhost",
	}
	return dnsNames, []net.IP{net.ParseIP("127.0.0.1")}
}

func encodePEM(certDER []byte, privateKey *ecdsa.PrivateKey) ([]byte, []byte, error) {
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal ECDSA private key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

func randSerialNumber() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serialNumber, nil
}

func parseCertificate(pemBytes []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

func parseECDSAPrivateKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, fmt.Errorf("failed to decode ECDSA private key PEM")
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

func certSANsMatch(cert *x509.Certificate, dnsNames []string, ipAddresses []net.IP) bool {
	if len(cert.DNSNames) != len(dnsNames) || len(cert.IPAddresses) != len(ipAddresses) {
		return false
	}

	haveDNS := append([]string(nil), cert.DNSNames...)
	wantDNS := append([]string(nil), dnsNames...)
	sort.Strings(haveDNS)
	sort.Strings(wantDNS)
	for i := range haveDNS {
		if haveDNS[i] != wantDNS[i] {
			return false
		}
	}

	haveIPs := make([]string, 0, len(cert.IPAddresses))
	for _, ip := range cert.IPAddresses {
		haveIPs = append(haveIPs, ip.String())
	}
	wantIPs := make([]string, 0, len(ipAddresses))
	for _, ip := range ipAddresses {
		wantIPs = append(wantIPs, ip.String())
	}
	sort.Strings(haveIPs)
	sort.Strings(wantIPs)
	for i := range haveIPs {
		if haveIPs[i] != wantIPs[i] {
			return false
		}
	}
	return true
}

// withinRotationWindow reports whether the certificate has entered the last
// fifth of its lifetime.
func withinRotationWindow(cert *x509.Certificate, now time.Time) bool {
	lifetime := cert.NotAfter.Sub(cert.NotBefore)
	window := lifetime * rotationWindowPct / 100
	return now.After(cert.NotAfter.Add(-window))
}
