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

package vault

import (
	"context"
	"fmt"

	platformerrors "github.com/dc-tec/platform-bootstrap/internal/errors"
	"github.com/dc-tec/platform-bootstrap/internal/logging"
)

// EnsurePKIRoot generates an internal root CA under the PKI mount once.
// Generating a root is destructive to re-run, so an existing CA is detected
// first and reported as ErrAlreadyDone.
func (c *Client) EnsurePKIRoot(ctx context.Context, mount, commonName, ttl string) error {
	existing, err := c.api.Logical().ReadWithContext(ctx, mount+"/cert/ca")
	if err != nil {
		return classify(err)
	}
	if existing != nil && existing.Data["certificate"] != nil {
		return fmt.Errorf("root CA already present at %s: %w", mount, platformerrors.ErrAlreadyDone)
	}

	_, err = c.api.Logical().WriteWithContext(ctx, mount+"/root/generate/internal", map[string]any{
		"common_name": commonName,
		"ttl":         ttl,
	})
	if err != nil {
		return classify(err)
	}

	logging.LogAuditEvent(c.log, "PKIRootGenerated", map[string]string{
		"mount":       mount,
		"common_name": commonName,
	})
	return nil
}

// WritePKIRole writes an issuing role under the PKI mount.
func (c *Client) WritePKIRole(ctx context.Context, mount, role string, data map[string]any) error {
	_, err := c.api.Logical().WriteWithContext(ctx, mount+"/roles/"+role, data)
	if err != nil {
		return classify(err)
	}
	return nil
}

// IssuedCert is a leaf certificate issued by the PKI mount.
type IssuedCert struct {
	CertificatePEM string
	PrivateKeyPEM  string
	IssuingCAPEM   string
}

// IssueCertificate issues a leaf certificate from the given role.
func (c *Client) IssueCertificate(ctx context.Context, mount, role, commonName, ttl string) (*IssuedCert, error) {
	secret, err := c.api.Logical().WriteWithContext(ctx, mount+"/issue/"+role, map[string]any{
		"common_name": commonName,
		"ttl":         ttl,
	})
	if err != nil {
		return nil, classify(err)
	}
	if secret == nil || secret.Data["certificate"] == nil || secret.Data["private_key"] == nil {
		return nil, platformerrors.Rejectedf("issue %s/%s returned no certificate", mount, role)
	}

	cert := &IssuedCert{
		CertificatePEM: fmt.Sprint(secret.Data["certificate"]),
		PrivateKeyPEM:  fmt.Sprint(secret.Data["private_key"]),
	}
	if secret.Data["issuing_ca"] != nil {
		cert.IssuingCAPEM = fmt.Sprint(secret.Data["issuing_ca"])
	}
	return cert, nil
}
