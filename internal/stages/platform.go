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

// Package stages defines the concrete bring-up profile: which services are
// deployed, in what order, and how each is configured and verified.
package stages

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/dc-tec/platform-bootstrap/internal/boundary"
	"github.com/dc-tec/platform-bootstrap/internal/bridge"
	"github.com/dc-tec/platform-bootstrap/internal/certs"
	"github.com/dc-tec/platform-bootstrap/internal/constants"
	"github.com/dc-tec/platform-bootstrap/internal/initmgr"
	"github.com/dc-tec/platform-bootstrap/internal/keycloak"
	"github.com/dc-tec/platform-bootstrap/internal/kube"
	"github.com/dc-tec/platform-bootstrap/internal/retry"
	"github.com/dc-tec/platform-bootstrap/internal/vault"
)

// Config carries the deployment profile inputs.
type Config struct {
	Domain   string
	StateDir string

	KeycloakAdminUser     string
	KeycloakAdminPassword string
	MinioAccessKey        string
	MinioSecretKey        string

	// Endpoint overrides; derived from Domain when empty.
	VaultAddr     string
	KeycloakURL   string
	BoundaryURL   string
	MinioEndpoint string
}

func (c *Config) applyDefaults() {
	if c.Domain == "" {
		c.Domain = constants.DefaultDomain
	}
	if c.KeycloakAdminUser == "" {
		c.KeycloakAdminUser = "admin"
	}
	if c.VaultAddr == "" {
		c.VaultAddr = fmt.Sprintf("https://vault.%s:8200", c.Domain)
	}
	if c.KeycloakURL == "" {
		c.KeycloakURL = fmt.Sprintf("https://keycloak.%s:8443", c.Domain)
	}
	if c.BoundaryURL == "" {
		c.BoundaryURL = fmt.Sprintf("https://boundary.%s:9200", c.Domain)
	}
	if c.MinioEndpoint == "" {
		c.MinioEndpoint = fmt.Sprintf("https://minio.%s:9000", c.Domain)
	}
}

// Platform bundles the clients and managers the stages share. Endpoint
// clients are built lazily because they need the platform CA, which only
// exists once the certificate stage has run.
type Platform struct {
	cfg   Config
	kube  *kube.Client
	log   logr.Logger
	retry *retry.Executor
	certs *certs.Manager
	sync  *bridge.SyncManager
	init  *initmgr.Manager

	mu       sync.Mutex
	caPEM    []byte
	vault    *vault.Client
	keycloak *keycloak.Client
	boundary *boundary.Client
}

// NewPlatform builds a Platform from config.
func NewPlatform(cfg Config, kubeClient *kube.Client, log logr.Logger) *Platform {
	cfg.applyDefaults()
	executor := retry.NewExecutor(log)
	p := &Platform{
		cfg:   cfg,
		kube:  kubeClient,
		log:   log,
		retry: executor,
		certs: certs.NewManager(kubeClient, cfg.Domain, log),
		sync:  bridge.NewSyncManager(kubeClient, executor, log),
	}
	return p
}

// setCA records the platform CA for later client construction.
func (p *Platform) setCA(caPEM []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.caPEM = caPEM
}

func (p *Platform) ca() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caPEM
}

// engineClient returns the secret engine client, building it on first use.
func (p *Platform) engineClient() (*vault.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.vault != nil {
		return p.vault, nil
	}
	client, err := vault.NewClient(vault.Config{
		Addr:    p.cfg.VaultAddr,
		CACert:  p.caPEM,
		Timeout: 30 * time.Second,
	}, p.log.WithName("vault"))
	if err != nil {
		return nil, err
	}
	p.vault = client
	return client, nil
}

// initManager returns the one-time initialization manager.
func (p *Platform) initManager() (*initmgr.Manager, error) {
	p.mu.Lock()
	if p.init != nil {
		defer p.mu.Unlock()
		return p.init, nil
	}
	p.mu.Unlock()

	engine, err := p.engineClient()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.init == nil {
		p.init = initmgr.NewManager(engine, p.kube, p.cfg.StateDir, p.log.WithName("init"))
	}
	return p.init, nil
}

// idpClient returns the identity provider admin client.
func (p *Platform) idpClient() (*keycloak.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.keycloak != nil {
		return p.keycloak, nil
	}

	httpClient, err := newPinnedHTTPClient(p.caPEM)
	if err != nil {
		return nil, err
	}
	client, err := keycloak.NewClient(keycloak.Config{
		BaseURL:       p.cfg.KeycloakURL,
		AdminUser:     p.cfg.KeycloakAdminUser,
		AdminPassword: p.cfg.KeycloakAdminPassword,
		HTTPClient:    httpClient,
	}, p.log.WithName("keycloak"))
	if err != nil {
		return nil, err
	}
	p.keycloak = client
	return client, nil
}

// brokerClient returns the session broker client.
func (p *Platform) brokerClient() (*boundary.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.boundary != nil {
		return p.boundary, nil
	}

	httpClient, err := newPinnedHTTPClient(p.caPEM)
	if err != nil {
		return nil, err
	}
	client, err := boundary.NewClient(boundary.Config{
		BaseURL:    p.cfg.BoundaryURL,
		HTTPClient: httpClient,
	}, p.log.WithName("boundary"))
	if err != nil {
		return nil, err
	}
	p.boundary = client
	return client, nil
}
