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

package config

import (
	"regexp"
	"strings"
	"testing"
)

var spaceRun = regexp.MustCompile(`[ \t]+`)

// collapse normalizes hclwrite's column alignment so assertions do not
// depend on padding.
func collapse(s string) string {
	return spaceRun.ReplaceAllString(s, " ")
}

func TestRenderEngineHCL(t *testing.T) {
	out, err := RenderEngineHCL(EngineConfig{
		ClusterName: "platform",
		Domain:      "hashicorp.lab",
		APIPort:     8200,
		ClusterPort: 8201,
	})
	if err != nil {
		t.Fatalf("RenderEngineHCL() error = %v", err)
	}
	rendered := collapse(string(out))

	for _, want := range []string{
		`api_addr = "https://vault.hashicorp.lab:8200"`,
		`cluster_addr = "https://vault.hashicorp.lab:8201"`,
		`listener "tcp"`,
		`address = "0.0.0.0:8200"`,
		`tls_cert_file = "/etc/tls/tls.crt"`,
		`storage "raft"`,
		`node_id = "platform-0"`,
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered config missing %q:\n%s", want, rendered)
		}
	}
}

func TestRenderEngineHCLTLSDisabled(t *testing.T) {
	out, err := RenderEngineHCL(EngineConfig{
		ClusterName: "platform",
		Domain:      "hashicorp.lab",
		APIPort:     8200,
		ClusterPort: 8201,
		TLSDisabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	rendered := collapse(string(out))
	if !strings.Contains(rendered, "tls_disable = true") {
		t.Errorf("rendered config missing tls_disable:\n%s", rendered)
	}
	if strings.Contains(rendered, "tls_cert_file") {
		t.Errorf("TLS-disabled config still references certificates:\n%s", rendered)
	}
	if !strings.Contains(rendered, `api_addr = "http://vault.hashicorp.lab:8200"`) {
		t.Errorf("TLS-disabled config should advertise http:\n%s", rendered)
	}
}

func TestRenderEngineHCLValidation(t *testing.T) {
	if _, err := RenderEngineHCL(EngineConfig{Domain: "hashicorp.lab", APIPort: 8200, ClusterPort: 8201}); err == nil {
		t.Error("missing cluster name accepted")
	}
	if _, err := RenderEngineHCL(EngineConfig{ClusterName: "platform", Domain: "hashicorp.lab"}); err == nil {
		t.Error("zero ports accepted")
	}
}

func TestRenderBrokerHCL(t *testing.T) {
	out, err := RenderBrokerHCL(BrokerConfig{
		Name:        "boundary",
		Domain:      "hashicorp.lab",
		APIPort:       9200,
		ClusterPort:   9201,
		DatabaseURL:   "postgresql://boundary@postgres.boundary.svc:5432/boundary",
		RecordingPath: "/boundary/events",
	})
	if err != nil {
		t.Fatalf("RenderBrokerHCL() error = %v", err)
	}
	rendered := collapse(string(out))

	for _, want := range []string{
		"controller {",
		`public_cluster_addr = "boundary.hashicorp.lab:9201"`,
		`purpose = "api"`,
		`purpose = "cluster"`,
		`purpose = "proxy"`,
		"worker {",
		`public_addr = "boundary-worker.hashicorp.lab:9202"`,
		`tls_cert_file = "/etc/tls-worker/tls.crt"`,
		`recording_storage_path = "/boundary/events"`,
		"database {",
		`url = "postgresql://boundary@postgres.boundary.svc:5432/boundary"`,
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered config missing %q:\n%s", want, rendered)
		}
	}
}

func TestRenderBrokerHCLRequiresDatabase(t *testing.T) {
	_, err := RenderBrokerHCL(BrokerConfig{Name: "boundary", Domain: "hashicorp.lab"})
	if err == nil {
		t.Error("missing database URL accepted")
	}
}
