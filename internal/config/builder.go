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

// Package config renders service configuration files in HCL for the secret
// engine and the session broker.
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

const (
	tlsCertPath = "/etc/tls/tls.crt"
	tlsKeyPath  = "/etc/tls/tls.key"
	caCertPath  = "/etc/tls/ca.crt"

	workerTLSCertPath = "/etc/tls-worker/tls.crt"
	workerTLSKeyPath  = "/etc/tls-worker/tls.key"
)

type hclEngineCore struct {
	UI          bool   `hcl:"ui"`
	ClusterName string `hcl:"cluster_name"`
	APIAddr     string `hcl:"api_addr"`
	ClusterAddr string `hcl:"cluster_addr"`
}

// EngineConfig captures the topology facts needed to render a complete
// secret engine config.hcl.
type EngineConfig struct {
	ClusterName string
	Domain      string
	APIPort     int
	ClusterPort int
	DataPath    string
	TLSDisabled bool
}

// RenderEngineHCL renders the secret engine server configuration: a tcp
// listener, raft storage, and the address attributes.
func RenderEngineHCL(cfg EngineConfig) ([]byte, error) {
	if cfg.ClusterName == "" || cfg.Domain == "" {
		return nil, fmt.Errorf("cluster name and domain are required")
	}
	if cfg.APIPort <= 0 || cfg.ClusterPort <= 0 {
		return nil, fmt.Errorf("api and cluster ports must be positive")
	}
	if cfg.DataPath == "" {
		cfg.DataPath = "/vault/data"
	}

	file := hclwrite.NewEmptyFile()
	body := file.Body()

	scheme := "https"
	if cfg.TLSDisabled {
		scheme = "http"
	}
	gohcl.EncodeIntoBody(hclEngineCore{
		UI:          true,
		ClusterName: cfg.ClusterName,
		APIAddr:     fmt.Sprintf("%s://vault.%s:%d", scheme, cfg.Domain, cfg.APIPort),
		ClusterAddr: fmt.Sprintf("https://vault.%s:%d", cfg.Domain, cfg.ClusterPort),
	}, body)

	listener := hclwrite.NewBlock("listener", []string{"tcp"})
	listenerBody := listener.Body()
	listenerBody.SetAttributeValue("address", cty.StringVal(fmt.Sprintf("0.0.0.0:%d", cfg.APIPort)))
	if cfg.TLSDisabled {
		listenerBody.SetAttributeValue("tls_disable", cty.True)
	} else {
		listenerBody.SetAttributeValue("tls_cert_file", cty.StringVal(tlsCertPath))
		listenerBody.SetAttributeValue("tls_key_file", cty.StringVal(tlsKeyPath))
		listenerBody.SetAttributeValue("tls_client_ca_file", cty.StringVal(caCertPath))
	}
	body.AppendBlock(listener)

	storage := hclwrite.NewBlock("storage", []string{"raft"})
	storageBody := storage.Body()
	storageBody.SetAttributeValue("path", cty.StringVal(cfg.DataPath))
	storageBody.SetAttributeValue("node_id", cty.StringVal(cfg.ClusterName+"-0"))
	body.AppendBlock(storage)

	return file.Bytes(), nil
}

// BrokerConfig captures what the session broker config needs. The broker
// runs combined: one process hosting both the controller and a worker.
type BrokerConfig struct {
	Name          string
	Domain        string
	APIPort       int
	ClusterPort   int
	ProxyPort     int
	DatabaseURL   string
	RecordingPath string
}

// RenderBrokerHCL renders the session broker configuration: controller with
// its database, a colocated worker, and api/cluster/proxy listeners.
func RenderBrokerHCL(cfg BrokerConfig) ([]byte, error) {
	if cfg.Name == "" || cfg.Domain == "" {
		return nil, fmt.Errorf("broker name and domain are required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if cfg.ProxyPort <= 0 {
		cfg.ProxyPort = 9202
	}

	file := hclwrite.NewEmptyFile()
	body := file.Body()

	body.SetAttributeValue("disable_mlock", cty.True)

	controller := hclwrite.NewBlock("controller", nil)
	controllerBody := controller.Body()
	controllerBody.SetAttributeValue("name", cty.StringVal(cfg.Name))
	controllerBody.SetAttributeValue("public_cluster_addr",
		cty.StringVal(fmt.Sprintf("boundary.%s:%d", cfg.Domain, cfg.ClusterPort)))
	database := hclwrite.NewBlock("database", nil)
	database.Body().SetAttributeValue("url", cty.StringVal(cfg.DatabaseURL))
	controllerBody.AppendBlock(database)
	body.AppendBlock(controller)

	worker := hclwrite.NewBlock("worker", nil)
	workerBody := worker.Body()
	workerBody.SetAttributeValue("name", cty.StringVal(cfg.Name+"-worker"))
	workerBody.SetAttributeValue("public_addr",
		cty.StringVal(fmt.Sprintf("boundary-worker.%s:%d", cfg.Domain, cfg.ProxyPort)))
	workerBody.SetAttributeValue("initial_upstreams",
		cty.ListVal([]cty.Value{cty.StringVal(fmt.Sprintf("127.0.0.1:%d", cfg.ClusterPort))}))
	if cfg.RecordingPath != "" {
		workerBody.SetAttributeValue("recording_storage_path", cty.StringVal(cfg.RecordingPath))
	}
	body.AppendBlock(worker)

	apiListener := hclwrite.NewBlock("listener", []string{"tcp"})
	apiBody := apiListener.Body()
	apiBody.SetAttributeValue("address", cty.StringVal(fmt.Sprintf("0.0.0.0:%d", cfg.APIPort)))
	apiBody.SetAttributeValue("purpose", cty.StringVal("api"))
	apiBody.SetAttributeValue("tls_cert_file", cty.StringVal(tlsCertPath))
	apiBody.SetAttributeValue("tls_key_file", cty.StringVal(tlsKeyPath))
	body.AppendBlock(apiListener)

	clusterListener := hclwrite.NewBlock("listener", []string{"tcp"})
	clusterBody := clusterListener.Body()
	clusterBody.SetAttributeValue("address", cty.StringVal(fmt.Sprintf("0.0.0.0:%d", cfg.ClusterPort)))
	clusterBody.SetAttributeValue("purpose", cty.StringVal("cluster"))
	body.AppendBlock(clusterListener)

	proxyListener := hclwrite.NewBlock("listener", []string{"tcp"})
	proxyBody := proxyListener.Body()
	proxyBody.SetAttributeValue("address", cty.StringVal(fmt.Sprintf("0.0.0.0:%d", cfg.ProxyPort)))
	proxyBody.SetAttributeValue("purpose", cty.StringVal("proxy"))
	proxyBody.SetAttributeValue("tls_cert_file", cty.StringVal(workerTLSCertPath))
	proxyBody.SetAttributeValue("tls_key_file", cty.StringVal(workerTLSKeyPath))
	body.AppendBlock(proxyListener)

	if cfg.RecordingPath != "" {
		events := hclwrite.NewBlock("events", nil)
		eventsBody := events.Body()
		eventsBody.SetAttributeValue("audit_enabled", cty.True)
		sink := hclwrite.NewBlock("sink", []string{"stderr"})
		sink.Body().SetAttributeValue("format", cty.StringVal("cloudevents-json"))
		eventsBody.AppendBlock(sink)
		body.AppendBlock(events)
	}

	return file.Bytes(), nil
}
