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

// Package kube wraps the cluster control-plane operations the orchestrator
// needs: idempotent apply, secret upsert, namespace lifecycle, and
// exec-in-container.
package kube

import (
	"fmt"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

var scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(apiextensionsv1.AddToScheme(scheme))
}

// Client bundles the typed controller-runtime client with the client-go
// clientset (needed for exec and log streaming subresources).
type Client struct {
	ctrl       client.Client
	clientset  kubernetes.Interface
	restConfig *rest.Config
}

// NewClient builds a Client from a rest.Config.
func NewClient(config *rest.Config) (*Client, error) {
	ctrlClient, err := client.New(config, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create controller-runtime client: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return &Client{
		ctrl:       ctrlClient,
		clientset:  clientset,
		restConfig: config,
	}, nil
}

// NewClientWith wires pre-built clients; used by tests with fakes.
func NewClientWith(ctrlClient client.Client, clientset kubernetes.Interface, config *rest.Config) *Client {
	return &Client{
		ctrl:       ctrlClient,
		clientset:  clientset,
		restConfig: config,
	}
}

// Reader exposes the underlying read interface for probes.
func (c *Client) Reader() client.Reader { return c.ctrl }

// APIServerHost returns the control-plane URL the client talks to.
func (c *Client) APIServerHost() string {
	if c.restConfig == nil {
		return ""
	}
	return c.restConfig.Host
}

// APIServerCA returns the control-plane CA bundle, if known.
func (c *Client) APIServerCA() []byte {
	if c.restConfig == nil {
		return nil
	}
	return c.restConfig.CAData
}

// Scheme returns the runtime scheme the client resolves kinds with.
func Scheme() *runtime.Scheme { return scheme }
