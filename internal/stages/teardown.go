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
	"fmt"
	"os"
	"path/filepath"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
	"github.com/dc-tec/platform-bootstrap/internal/probe"
	"github.com/dc-tec/platform-bootstrap/internal/sequencer"
)

// TeardownStages dismantles the platform in reverse bring-up order. The
// initialization record survives unless purgeCredentials is set; without it
// a re-initialized engine cannot be unsealed against old raft data.
func (p *Platform) TeardownStages(purgeCredentials bool) []sequencer.Stage {
	namespaces := []string{
		constants.NamespaceWorkloads,
		constants.NamespaceMinio,
		constants.NamespaceBoundary,
		constants.NamespaceKeycloak,
		constants.NamespaceVault,
	}

	stages := make([]sequencer.Stage, 0, len(namespaces)+1)
	previous := ""
	for _, namespace := range namespaces {
		stage := sequencer.Stage{
			Name: "delete-" + namespace,
			Action: func(ctx context.Context, rc *sequencer.RunContext) error {
				return p.kube.DeleteNamespace(ctx, namespace)
			},
			Ready: func(rc *sequencer.RunContext) probe.Check {
				return probe.CheckFunc("namespace "+namespace+" gone", func(ctx context.Context) error {
					gone, err := p.kube.NamespaceGone(ctx, namespace)
					if err != nil {
						return err
					}
					if !gone {
						return fmt.Errorf("namespace %s still terminating", namespace)
					}
					return nil
				})
			},
			ReadyInterval: constants.ProbeIntervalShort,
			ReadyTimeout:  constants.ReadyTimeoutStandard,
		}
		if previous != "" {
			stage.Requires = []string{previous}
		}
		stages = append(stages, stage)
		previous = stage.Name
	}

	stages = append(stages, sequencer.Stage{
		Name:     "scrub-state",
		Requires: []string{previous},
		Action: func(ctx context.Context, rc *sequencer.RunContext) error {
			return p.scrubState(ctx, purgeCredentials)
		},
	})
	return stages
}

func (p *Platform) scrubState(ctx context.Context, purgeCredentials bool) error {
	if err := os.RemoveAll(filepath.Join(p.cfg.StateDir, "scratch")); err != nil {
		return fmt.Errorf("failed to remove scratch state: %w", err)
	}
	if !purgeCredentials {
		return nil
	}

	manager, err := p.initManager()
	if err != nil {
		return err
	}
	return manager.PurgeCredentials(ctx)
}

// VerifyChecks returns the composite health probes for a deployed platform,
// one per service surface.
func (p *Platform) VerifyChecks(ctx context.Context) ([]probe.Check, error) {
	caPEM, err := p.certs.CACert(ctx, constants.NamespaceVault)
	if err != nil {
		return nil, fmt.Errorf("failed to load platform CA: %w", err)
	}
	p.setCA(caPEM)

	return []probe.Check{
		p.engineReady(nil),
		p.idpReady(nil),
		p.brokerReady(nil),
		&probe.TCPCheck{Addr: fmt.Sprintf("minio.%s:9000", p.cfg.Domain)},
		p.workloadsReady(nil),
	}, nil
}
